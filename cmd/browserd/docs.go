package main

// General API documentation for swaggo. Build with -tags=swagger after
// generating docs.
//
// @title           browserd API
// @version         1.0
// @description     OpenAI-compatible HTTP gateway over browser-automation workers.
//
// @contact.name   browserd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
