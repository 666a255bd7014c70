//go:build !swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
)

// MountSwagger is a no-op in default builds. The swagger build tag is
// the hook for mounting generated API docs without pulling the docs
// toolchain into every binary.
func MountSwagger(r chi.Router) {}
