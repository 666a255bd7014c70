package httpapi

import (
	"encoding/json"
	"net/http"

	"browserd/pkg/types"
)

// HTTPError lets the engine attach an HTTP status to an error.
type HTTPError interface {
	error
	StatusCode() int
}

// TypedError additionally carries the OpenAI error-type string.
type TypedError interface {
	HTTPError
	ErrType() string
}

// writeOpenAIError maps err onto the OpenAI error envelope. Unclassified
// errors fall back to a 500 server_error.
func writeOpenAIError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody(err)
	if he, ok := err.(HTTPError); ok {
		status = he.StatusCode()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody renders err as the envelope without writing a status, for
// mid-stream error frames.
func errorBody(err error) types.ErrorBody {
	errType := "server_error"
	if te, ok := err.(TypedError); ok {
		errType = te.ErrType()
	}
	return types.ErrorBody{Error: types.ErrorDetail{
		Message: err.Error(),
		Type:    errType,
		Code:    codeOf(err),
	}}
}

// codeOf pulls the stable taxonomy code off a classified error.
func codeOf(err error) string {
	type coded interface{ TaxonomyCode() string }
	if c, ok := err.(coded); ok {
		return c.TaxonomyCode()
	}
	return "INTERNAL_ERROR"
}

// writeJSONError is the fallback for transport-level failures that never
// reached the engine (bad JSON, oversized body, wrong content type).
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorBody{Error: types.ErrorDetail{
		Message: msg,
		Type:    "invalid_request",
		Code:    http.StatusText(status),
	}})
}
