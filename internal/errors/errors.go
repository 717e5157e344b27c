// Package errors defines the error envelope returned to HTTP clients and
// the base singletons handlers reuse.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is an error that can be written to a client as JSON.
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	underlying error
}

func (e *APIError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.underlying }

// WriteJSON writes the error as JSON to the response. Base singletons are
// pre-serialized to skip the encoder.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrBadRequest = &APIError{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
	}

	ErrUnauthorized = &APIError{
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized",
	}

	ErrNotFound = &APIError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrTooManyRequests = &APIError{
		Code:    http.StatusTooManyRequests,
		Message: "Too Many Requests",
	}

	ErrInternalServer = &APIError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}

	ErrServiceUnavailable = &APIError{
		Code:    http.StatusServiceUnavailable,
		Message: "Service Unavailable",
	}
)

var preSerialized map[*APIError][]byte

func init() {
	bases := []*APIError{
		ErrBadRequest, ErrUnauthorized, ErrNotFound,
		ErrTooManyRequests, ErrInternalServer, ErrServiceUnavailable,
	}
	preSerialized = make(map[*APIError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new APIError.
func New(code int, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// Wrap wraps an error with a client-facing code and message.
func Wrap(err error, code int, message string) *APIError {
	return &APIError{Code: code, Message: message, underlying: err}
}

// WithDetails returns a copy of the error with details attached.
func (e *APIError) WithDetails(details string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		underlying: e.underlying,
	}
}
