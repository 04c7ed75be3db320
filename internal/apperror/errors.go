// Package apperror provides domain-specific error types for the advisor web
// app. These errors carry an HTTP status code and a user-safe message. The
// Echo error handler maps them to HTTP responses automatically.
//
// Never return raw upstream or infrastructure errors to the client. Wrap them
// in an AppError or return a generic internal error.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is the base error type for all domain errors.
type AppError struct {
	// Code is the HTTP status code (e.g., 404, 400, 500).
	Code int `json:"-"`

	// Type is a machine-readable error classifier (e.g., "not_found").
	Type string `json:"type"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// WithInternal attaches the underlying cause and returns the same error.
func (e *AppError) WithInternal(err error) *AppError {
	e.Internal = err
	return e
}

// New creates an AppError with an arbitrary status code. Used when the
// status is dictated by an upstream service.
func New(code int, errType, message string) *AppError {
	return &AppError{
		Code:    code,
		Type:    errType,
		Message: message,
	}
}

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return New(http.StatusNotFound, "not_found", message)
}

// NewBadRequest creates a 400 Bad Request error.
func NewBadRequest(message string) *AppError {
	return New(http.StatusBadRequest, "bad_request", message)
}

// NewUnauthorized creates a 401 Unauthorized error.
func NewUnauthorized(message string) *AppError {
	return New(http.StatusUnauthorized, "unauthorized", message)
}

// NewConflict creates a 409 Conflict error.
func NewConflict(message string) *AppError {
	return New(http.StatusConflict, "conflict", message)
}

// NewUnsupportedMediaType creates a 415 error for rejected attachments.
func NewUnsupportedMediaType(message string) *AppError {
	return New(http.StatusUnsupportedMediaType, "unsupported_media_type", message)
}

// NewUpstream creates an error that mirrors a failed backend response. Codes
// outside the 4xx/5xx range collapse to 502.
func NewUpstream(code int, message string, cause error) *AppError {
	if code < 400 || code > 599 {
		code = http.StatusBadGateway
	}
	return &AppError{
		Code:     code,
		Type:     "upstream_error",
		Message:  message,
		Internal: cause,
	}
}

// errMissingContext is the shared internal error for nil precondition checks.
var errMissingContext = errors.New("missing required context")

// NewMissingContext creates a 500 error for handler nil-context guards
// (request state not set, dependency not wired).
func NewMissingContext() *AppError {
	return NewInternal(errMissingContext)
}

// NewInternal creates a 500 Internal Server Error. The real error is stored
// in Internal for logging but the client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     "internal_error",
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// SafeMessage returns the client-safe message carried by err, or a generic
// message for anything that is not an AppError.
func SafeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "An unexpected error occurred"
}

// SafeCode returns the HTTP status code from an AppError, or 500 for
// any other error type.
func SafeCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
