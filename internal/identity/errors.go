package identity

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionMissing is returned by operations that need a stored session
// when none exists.
var ErrSessionMissing = errors.New("auth session missing")

// Error is a non-2xx response from the provider.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider: %d: %s", e.Status, e.Message)
}

// IsAuthError reports whether err is a provider rejection of the
// credentials (as opposed to a transport failure or server error).
func IsAuthError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status >= 400 && e.Status < 500
}

// isIgnorableSignOut reports whether a logout failure means the session is
// already gone on the provider side.
func isIgnorableSignOut(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// errorBody covers the error shapes GoTrue has used across versions.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b errorBody) toError(status int) *Error {
	e := &Error{Status: status, Code: b.ErrorCode}
	if e.Code == "" {
		if s, ok := b.Code.(string); ok {
			e.Code = s
		}
	}
	for _, m := range []string{b.Msg, b.Message, b.ErrorDescription, b.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
