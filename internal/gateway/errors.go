package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is a non-2xx response from the backend.
type Error struct {
	Status     int
	StatusText string

	// Detail is the decoded JSON body, narrowed to its "detail" member when
	// the body is an object that has one. nil when the body was not JSON.
	Detail any
}

func (e *Error) Error() string {
	if msg := e.DetailString(); msg != "" {
		return fmt.Sprintf("backend: %d %s: %s", e.Status, e.StatusText, msg)
	}
	return fmt.Sprintf("backend: %d %s", e.Status, e.StatusText)
}

// DetailString returns Detail when it is a string, else "".
func (e *Error) DetailString() string {
	s, _ := e.Detail.(string)
	return s
}

// Message returns a human-readable description: the string detail when
// there is one, otherwise fallback.
func (e *Error) Message(fallback string) string {
	if s := e.DetailString(); s != "" {
		return s
	}
	return fallback
}

// AsError reports whether err is (or wraps) a backend *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// parseDetail decodes a failed response body. A JSON object with a
// "detail" key yields that member.
func parseDetail(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	if obj, ok := v.(map[string]any); ok {
		if d, has := obj["detail"]; has {
			return d
		}
	}
	return v
}
