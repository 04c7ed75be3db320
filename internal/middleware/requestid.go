package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// requestIDKey carries the request ID on the Go context for log records.
type requestIDKey struct{}

// RequestID returns middleware that assigns every request an ID, reusing
// a well-formed inbound X-Request-ID from the proxy when present.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}

			c.Response().Header().Set(echo.HeaderXRequestID, id)
			c.SetRequest(req.WithContext(context.WithValue(req.Context(), requestIDKey{}, id)))
			return next(c)
		}
	}
}

// GetRequestID returns the request ID stored on ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
