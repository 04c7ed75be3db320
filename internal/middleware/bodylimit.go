package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// BodyLimit rejects request bodies larger than maxBytes. It runs before
// anything parses the body (CSRF form lookup, multipart parsing), so an
// oversized upload is refused up front by Content-Length or cut off while
// streaming.
func BodyLimit(maxBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > maxBytes {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body too large; maximum is %d MB", maxBytes/(1024*1024)))
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)
			return next(c)
		}
	}
}
