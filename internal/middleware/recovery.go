package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/advisor/internal/apperror"
)

// Recovery returns middleware that recovers from panics, logs the stack
// trace, and hands a 500 to the error handler so the client gets the usual
// error page or JSON body.
func Recovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (returnErr error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req := c.Request()
				slog.Error("panic recovered",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
					slog.String("method", req.Method),
					slog.String("path", req.URL.Path),
					slog.String("request_id", GetRequestID(req.Context())),
				)
				returnErr = apperror.NewInternal(fmt.Errorf("panic: %v", r))
			}()

			return next(c)
		}
	}
}
