package chat

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/advisor/internal/middleware"
)

// RegisterRoutes sets up the chat routes. All of them are protected by the
// guard's policy. Sends are rate-limited per IP since each one costs a
// backend model call.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/", h.Home)
	e.POST("/", h.Send, middleware.RateLimit(30, time.Minute))
	e.GET("/timeline", h.Timeline)
	e.GET("/timeline/:id", h.Timeline)
}
