package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/advisor/internal/middleware"
)

// RegisterRoutes sets up the auth routes. Access rules come from the guard's
// policy, not from per-route middleware: /login is auth-only, the rest is
// public.
//
// Credential and sync endpoints are rate-limited per IP.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/login", h.LoginForm)
	e.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	e.POST("/logout", h.Logout)

	e.GET("/auth/session", h.SessionStatus)
	e.POST("/auth/session", h.SyncSession, middleware.RateLimit(60, time.Minute))
}
