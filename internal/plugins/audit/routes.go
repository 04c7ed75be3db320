package audit

import "github.com/labstack/echo/v4"

// RegisterRoutes sets up the audit routes. /account/ is protected by the
// guard's policy.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/account/activity", h.Activity)
}
