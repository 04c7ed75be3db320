package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/advisor/internal/middleware"
	"github.com/keyxmakerx/advisor/internal/plugins/auth"
)

// Handler handles HTTP requests for the activity view. Handlers are thin:
// bind request, call service, render response.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

// Activity shows the signed-in user's recent auth events
// (GET /account/activity). JSON clients get the page as JSON.
func (h *Handler) Activity(c echo.Context) error {
	userID := auth.GetUserID(c)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	activity, err := h.service.GetUserActivity(c.Request().Context(), userID, page)
	if err != nil {
		return err
	}

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, activity)
	}
	return middleware.Render(c, http.StatusOK, ActivityView(activity))
}
