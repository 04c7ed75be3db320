package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/advisor/internal/apperror"
	"github.com/keyxmakerx/advisor/internal/middleware"
)

// maxSyncBody caps the sync endpoint payload; a token pair is a few KB.
const maxSyncBody = 64 << 10

// Handler handles HTTP requests for authentication: the session sync
// endpoint, login and logout. Handlers are thin: they bind the request,
// call the service, and render the response.
type Handler struct {
	service   AuthService
	newClient ClientFactory

	signOutHooks []func(userID string)
}

// NewHandler creates a new auth handler. newClient is used when the guard
// did not attach a request state.
func NewHandler(service AuthService, newClient ClientFactory) *Handler {
	return &Handler{service: service, newClient: newClient}
}

// OnSignOut registers fn to run with the verified user ID after that user
// signs out through logout or an empty session sync.
func (h *Handler) OnSignOut(fn func(userID string)) {
	h.signOutHooks = append(h.signOutHooks, fn)
}

// SyncSession mirrors the browser's identity session into server cookies
// (POST /auth/session).
func (h *Handler) SyncSession(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSyncBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, SyncResponse{Error: "could not read request body"})
	}

	var req SyncRequest
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return c.JSON(http.StatusBadRequest, SyncResponse{Error: "invalid JSON body"})
		}
	}

	uid := GetUserID(c)
	if err := h.service.SyncSession(c.Request().Context(), h.client(c), req.Session, requestMeta(c)); err != nil {
		return c.JSON(apperror.SafeCode(err), SyncResponse{Error: apperror.SafeMessage(err)})
	}
	if !req.Session.Complete() {
		h.signedOut(uid)
	}
	return c.JSON(http.StatusOK, SyncResponse{Success: true})
}

// SessionStatus reports whether the request cookies hold a valid session
// (GET /auth/session). The response also primes the CSRF cookie for
// clients that sync tokens later.
func (h *Handler) SessionStatus(c echo.Context) error {
	resp := StatusResponse{}
	if user := GetUser(c); user != nil {
		resp.Authenticated = true
		resp.UserID = user.ID
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, resp)
}

// LoginForm renders the login page (GET /login). Authenticated visitors
// never get here; the guard redirects them.
func (h *Handler) LoginForm(c echo.Context) error {
	return middleware.Render(c, http.StatusOK, LoginPage(middleware.GetCSRFToken(c), "", ""))
}

// Login processes the login form submission (POST /login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	_, err := h.service.SignIn(c.Request().Context(), h.client(c), req.Email, req.Password, requestMeta(c))
	if err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) || appErr.Code >= http.StatusInternalServerError {
			return err
		}
		// Re-render the form with the message; the email is kept.
		return middleware.Render(c, http.StatusOK, LoginPage(middleware.GetCSRFToken(c), req.Email, appErr.Message))
	}

	return redirect(c, "/")
}

// Logout signs out and returns to the login page (POST /logout).
func (h *Handler) Logout(c echo.Context) error {
	uid := GetUserID(c)
	if err := h.service.SignOut(c.Request().Context(), h.client(c), requestMeta(c)); err != nil {
		return err
	}
	h.signedOut(uid)
	middleware.SetFlash(c, middleware.FlashSuccess, "התנתקת מהחשבון")
	return redirect(c, "/login")
}

func (h *Handler) signedOut(userID string) {
	if userID == "" {
		return
	}
	for _, fn := range h.signOutHooks {
		fn(userID)
	}
}

// client returns the guard's per-request identity client, creating one if
// the guard was skipped for this path.
func (h *Handler) client(c echo.Context) IdentityClient {
	if state := GetState(c); state != nil {
		return state.Client
	}
	return h.newClient(c)
}

func requestMeta(c echo.Context) RequestMeta {
	return RequestMeta{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}
