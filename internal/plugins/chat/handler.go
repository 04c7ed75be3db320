package chat

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/advisor/internal/gateway"
	"github.com/keyxmakerx/advisor/internal/middleware"
	"github.com/keyxmakerx/advisor/internal/plugins/auth"
)

// maxMemory is how much of a multipart body is held in memory; larger
// attachments spill to temporary files.
const maxMemory = 8 << 20

// Handler serves the chat pages and the message action. The guard has
// already rejected anonymous requests for every route here.
type Handler struct {
	stores *Registry
	logger *slog.Logger
}

// NewHandler creates a new chat handler.
func NewHandler(stores *Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{stores: stores, logger: logger}
}

// Home renders the chat page (GET /). ?session=<id> selects a session,
// ?reload=1 bypasses the detail cache and ?new=1 starts a new thread.
func (h *Handler) Home(c echo.Context) error {
	store := h.stores.For(auth.GetUserID(c))
	ctx := c.Request().Context()
	reload := c.QueryParam("reload") == "1"

	if err := store.InitializeChat(ctx); err != nil {
		h.logger.Warn("loading sessions failed", slog.Any("error", err))
	}

	switch {
	case c.QueryParam("new") == "1":
		store.Deselect()
	case c.QueryParam("session") != "":
		id := c.QueryParam("session")
		if reload {
			store.Forget(ctx, id)
		}
		if _, err := store.SelectSession(ctx, id, reload); err != nil {
			h.logger.Warn("loading session failed", slog.String("session_id", id), slog.Any("error", err))
		}
	case reload:
		if err := store.RefreshSessions(ctx); err != nil {
			h.logger.Warn("refreshing sessions failed", slog.Any("error", err))
		}
		if id := store.SelectedID(); id != "" {
			store.Forget(ctx, id)
			_, _ = store.LoadSessionDetail(ctx, id, true)
		}
	}

	snap := store.Snapshot()
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, snap)
	}
	return middleware.Render(c, http.StatusOK, HomePage(snap, FormState{}))
}

// Send handles the message form (POST /). The message is required,
// attachments must be PDF, PNG or JPEG, and the backend's status and detail
// are passed back on failure.
func (h *Handler) Send(c echo.Context) error {
	message := strings.TrimSpace(c.FormValue("message"))
	threadID := c.FormValue("thread_id")
	if message == "" {
		return h.fail(c, http.StatusBadRequest, MsgMessageRequired, FormState{ThreadID: threadID})
	}
	form := FormState{Message: message, ThreadID: threadID}

	session := auth.GetSession(c)
	if session == nil {
		return redirect(c, "/login")
	}

	headers, err := attachments(c)
	if err != nil {
		return h.fail(c, http.StatusBadRequest, MsgSendFailed, form)
	}
	for _, fh := range headers {
		if !IsAllowedFile(fh.Filename, fh.Header.Get("Content-Type")) {
			return h.fail(c, http.StatusUnsupportedMediaType, MsgUnsupportedFile, form)
		}
	}

	files := make([]gateway.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return h.fail(c, http.StatusBadRequest, MsgSendFailed, form)
		}
		defer f.Close()
		files = append(files, gateway.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     f,
		})
	}

	store := h.stores.For(auth.GetUserID(c))
	resp, err := store.SendChatMessage(c.Request().Context(), SendRequest{
		Message:   message,
		ThreadID:  strings.TrimSpace(threadID),
		NewThread: strings.TrimSpace(threadID) == "",
		Files:     files,
	})
	if err != nil {
		if apiErr, ok := gateway.AsError(err); ok {
			return h.fail(c, apiErr.Status, apiErr.Message(MsgSendFailed), form)
		}
		h.logger.Error("sending message failed", slog.Any("error", err))
		return h.fail(c, http.StatusInternalServerError, MsgSendFailed, form)
	}
	if resp == nil {
		return h.fail(c, http.StatusConflict, MsgSendInFlight, form)
	}

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, SendResponse{Success: true, ThreadID: resp.ThreadID})
	}
	return redirect(c, "/?session="+url.QueryEscape(resp.ThreadID))
}

// Timeline renders the timeline payloads (GET /timeline, /timeline/:id).
// Without an id the selected session is shown.
func (h *Handler) Timeline(c echo.Context) error {
	store := h.stores.For(auth.GetUserID(c))
	ctx := c.Request().Context()

	if err := store.InitializeChat(ctx); err != nil {
		h.logger.Warn("loading sessions failed", slog.Any("error", err))
	}

	var detail *gateway.SessionDetail
	if id := c.Param("id"); id != "" {
		d, err := store.SelectSession(ctx, id, c.QueryParam("reload") == "1")
		if err != nil {
			if apiErr, ok := gateway.AsError(err); ok && apiErr.Status == http.StatusNotFound {
				return echo.NewHTTPError(http.StatusNotFound, "session not found")
			}
			h.logger.Warn("loading session failed", slog.String("session_id", id), slog.Any("error", err))
		}
		detail = d
	} else {
		detail = store.SelectedDetail()
	}

	snap := store.Snapshot()
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, detail)
	}
	return middleware.Render(c, http.StatusOK, TimelinePage(snap, detail))
}

// fail answers a rejected message: JSON clients get {success:false,message},
// browsers get the page again with the form refilled.
func (h *Handler) fail(c echo.Context, status int, message string, form FormState) error {
	if middleware.WantsJSON(c) {
		return c.JSON(status, FailResponse{Success: false, Message: message})
	}
	form.Error = message
	snap := h.stores.For(auth.GetUserID(c)).Snapshot()
	return middleware.Render(c, status, HomePage(snap, form))
}

// attachments returns the uploaded files. Empty file inputs, which browsers
// submit with no name and no content, are skipped.
func attachments(c echo.Context) ([]*multipart.FileHeader, error) {
	if !strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return nil, nil
	}
	if err := c.Request().ParseMultipartForm(maxMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}
	form := c.Request().MultipartForm
	if form == nil {
		return nil, nil
	}
	var out []*multipart.FileHeader
	for _, fh := range form.File["files"] {
		if fh.Filename == "" && fh.Size == 0 {
			continue
		}
		out = append(out, fh)
	}
	return out, nil
}

// redirect sends HTMX clients an HX-Redirect header and browsers a 303.
func redirect(c echo.Context, to string) error {
	if c.Request().Header.Get("HX-Request") == "true" {
		c.Response().Header().Set("HX-Redirect", to)
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, to)
}
