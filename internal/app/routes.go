package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyxmakerx/advisor/internal/gateway"
	"github.com/keyxmakerx/advisor/internal/middleware"
	"github.com/keyxmakerx/advisor/internal/plugins/audit"
	"github.com/keyxmakerx/advisor/internal/plugins/auth"
	"github.com/keyxmakerx/advisor/internal/plugins/chat"
	"github.com/keyxmakerx/advisor/internal/templates/layouts"
)

// storeIdleTimeout is how long a user's chat store survives without a
// request.
const storeIdleTimeout = 30 * time.Minute

// RegisterRoutes sets up all application routes. It registers the probes
// directly and delegates to each plugin's route registration function.
//
// This is the single place where all routes are aggregated. Access rules
// are not attached here; the auth guard's policy owns them.
func (a *App) RegisterRoutes() {
	e := a.Echo

	middleware.LayoutInjector = injectLayout

	e.GET("/healthz", a.healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	// --- Audit plugin (optional, needs MariaDB) ---
	var recorder auth.EventRecorder
	if a.DB != nil {
		auditService := audit.NewAuditService(audit.NewAuditRepository(a.DB), slog.Default())
		audit.RegisterRoutes(e, audit.NewHandler(auditService))
		recorder = auditService
	}

	// --- Chat plugin ---
	api := gateway.New(a.Config.API.BaseURL, auth.ContextTokens{},
		gateway.WithHTTPClient(&http.Client{Timeout: a.Config.API.Timeout}),
	)
	a.Chats = chat.NewRegistry(api, a.detailCache(), a.Config.API.SessionListLimit, storeIdleTimeout, slog.Default())
	chat.RegisterRoutes(e, chat.NewHandler(a.Chats, slog.Default()))

	// --- Auth plugin ---
	authHandler := auth.NewHandler(auth.NewService(recorder), a.NewIdentityClient)
	authHandler.OnSignOut(a.Chats.Drop)
	auth.RegisterRoutes(e, authHandler)
}

// detailCache shares session details through Redis when it is configured
// and keeps them in process otherwise.
func (a *App) detailCache() chat.DetailCache {
	if a.Redis != nil {
		return chat.NewRedisCache(a.Redis, a.Config.Redis.DetailTTL)
	}
	return chat.NewMemoryCache(a.Config.Redis.DetailTTL)
}

// healthz reports liveness plus the state of the optional stores.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if a.DB != nil {
		body["mariadb"] = "ok"
		if err := a.DB.PingContext(ctx); err != nil {
			body["mariadb"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if a.Redis != nil {
		body["redis"] = "ok"
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			body["redis"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	return c.JSON(status, body)
}

// injectLayout copies the guard's identity, the CSRF token and any queued
// flash message into the context the layout components read.
func injectLayout(c echo.Context, ctx context.Context) context.Context {
	ctx = layouts.SetCSRFToken(ctx, middleware.GetCSRFToken(c))
	ctx = layouts.SetActivePath(ctx, c.Request().URL.Path)
	switch kind, msg := middleware.TakeFlash(c); kind {
	case middleware.FlashSuccess:
		ctx = layouts.SetFlashSuccess(ctx, msg)
	case middleware.FlashError:
		ctx = layouts.SetFlashError(ctx, msg)
	}
	if user := auth.GetUser(c); user != nil {
		ctx = layouts.SetIsAuthenticated(ctx, true)
		ctx = layouts.SetUserID(ctx, user.ID)
		ctx = layouts.SetUserEmail(ctx, user.Email)
	}
	return ctx
}
