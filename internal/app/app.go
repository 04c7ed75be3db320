// Package app is the application bootstrap and dependency injection root.
// It creates and holds the shared infrastructure (identity factory, gateway
// client, optional MariaDB and Redis, Echo instance) and wires the plugins.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/advisor/internal/apperror"
	"github.com/keyxmakerx/advisor/internal/config"
	"github.com/keyxmakerx/advisor/internal/cookies"
	"github.com/keyxmakerx/advisor/internal/identity"
	"github.com/keyxmakerx/advisor/internal/middleware"
	"github.com/keyxmakerx/advisor/internal/plugins/auth"
	"github.com/keyxmakerx/advisor/internal/plugins/chat"
	"github.com/keyxmakerx/advisor/internal/templates/pages"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB pool backing the auth event log. nil disables it.
	DB *sql.DB

	// Redis backs the shared session detail cache. nil selects the
	// in-process cache.
	Redis *redis.Client

	// Identity builds per-request identity provider clients.
	Identity *identity.Factory

	// Registry collects the Prometheus metrics served on /metrics.
	Registry *prometheus.Registry

	// Chats holds the per-user chat stores. Set by RegisterRoutes.
	Chats *chat.Registry

	// Echo is the HTTP server instance.
	Echo *echo.Echo
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling. db and rdb may
// be nil.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) *App {
	e := echo.New()

	// We log our own startup line.
	e.HideBanner = true
	e.HidePort = true

	// c.RealIP() must return the client, not the reverse proxy: rate limits
	// and the auth event log key on it.
	middleware.TrustedProxies(e, middleware.DefaultTrustedProxies)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app := &App{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Identity: identity.NewFactory(cfg.Identity),
		Registry: reg,
		Echo:     e,
	}

	app.setupMiddleware()

	e.HTTPErrorHandler = app.errorHandler

	// Serve static files (CSS, JS, fonts).
	e.Static("/static", "static")

	return app
}

// NewIdentityClient builds the identity client bound to the request's
// cookies. Every plugin that talks to the provider for a request goes
// through this so writes land on that request's response.
func (a *App) NewIdentityClient(c echo.Context) auth.IdentityClient {
	return a.Identity.ForCookies(cookies.New(c))
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first, the auth guard runs last
// so it sees the CSRF token and request ID.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	a.Echo.Use(middleware.RequestID())
	a.Echo.Use(middleware.RequestLogger())
	a.Echo.Use(middleware.NewMetrics(a.Registry).Middleware())

	// CSP allows connections to the identity provider for the browser client.
	a.Echo.Use(middleware.SecurityHeaders(a.Config.Identity.URL))

	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))

	// Caps attachment uploads before anything parses the body.
	a.Echo.Use(middleware.BodyLimit(a.Config.Upload.MaxSize))

	// The guard runs before CSRF so anonymous requests to protected routes
	// are redirected to /login whatever their method.
	a.Echo.Use(auth.Guard(auth.GuardConfig{
		NewClient: a.NewIdentityClient,
		Resolver:  auth.NewResolver(slog.Default()),
		Policy:    auth.DefaultPolicy(),
		Skipper:   skipIdentity,
	}))

	// CSRF -- double-submit cookie pattern on all state-changing requests,
	// including the session sync endpoint.
	a.Echo.Use(middleware.CSRF())
}

// skipIdentity bypasses session resolution for requests that never need
// it: static assets and probes.
func skipIdentity(c echo.Context) bool {
	path := c.Request().URL.Path
	return strings.HasPrefix(path, "/static/") || path == "/healthz" || path == "/metrics"
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to appropriate HTTP responses, and renders error pages for
// browser requests or JSON for API clients.
//
// For HTMX partial requests that hit errors, we set HX-Retarget and
// HX-Reswap headers so the error page replaces the full body instead of
// being swapped into a partial target.
//
// For 401 errors on browser requests, we redirect to the login page.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "An unexpected error occurred"

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message

		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
				slog.String("request_id", middleware.GetRequestID(c.Request().Context())),
			)
		}
	} else {
		// Echo's built-in HTTP errors (404 from the router, 413 from
		// BodyLimit, 403 from CSRF).
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			} else {
				message = defaultErrorMessage(code)
			}
		} else {
			slog.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
				slog.String("request_id", middleware.GetRequestID(c.Request().Context())),
			)
		}
	}

	if middleware.WantsJSON(c) {
		_ = c.JSON(code, map[string]string{
			"error":   http.StatusText(code),
			"message": message,
		})
		return
	}

	// For HTMX requests, redirect to login on 401 so the browser navigates
	// instead of swapping error HTML into a fragment target.
	if isHTMXRequest(c) {
		if code == http.StatusUnauthorized {
			c.Response().Header().Set("HX-Redirect", "/login")
			_ = c.NoContent(http.StatusNoContent)
			return
		}
		c.Response().Header().Set("HX-Retarget", "body")
		c.Response().Header().Set("HX-Reswap", "innerHTML")
	}

	if code == http.StatusUnauthorized {
		_ = c.Redirect(http.StatusSeeOther, "/login")
		return
	}

	_ = middleware.Render(c, code, pages.ErrorPage(code, message))
}

// defaultErrorMessage returns a user-friendly message for common HTTP status codes
// when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to log in to access this page."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist or has been moved."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusConflict:
		return "This action conflicts with the current state."
	case http.StatusRequestEntityTooLarge:
		return "The upload is too large."
	case http.StatusUnsupportedMediaType:
		return "This file type is not supported."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusInternalServerError:
		return "Something went wrong on our end. Please try again."
	case http.StatusBadGateway:
		return "The server received an invalid response."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "An unexpected error occurred."
	}
}

// isHTMXRequest returns true if the request was initiated by HTMX.
func isHTMXRequest(c echo.Context) bool {
	return c.Request().Header.Get("HX-Request") == "true"
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting advisor web server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
