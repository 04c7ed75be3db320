package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/advisor/internal/identity"
	"github.com/keyxmakerx/advisor/internal/middleware"
)

// contextKeyState is the Echo context key holding the *RequestState.
const contextKeyState = "auth_state"

// ForwardedHeaders are the identity provider response headers that may
// reach the browser. Everything else the provider sends is dropped.
var ForwardedHeaders = []string{"Content-Range", "X-Supabase-Api-Version"}

// ClientFactory builds the identity client bound to one request.
type ClientFactory func(c echo.Context) IdentityClient

// GuardConfig configures Guard.
type GuardConfig struct {
	// NewClient builds the per-request identity client.
	NewClient ClientFactory

	// Resolver validates the stored session.
	Resolver *Resolver

	// Policy classifies paths. Defaults to DefaultPolicy().
	Policy *Policy

	// Skipper bypasses resolution entirely (static assets, probes).
	Skipper func(c echo.Context) bool
}

// Guard returns middleware that resolves the request identity once, stores
// it for handlers, and enforces the route policy. On a redirect the
// downstream handler is never executed.
func Guard(cfg GuardConfig) echo.MiddlewareFunc {
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver(nil)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			client := cfg.NewClient(c)
			state := NewRequestState(client, cfg.Resolver)
			SetState(c, state)

			// Provider headers gathered by any call made during this request
			// are filtered when the response is committed.
			c.Response().Before(func() {
				middleware.ForwardHeaders(c.Response().Header(), client.ResponseHeaders(), ForwardedHeaders)
			})

			req := c.Request()
			result := state.Resolve(req.Context())
			if result.Authenticated() {
				c.SetRequest(req.WithContext(WithAccessToken(req.Context(), result.Session.AccessToken)))
			}

			switch cfg.Policy.Classify(req.URL.Path) {
			case Protected:
				if !result.Authenticated() {
					return handleUnauthenticated(c)
				}
			case AuthOnly:
				if result.Authenticated() {
					return redirect(c, "/")
				}
			}

			return next(c)
		}
	}
}

// handleUnauthenticated returns the appropriate response for unauthenticated
// requests: redirect for browsers, 401 JSON for API clients.
func handleUnauthenticated(c echo.Context) error {
	if isAPIRequest(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":   "unauthorized",
			"message": "authentication required",
		})
	}
	return redirect(c, "/login")
}

// redirect sends HTMX clients an HX-Redirect header and browsers a 303.
func redirect(c echo.Context, to string) error {
	if c.Request().Header.Get("HX-Request") == "true" {
		c.Response().Header().Set("HX-Redirect", to)
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, to)
}

// --- Exported getters for other plugins ---

// SetState attaches state to the request. The guard calls it; handlers
// mounted without the guard may too.
func SetState(c echo.Context, state *RequestState) {
	c.Set(contextKeyState, state)
}

// GetState returns the request's auth state, or nil when the guard did not
// run for this path.
func GetState(c echo.Context) *RequestState {
	state, _ := c.Get(contextKeyState).(*RequestState)
	return state
}

// GetUser returns the validated user, or nil for anonymous requests.
func GetUser(c echo.Context) *identity.User {
	state := GetState(c)
	if state == nil {
		return nil
	}
	return state.Resolve(c.Request().Context()).User
}

// GetSession returns the validated session, or nil for anonymous requests.
func GetSession(c echo.Context) *identity.Session {
	state := GetState(c)
	if state == nil {
		return nil
	}
	return state.Resolve(c.Request().Context()).Session
}

// GetUserID returns the validated user's ID, or "".
func GetUserID(c echo.Context) string {
	if u := GetUser(c); u != nil {
		return u.ID
	}
	return ""
}

// isAPIRequest returns true if the request targets the /api/ path.
func isAPIRequest(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/")
}
