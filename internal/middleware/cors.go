package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins is the list of origins permitted to make cross-origin
	// requests, e.g. ["https://advisor.example.com"]. "*" allows any origin
	// but disables credentials.
	AllowedOrigins []string

	// AllowCredentials lets the browser include cookies in cross-origin
	// requests.
	AllowCredentials bool
}

// corsAllowedHeaders are the request headers a cross-origin client may send.
var corsAllowedHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	"X-Requested-With",
	csrfHeaderName,
	"HX-Request",
	"HX-Current-URL",
	"HX-Target",
	"HX-Trigger",
}, ", ")

// corsExposedHeaders are the response headers cross-origin scripts may read.
var corsExposedHeaders = strings.Join([]string{
	"Content-Range",
	"X-Supabase-Api-Version",
	"X-Request-ID",
	"HX-Redirect",
	"HX-Refresh",
	"HX-Trigger",
}, ", ")

// CORS returns middleware that handles Cross-Origin Resource Sharing headers.
// The web UI is same-origin; this matters for a browser client served from
// another origin that calls /auth/session.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	allowAll := false
	originSet := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[strings.TrimRight(o, "/")] = true
	}

	// Wildcard origin with credentials would let any site act as the user.
	if allowAll && cfg.AllowCredentials {
		slog.Warn("CORS: wildcard origin with credentials requested; credentials disabled")
		cfg.AllowCredentials = false
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			origin := req.Header.Get("Origin")
			if origin == "" {
				return next(c)
			}

			if !allowAll && !originSet[origin] {
				// No CORS headers; the browser blocks the response.
				return next(c)
			}

			h := c.Response().Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if req.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Max-Age", "3600")
				return c.NoContent(http.StatusNoContent)
			}

			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
			return next(c)
		}
	}
}
