package middleware

import (
	"github.com/labstack/echo/v4"
)

// contentSecurityPolicy only allows same-origin resources. connect-src also
// admits the identity provider so a browser client can refresh tokens.
func contentSecurityPolicy(identityURL string) string {
	connect := "'self'"
	if identityURL != "" {
		connect += " " + identityURL
	}
	return "default-src 'self'; " +
		"script-src 'self'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: blob:; " +
		"connect-src " + connect + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'"
}

// SecurityHeaders returns middleware that sets security-related response
// headers on every response. TLS terminates at the reverse proxy, so HSTS is
// still sent from here.
func SecurityHeaders(identityURL string) echo.MiddlewareFunc {
	csp := contentSecurityPolicy(identityURL)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()")
			return next(c)
		}
	}
}
