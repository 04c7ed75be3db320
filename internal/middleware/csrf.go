package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// csrfTokenLength is the number of random bytes in a token (64 hex chars).
	csrfTokenLength = 32

	// CSRFCookieName is the cookie holding the double-submit token. It is
	// readable by scripts so clients can echo it in csrfHeaderName.
	CSRFCookieName = "advisor_csrf"

	// csrfHeaderName carries the token on fetch/HTMX requests.
	csrfHeaderName = "X-CSRF-Token"

	// csrfFormField carries the token on plain form posts.
	csrfFormField = "csrf_token"

	// csrfContextKey is the Echo context key handlers read the token from.
	csrfContextKey = "csrf_token"
)

// CSRF returns middleware implementing the double-submit cookie pattern on
// state-changing requests. Every response carries the token cookie; POST,
// PUT, PATCH and DELETE must echo it in the X-CSRF-Token header or the
// csrf_token form field.
//
// The session sync endpoint is covered too: otherwise a cross-site page could
// log a visitor in as someone else or out of their own account.
func CSRF() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			// /api/ is bearer-authenticated; cookies grant nothing there.
			if strings.HasPrefix(req.URL.Path, "/api/") {
				return next(c)
			}

			cookieToken := ""
			if cookie, err := req.Cookie(CSRFCookieName); err == nil {
				cookieToken = cookie.Value
			}
			if cookieToken == "" {
				token, err := generateCSRFToken()
				if err != nil {
					return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate CSRF token")
				}
				c.SetCookie(&http.Cookie{
					Name:     CSRFCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false,
					Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
					SameSite: http.SameSiteLaxMode,
				})
				cookieToken = token
			}
			c.Set(csrfContextKey, cookieToken)

			if isSafeMethod(req.Method) {
				return next(c)
			}

			submitted := req.Header.Get(csrfHeaderName)
			if submitted == "" && isFormPost(req) {
				submitted = req.FormValue(csrfFormField)
			}

			if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(cookieToken)) != 1 {
				return echo.NewHTTPError(http.StatusForbidden, "invalid or missing CSRF token")
			}
			return next(c)
		}
	}
}

// isSafeMethod returns true for HTTP methods that should not change state.
func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}

// isFormPost reports whether the body is a form encoding FormValue can read
// without consuming a JSON payload.
func isFormPost(req *http.Request) bool {
	ct := req.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}

// generateCSRFToken generates a cryptographically random hex-encoded token.
func generateCSRFToken() (string, error) {
	b := make([]byte, csrfTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetCSRFToken retrieves the CSRF token from the Echo context for
// embedding in forms.
func GetCSRFToken(c echo.Context) string {
	if token, ok := c.Get(csrfContextKey).(string); ok {
		return token
	}
	return ""
}
