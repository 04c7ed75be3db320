package middleware

import (
	"context"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
)

// LayoutInjector copies layout data from the Echo context (populated by the
// auth guard and CSRF middleware) into the Go context Templ components read.
// Registered once at startup in app/routes.go so this package never imports
// plugin types.
var LayoutInjector func(echo.Context, context.Context) context.Context

// IsHTMX returns true if the request was initiated by HTMX and is not a
// boosted navigation. Boosted requests expect full pages.
func IsHTMX(c echo.Context) bool {
	return c.Request().Header.Get("HX-Request") == "true" &&
		c.Request().Header.Get("HX-Boosted") != "true"
}

// WantsJSON reports whether the client asked for a JSON response rather
// than HTML, either through the Accept header or by targeting /api/.
func WantsJSON(c echo.Context) bool {
	req := c.Request()
	if strings.HasPrefix(req.URL.Path, "/api/") {
		return true
	}
	accept := req.Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, echo.MIMEApplicationJSON) && !strings.Contains(accept, echo.MIMETextHTML)
}

// Render writes a Templ component to the response with the given status code
// after running the LayoutInjector.
func Render(c echo.Context, statusCode int, component templ.Component) error {
	ctx := c.Request().Context()
	if LayoutInjector != nil {
		ctx = LayoutInjector(c, ctx)
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(statusCode)
	return component.Render(ctx, c.Response().Writer)
}
