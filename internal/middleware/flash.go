package middleware

import (
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/advisor/internal/cookies"
)

// Flash kinds.
const (
	FlashSuccess = "success"
	FlashError   = "error"
)

// flashCookie carries a one-shot message across a redirect.
const flashCookie = "advisor_flash"

// SetFlash queues msg for the next rendered page.
func SetFlash(c echo.Context, kind, msg string) {
	v := url.Values{"k": {kind}, "m": {msg}}
	cookies.New(c).Write(flashCookie, url.QueryEscape(v.Encode()), cookies.WithMaxAge(60))
}

// TakeFlash returns the queued message and clears it. kind is "" when
// nothing was queued.
func TakeFlash(c echo.Context) (kind, msg string) {
	jar := cookies.New(c)
	raw, ok := jar.Get(flashCookie)
	if !ok || raw == "" {
		return "", ""
	}
	jar.Delete(flashCookie)

	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", ""
	}
	v, err := url.ParseQuery(decoded)
	if err != nil {
		return "", ""
	}
	return v.Get("k"), v.Get("m")
}
