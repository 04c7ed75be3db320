// Package cookies adapts an HTTP request/response pair into the cookie jar
// the identity provider persists its session in. Reads see the inbound
// request plus any writes made earlier in the same request; writes go onto
// the outgoing response.
package cookies

import (
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// Bridge is a per-request cookie jar. It is not safe for concurrent use; a
// request's handler chain runs on one goroutine.
type Bridge struct {
	c        echo.Context
	defaults Options

	// inbound is the cookie set captured when the bridge was created.
	inbound map[string]string

	// overlay records writes (value) and deletes (nil) made during the
	// request so later reads observe them.
	overlay map[string]*string
}

// New creates a Bridge for c. Defaults are Path "/", HttpOnly, SameSite Lax
// and Secure when the request arrived over TLS (directly or via proxy).
// opts adjust the defaults for every write made through this bridge.
func New(c echo.Context, opts ...Option) *Bridge {
	req := c.Request()
	base := Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	}

	b := &Bridge{
		c:        c,
		defaults: apply(base, opts),
		inbound:  make(map[string]string),
		overlay:  make(map[string]*string),
	}
	for _, ck := range req.Cookies() {
		// First occurrence wins, matching net/http's Request.Cookie.
		if _, seen := b.inbound[ck.Name]; !seen {
			b.inbound[ck.Name] = ck.Value
		}
	}
	return b
}

// Read returns every cookie currently visible to the request, sorted by
// name. Cookies deleted earlier in the request are omitted.
func (b *Bridge) Read() []*http.Cookie {
	names := make(map[string]struct{}, len(b.inbound)+len(b.overlay))
	for name := range b.inbound {
		names[name] = struct{}{}
	}
	for name := range b.overlay {
		names[name] = struct{}{}
	}

	out := make([]*http.Cookie, 0, len(names))
	for name := range names {
		if v, ok := b.Get(name); ok {
			out = append(out, &http.Cookie{Name: name, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the value of a single cookie.
func (b *Bridge) Get(name string) (string, bool) {
	if v, ok := b.overlay[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	v, ok := b.inbound[name]
	return v, ok
}

// Write sets a cookie on the outgoing response.
func (b *Bridge) Write(name, value string, opts ...Option) {
	o := apply(b.defaults, opts)
	b.c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   o.MaxAge,
		Secure:   o.Secure,
		HttpOnly: o.HttpOnly,
		SameSite: o.SameSite,
	})

	if o.MaxAge < 0 {
		b.overlay[name] = nil
		return
	}
	v := value
	b.overlay[name] = &v
}

// Delete expires a cookie on the outgoing response. The path must match
// the one the cookie was written with; it defaults to "/".
func (b *Bridge) Delete(name string, opts ...Option) {
	o := apply(b.defaults, opts)
	b.c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   o.Secure,
		HttpOnly: o.HttpOnly,
		SameSite: o.SameSite,
	})
	b.overlay[name] = nil
}
