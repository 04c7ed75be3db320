package cookies

import "net/http"

// Options are the attributes applied to a written or deleted cookie.
type Options struct {
	Path     string
	Domain   string
	MaxAge   int
	Secure   bool
	HttpOnly bool
	SameSite http.SameSite
}

// Option adjusts Options for a single write or delete.
type Option func(*Options)

// WithPath sets the cookie path attribute.
func WithPath(path string) Option {
	return func(o *Options) { o.Path = path }
}

// WithDomain sets the cookie domain attribute.
func WithDomain(domain string) Option {
	return func(o *Options) { o.Domain = domain }
}

// WithMaxAge sets the cookie max-age in seconds.
// Negative values delete the cookie immediately.
func WithMaxAge(seconds int) Option {
	return func(o *Options) { o.MaxAge = seconds }
}

// WithSecure sets the secure flag.
func WithSecure(secure bool) Option {
	return func(o *Options) { o.Secure = secure }
}

// WithHTTPOnly controls script access to the cookie.
func WithHTTPOnly(httpOnly bool) Option {
	return func(o *Options) { o.HttpOnly = httpOnly }
}

// WithSameSite sets the SameSite attribute.
func WithSameSite(sameSite http.SameSite) Option {
	return func(o *Options) { o.SameSite = sameSite }
}

// apply copies base and applies opts to the copy so shared defaults are
// never mutated. An option that clears Path falls back to "/".
func apply(base Options, opts []Option) Options {
	result := base
	for _, opt := range opts {
		opt(&result)
	}
	if result.Path == "" {
		result.Path = "/"
	}
	return result
}
