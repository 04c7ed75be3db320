package identity

import (
	"net/http"
	"time"

	"github.com/keyxmakerx/advisor/internal/config"
)

// Factory builds Clients that share one HTTP client and one set of
// provider options.
type Factory struct {
	opts Options
}

// NewFactory creates a Factory from the identity config.
func NewFactory(cfg config.IdentityConfig) *Factory {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Factory{opts: Options{
		URL:        cfg.URL,
		APIKey:     cfg.PublishableKey,
		StorageKey: cfg.StorageKey(),
		HTTPClient: &http.Client{Timeout: timeout},
	}}
}

// ForCookies returns a Client persisting into the given request cookie jar.
func (f *Factory) ForCookies(jar CookieJar) *Client {
	return NewClient(f.opts, NewCookieStorage(jar))
}

// ForMemory returns a Client persisting in process memory.
func (f *Factory) ForMemory() *Client {
	return NewClient(f.opts, NewMemoryStorage())
}

// StorageKey is the item name sessions are persisted under.
func (f *Factory) StorageKey() string {
	return f.opts.StorageKey
}
