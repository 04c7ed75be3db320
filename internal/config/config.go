// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Values are bound with caarlos0/env struct tags; an optional
// .env file is loaded first for local development.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string `env:"ENV" envDefault:"development"`

	// Port is the HTTP listen port (default: 8080).
	Port int `env:"PORT" envDefault:"8080"`

	// BaseURL is the public-facing URL used for CORS and absolute links.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"`

	// API holds the backend chat API settings.
	API APIConfig

	// Identity holds the identity provider settings.
	Identity IdentityConfig

	// Database holds MariaDB settings for the auth audit trail.
	Database DatabaseConfig

	// Redis holds Redis settings for the session detail cache.
	Redis RedisConfig

	// Upload holds chat attachment settings.
	Upload UploadConfig
}

// APIConfig describes the backend gateway.
type APIConfig struct {
	// BaseURL is the backend root, e.g. "https://api.example.com". Trailing
	// slashes are trimmed during validation.
	BaseURL string `env:"PUBLIC_API_BASE_URL,required"`

	// Timeout bounds a single outbound call.
	Timeout time.Duration `env:"API_TIMEOUT" envDefault:"60s"`

	// SessionListLimit is the page size for the session summary list.
	SessionListLimit int `env:"API_SESSION_LIST_LIMIT" envDefault:"50"`
}

// IdentityConfig describes the GoTrue-compatible identity provider.
type IdentityConfig struct {
	// URL is the project URL, e.g. "https://abcd.supabase.co".
	URL string `env:"PUBLIC_SUPABASE_URL,required"`

	// PublishableKey is sent as the apikey header on every call.
	PublishableKey string `env:"PUBLIC_SUPABASE_PUBLISHABLE_KEY,required"`

	// Timeout bounds a single identity provider call.
	Timeout time.Duration `env:"SUPABASE_TIMEOUT" envDefault:"10s"`
}

// StorageKey returns the cookie name the provider session is persisted
// under: "sb-<project ref>-auth-token", where the project ref is the first
// label of the provider host.
func (c IdentityConfig) StorageKey() string {
	u, err := url.Parse(c.URL)
	if err != nil || u.Hostname() == "" {
		return "sb-auth-token"
	}
	ref, _, _ := strings.Cut(u.Hostname(), ".")
	return "sb-" + ref + "-auth-token"
}

// DatabaseConfig holds MariaDB connection parameters. The audit trail is
// disabled unless DB_HOST or DATABASE_URL is set.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format. If no port is
	// specified, 3306 is appended automatically.
	Host string `env:"DB_HOST"`

	// User is the MariaDB username.
	User string `env:"DB_USER" envDefault:"advisor"`

	// Password is the MariaDB password.
	Password string `env:"DB_PASSWORD" envDefault:"advisor"`

	// Name is the database name.
	Name string `env:"DB_NAME" envDefault:"advisor"`

	// URL overrides the individual fields when set.
	URL string `env:"DATABASE_URL"`

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int `env:"DB_MAX_IDLE_CONNS" envDefault:"2"`

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`

	// MigrationsPath is the directory holding the audit schema migrations.
	MigrationsPath string `env:"DB_MIGRATIONS_PATH" envDefault:"db/migrations"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != "" || d.URL != ""
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built with the driver's
// Config.FormatDSN() to safely handle special characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters. An empty URL selects the
// in-process detail cache.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`

	// DetailTTL bounds how long a cached session detail survives.
	DetailTTL time.Duration `env:"REDIS_DETAIL_TTL" envDefault:"10m"`
}

// UploadConfig holds chat attachment settings.
type UploadConfig struct {
	// MaxSize is the maximum multipart body size in bytes.
	MaxSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"26214400"`
}

// Load reads configuration from the environment (after an optional .env
// file) and validates it. Missing identity or API settings are fatal.
func Load() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	return Parse(env.Options{})
}

// Parse binds and validates configuration using the given env options.
// Tests pass Options.Environment to avoid touching the process environment.
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate normalises base URLs and rejects values that cannot be used.
func (c *Config) validate() error {
	apiURL, err := normalizeURL(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("PUBLIC_API_BASE_URL: %w", err)
	}
	c.API.BaseURL = apiURL

	idURL, err := normalizeURL(c.Identity.URL)
	if err != nil {
		return fmt.Errorf("PUBLIC_SUPABASE_URL: %w", err)
	}
	c.Identity.URL = idURL

	if strings.TrimSpace(c.Identity.PublishableKey) == "" {
		return errors.New("PUBLIC_SUPABASE_PUBLISHABLE_KEY is empty")
	}
	if c.API.SessionListLimit <= 0 {
		c.API.SessionListLimit = 50
	}
	return nil
}

// normalizeURL checks that raw is an absolute http(s) URL and trims any
// trailing slashes.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}
