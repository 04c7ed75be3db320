package middleware

// ratelimit.go implements a per-IP fixed-window limiter kept in memory.
// Used on the login and session sync endpoints.

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// rateLimitEntry tracks request counts for a single IP within a window.
type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// rateLimiter holds the per-IP windows for one route.
type rateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string]*rateLimitEntry
	now     func() time.Time
}

// allow records a request from ip and reports whether it is within the
// limit, plus how long until the current window resets.
func (l *rateLimiter) allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[ip]
	if !ok || now.Sub(entry.windowStart) > l.window {
		l.entries[ip] = &rateLimitEntry{count: 1, windowStart: now}
		return true, 0
	}

	entry.count++
	return entry.count <= l.max, l.window - now.Sub(entry.windowStart)
}

// sweep drops windows that ended long ago.
func (l *rateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip, entry := range l.entries {
		if now.Sub(entry.windowStart) > l.window*2 {
			delete(l.entries, ip)
		}
	}
}

// RateLimit returns middleware that allows maxRequests per IP per window and
// answers 429 with Retry-After beyond that.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	l := &rateLimiter{
		max:     maxRequests,
		window:  window,
		entries: make(map[string]*rateLimitEntry),
		now:     time.Now,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			l.sweep()
		}
	}()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, retry := l.allow(c.RealIP())
			if !ok {
				secs := int(math.Ceil(retry.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			}
			return next(c)
		}
	}
}
