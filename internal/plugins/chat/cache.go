package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/advisor/internal/gateway"
)

// DetailCache stores session details per user. A miss is (nil, nil).
type DetailCache interface {
	Get(ctx context.Context, scope, sessionID string) (*gateway.SessionDetail, error)
	Set(ctx context.Context, scope string, detail *gateway.SessionDetail) error
	Delete(ctx context.Context, scope, sessionID string) error
}

// detailKeyPrefix namespaces detail entries in Redis.
const detailKeyPrefix = "advisor:detail:"

// RedisCache keeps details in Redis as JSON with a TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a RedisCache. A non-positive ttl defaults to 10m.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func detailKey(scope, sessionID string) string {
	return detailKeyPrefix + scope + ":" + sessionID
}

func (c *RedisCache) Get(ctx context.Context, scope, sessionID string) (*gateway.SessionDetail, error) {
	raw, err := c.rdb.Get(ctx, detailKey(scope, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cached detail: %w", err)
	}
	var detail gateway.SessionDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("decoding cached detail: %w", err)
	}
	return &detail, nil
}

func (c *RedisCache) Set(ctx context.Context, scope string, detail *gateway.SessionDetail) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encoding detail: %w", err)
	}
	if err := c.rdb.Set(ctx, detailKey(scope, detail.SessionID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching detail: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, scope, sessionID string) error {
	return c.rdb.Del(ctx, detailKey(scope, sessionID)).Err()
}

// MemoryCache keeps details in process memory. Used when Redis is not
// configured.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	detail  *gateway.SessionDetail
	expires time.Time
}

// NewMemoryCache creates a MemoryCache. A non-positive ttl defaults to 10m.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, scope, sessionID string) (*gateway.SessionDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := detailKey(scope, sessionID)
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, nil
	}
	return e.detail, nil
}

func (c *MemoryCache) Set(_ context.Context, scope string, detail *gateway.SessionDetail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[detailKey(scope, detail.SessionID)] = memoryEntry{detail: detail, expires: now.Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, scope, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, detailKey(scope, sessionID))
	return nil
}
