package chat

import (
	"log/slog"
	"sync"
	"time"
)

// Registry hands out one Store per user. Stores unused for longer than the
// idle timeout are dropped; their details stay in the shared cache.
type Registry struct {
	backend Backend
	cache   DetailCache
	limit   int
	idle    time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	stores    map[string]*registryEntry
	lastSweep time.Time
}

type registryEntry struct {
	store    *Store
	lastUsed time.Time
}

// NewRegistry creates a Registry. idle <= 0 defaults to 30 minutes.
func NewRegistry(backend Backend, cache DetailCache, limit int, idle time.Duration, logger *slog.Logger) *Registry {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend: backend,
		cache:   cache,
		limit:   limit,
		idle:    idle,
		logger:  logger,
		now:     time.Now,
		stores:  make(map[string]*registryEntry),
	}
}

// For returns the store of userID, creating it on first use.
func (r *Registry) For(userID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) > r.idle {
		r.sweep(now)
	}

	e, ok := r.stores[userID]
	if !ok {
		e = &registryEntry{store: NewStore(StoreConfig{
			Backend: r.backend,
			Cache:   r.cache,
			Scope:   userID,
			Limit:   r.limit,
			Logger:  r.logger.With(slog.String("user_id", userID)),
		})}
		r.stores[userID] = e
	}
	e.lastUsed = now
	return e.store
}

// Drop forgets the store of userID. Called on sign-out.
func (r *Registry) Drop(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, userID)
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// sweep removes idle stores. Caller holds r.mu.
func (r *Registry) sweep(now time.Time) {
	for id, e := range r.stores {
		if now.Sub(e.lastUsed) > r.idle {
			delete(r.stores, id)
		}
	}
	r.lastSweep = now
}
