package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DependsAuth is the dependency tag of loaders whose output depends on the
// signed-in identity.
const DependsAuth = "identity:auth"

// LoadFunc reloads one piece of client state.
type LoadFunc func(ctx context.Context) error

// Loaders is a registry of named loaders with dependency tags.
type Loaders struct {
	mu      sync.Mutex
	entries map[string]loaderEntry
}

type loaderEntry struct {
	fn   LoadFunc
	deps map[string]bool
}

// NewLoaders creates an empty registry.
func NewLoaders() *Loaders {
	return &Loaders{entries: make(map[string]loaderEntry)}
}

// Register adds fn under name, replacing any loader with the same name.
// deps are the tags that invalidate it. The returned function removes it.
func (l *Loaders) Register(name string, fn LoadFunc, deps ...string) (unregister func()) {
	set := make(map[string]bool, len(deps))
	for _, d := range deps {
		set[d] = true
	}

	l.mu.Lock()
	l.entries[name] = loaderEntry{fn: fn, deps: set}
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.entries, name)
	}
}

// Invalidate re-runs every loader that depends on tag, concurrently. All
// loaders run to completion; their failures are joined.
func (l *Loaders) Invalidate(ctx context.Context, tag string) error {
	l.mu.Lock()
	names := make([]string, 0, len(l.entries))
	fns := make(map[string]LoadFunc)
	for name, e := range l.entries {
		if e.deps[tag] {
			names = append(names, name)
			fns[name] = e.fn
		}
	}
	l.mu.Unlock()
	sort.Strings(names)

	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			if err := fns[name](ctx); err != nil {
				errs[i] = fmt.Errorf("loader %s: %w", name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Names returns the registered loader names, sorted.
func (l *Loaders) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
