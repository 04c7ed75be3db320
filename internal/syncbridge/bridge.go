// Package syncbridge keeps a long-lived identity client and the server in
// step. Every auth state change on the client is pushed to the server's
// session sync endpoint and re-runs the loaders that depend on the signed-in
// identity. The two effects are independent and never block the
// notification. Pushes reach the server in notification order.
package syncbridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/keyxmakerx/advisor/internal/identity"
)

// Source is an identity client that reports state changes.
type Source interface {
	OnAuthStateChange(fn identity.Listener) (unsubscribe func())
}

// SessionPusher delivers a session, or nil for sign-out, to the server.
type SessionPusher interface {
	Push(ctx context.Context, session *identity.Session) error
}

// Bridge subscribes to a Source once and fans each notification out to the
// pusher and the loaders.
type Bridge struct {
	source  Source
	pusher  SessionPusher
	loaders *Loaders
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	startOnce   sync.Once
	mu          sync.Mutex
	unsubscribe func()
	inflight    sync.WaitGroup

	// queue holds sessions waiting for the push worker; pushing is set
	// while the worker runs.
	pushMu  sync.Mutex
	queue   []pushJob
	pushing bool
}

type pushJob struct {
	event   identity.AuthEvent
	session *identity.Session
}

// New creates a Bridge. loaders may be nil when nothing depends on auth.
func New(source Source, pusher SessionPusher, loaders *Loaders, logger *slog.Logger) *Bridge {
	if loaders == nil {
		loaders = NewLoaders()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		source:  source,
		pusher:  pusher,
		loaders: loaders,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the listener. Later calls do nothing. The source
// delivers the initial session right away, so the first push starts
// before Start returns.
func (b *Bridge) Start() {
	b.startOnce.Do(func() {
		unsubscribe := b.source.OnAuthStateChange(b.handle)
		b.mu.Lock()
		b.unsubscribe = unsubscribe
		b.mu.Unlock()
	})
}

// Wait blocks until every effect started so far has finished.
func (b *Bridge) Wait() {
	b.inflight.Wait()
}

// Close unsubscribes, cancels running effects and waits for them.
func (b *Bridge) Close() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	b.cancel()
	b.inflight.Wait()
}

// handle is the identity listener.
func (b *Bridge) handle(event identity.AuthEvent, session *identity.Session) {
	if b.ctx.Err() != nil {
		return
	}
	log := b.logger.With(slog.String("event", string(event)))

	b.enqueuePush(event, session)

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		if err := b.loaders.Invalidate(b.ctx, DependsAuth); err != nil {
			log.Warn("reloading auth-dependent state failed", slog.Any("error", err))
		}
	}()
}

// enqueuePush queues a push and starts the worker when it is idle.
func (b *Bridge) enqueuePush(event identity.AuthEvent, session *identity.Session) {
	b.pushMu.Lock()
	defer b.pushMu.Unlock()
	b.queue = append(b.queue, pushJob{event: event, session: session})
	if b.pushing {
		return
	}
	b.pushing = true
	b.inflight.Add(1)
	go b.pushLoop()
}

// pushLoop delivers queued sessions one at a time until the queue is empty.
func (b *Bridge) pushLoop() {
	defer b.inflight.Done()
	for {
		b.pushMu.Lock()
		if len(b.queue) == 0 {
			b.pushing = false
			b.pushMu.Unlock()
			return
		}
		job := b.queue[0]
		b.queue = b.queue[1:]
		b.pushMu.Unlock()

		log := b.logger.With(slog.String("event", string(job.event)))
		if err := b.pusher.Push(b.ctx, job.session); err != nil {
			log.Warn("session push failed", slog.Any("error", err))
			continue
		}
		log.Debug("session pushed", slog.Bool("signed_in", job.session != nil))
	}
}
