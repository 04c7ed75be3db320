package syncbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/advisor/internal/identity"
	"github.com/keyxmakerx/advisor/internal/middleware"
	"github.com/keyxmakerx/advisor/internal/plugins/auth"
)

// --- fakes ---

type fakeSource struct {
	mu        sync.Mutex
	listeners []identity.Listener
	subs      atomic.Int32
	unsubs    atomic.Int32
	initial   *identity.Session
}

func (s *fakeSource) OnAuthStateChange(fn identity.Listener) func() {
	s.subs.Add(1)
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
	fn(identity.EventInitialSession, s.initial)
	return func() {
		s.unsubs.Add(1)
		s.mu.Lock()
		s.listeners = nil
		s.mu.Unlock()
	}
}

func (s *fakeSource) emit(event identity.AuthEvent, session *identity.Session) {
	s.mu.Lock()
	fns := append([]identity.Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(event, session)
	}
}

type recordingPusher struct {
	mu       sync.Mutex
	sessions []*identity.Session
	err      error
}

func (p *recordingPusher) Push(_ context.Context, session *identity.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, session)
	return p.err
}

func (p *recordingPusher) pushed() []*identity.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*identity.Session(nil), p.sessions...)
}

// --- Bridge ---

func TestBridge_StartRegistersOnce(t *testing.T) {
	src := &fakeSource{}
	pusher := &recordingPusher{}
	b := New(src, pusher, nil, nil)

	b.Start()
	b.Start()
	b.Start()
	b.Wait()

	assert.Equal(t, int32(1), src.subs.Load())
	assert.Len(t, pusher.pushed(), 1)
}

func TestBridge_EachEventPushesAndInvalidates(t *testing.T) {
	src := &fakeSource{}
	pusher := &recordingPusher{}
	loaders := NewLoaders()
	var authLoads, otherLoads atomic.Int32
	loaders.Register("account", func(context.Context) error { authLoads.Add(1); return nil }, DependsAuth)
	loaders.Register("static", func(context.Context) error { otherLoads.Add(1); return nil }, "assets")

	b := New(src, pusher, loaders, nil)
	b.Start()
	b.Wait()

	session := &identity.Session{AccessToken: "a", RefreshToken: "r"}
	src.emit(identity.EventSignedIn, session)
	src.emit(identity.EventSignedOut, nil)
	b.Wait()

	assert.Equal(t, []*identity.Session{nil, session, nil}, pusher.pushed())
	assert.Equal(t, int32(3), authLoads.Load())
	assert.Equal(t, int32(0), otherLoads.Load())
}

// slowFirstPusher holds its first push until release is closed and keeps
// the last session it applied, like the server would.
type slowFirstPusher struct {
	release chan struct{}
	calls   atomic.Int32

	mu   sync.Mutex
	last *identity.Session
}

func (p *slowFirstPusher) Push(_ context.Context, session *identity.Session) error {
	if p.calls.Add(1) == 1 {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = session
	return nil
}

func TestBridge_PushesInOrder(t *testing.T) {
	src := &fakeSource{initial: &identity.Session{AccessToken: "a", RefreshToken: "r"}}
	pusher := &slowFirstPusher{release: make(chan struct{})}
	b := New(src, pusher, nil, nil)

	b.Start()
	src.emit(identity.EventSignedOut, nil)
	time.Sleep(20 * time.Millisecond)
	close(pusher.release)
	b.Wait()

	assert.Equal(t, int32(2), pusher.calls.Load())
	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	assert.Nil(t, pusher.last)
}

func TestBridge_FailuresDoNotBlock(t *testing.T) {
	src := &fakeSource{}
	pusher := &recordingPusher{err: errors.New("server down")}
	loaders := NewLoaders()
	loaders.Register("broken", func(context.Context) error { return errors.New("nope") }, DependsAuth)

	b := New(src, pusher, loaders, nil)
	b.Start()
	src.emit(identity.EventTokenRefreshed, &identity.Session{AccessToken: "x", RefreshToken: "y"})
	b.Wait()

	assert.Len(t, pusher.pushed(), 2)
}

func TestBridge_CloseUnsubscribes(t *testing.T) {
	src := &fakeSource{}
	pusher := &recordingPusher{}
	b := New(src, pusher, nil, nil)
	b.Start()
	b.Close()
	b.Close()

	src.emit(identity.EventSignedIn, &identity.Session{})
	b.Wait()

	assert.Equal(t, int32(1), src.unsubs.Load())
	assert.Len(t, pusher.pushed(), 1)
}

// --- Loaders ---

func TestLoaders_InvalidateJoinsErrors(t *testing.T) {
	l := NewLoaders()
	var ran atomic.Int32
	l.Register("a", func(context.Context) error { ran.Add(1); return errors.New("a failed") }, DependsAuth)
	l.Register("b", func(context.Context) error { ran.Add(1); return nil }, DependsAuth, "other")
	unregister := l.Register("c", func(context.Context) error { ran.Add(1); return errors.New("c failed") }, DependsAuth)

	err := l.Invalidate(context.Background(), DependsAuth)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loader a: a failed")
	assert.Contains(t, err.Error(), "loader c: c failed")
	assert.Equal(t, int32(3), ran.Load())

	unregister()
	assert.Equal(t, []string{"a", "b"}, l.Names())
	require.NoError(t, l.Invalidate(context.Background(), "other"))
}

// --- Pusher ---

// syncServer mimics the session endpoint: GET issues the CSRF cookie, POST
// requires it echoed in the header.
type syncServer struct {
	*httptest.Server
	mu       sync.Mutex
	bodies   []auth.SyncRequest
	statuses atomic.Int32
	token    string
}

func newSyncServer(t *testing.T) *syncServer {
	t.Helper()
	s := &syncServer{token: "csrf-1"}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/session" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.statuses.Add(1)
			http.SetCookie(w, &http.Cookie{Name: middleware.CSRFCookieName, Value: s.token, Path: "/"})
			_ = json.NewEncoder(w).Encode(auth.StatusResponse{})
		case http.MethodPost:
			c, err := r.Cookie(middleware.CSRFCookieName)
			if err != nil || r.Header.Get("X-CSRF-Token") != c.Value {
				http.Error(w, "invalid or missing CSRF token", http.StatusForbidden)
				return
			}
			var body auth.SyncRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			s.mu.Lock()
			s.bodies = append(s.bodies, body)
			s.mu.Unlock()
			if body.Session != nil && body.Session.AccessToken == "bad" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(auth.SyncResponse{Error: "invalid token"})
				return
			}
			_ = json.NewEncoder(w).Encode(auth.SyncResponse{Success: true})
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func TestPusher_PrimesCSRFAndPosts(t *testing.T) {
	srv := newSyncServer(t)
	p, err := NewPusher(srv.URL+"/", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Push(ctx, &identity.Session{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, p.Push(ctx, nil))

	assert.Equal(t, int32(1), srv.statuses.Load())
	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.bodies, 2)
	require.NotNil(t, srv.bodies[0].Session)
	assert.Equal(t, "a", srv.bodies[0].Session.AccessToken)
	assert.Equal(t, "r", srv.bodies[0].Session.RefreshToken)
	assert.Nil(t, srv.bodies[1].Session)
}

func TestPusher_ReportsServerError(t *testing.T) {
	srv := newSyncServer(t)
	p, err := NewPusher(srv.URL, nil)
	require.NoError(t, err)

	err = p.Push(context.Background(), &identity.Session{AccessToken: "bad", RefreshToken: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestPusher_RetriesRejectedToken(t *testing.T) {
	srv := newSyncServer(t)
	p, err := NewPusher(srv.URL, nil)
	require.NoError(t, err)
	p.setToken("stale")

	// The jar has no cookie yet, so the stale token is rejected and a fresh
	// one is fetched.
	require.NoError(t, p.Push(context.Background(), nil))
	assert.Equal(t, int32(1), srv.statuses.Load())
}

func TestNewPusher_RejectsBadURL(t *testing.T) {
	_, err := NewPusher("ftp://example.com", nil)
	assert.Error(t, err)
}
