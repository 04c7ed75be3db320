package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/advisor/internal/gateway"
)

// --- Mock Backend ---

type mockBackend struct {
	listFn   func(ctx context.Context, limit int) ([]gateway.SessionSummary, error)
	detailFn func(ctx context.Context, id string) (*gateway.SessionDetail, error)
	postFn   func(ctx context.Context, req gateway.ChatRequest) (*gateway.ChatResponse, error)

	listCalls   atomic.Int32
	detailCalls atomic.Int32
	postCalls   atomic.Int32

	mu    sync.Mutex
	posts []gateway.ChatRequest
}

func (m *mockBackend) ListSessions(ctx context.Context, limit int) ([]gateway.SessionSummary, error) {
	m.listCalls.Add(1)
	if m.listFn != nil {
		return m.listFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockBackend) GetSessionDetail(ctx context.Context, id string) (*gateway.SessionDetail, error) {
	m.detailCalls.Add(1)
	if m.detailFn != nil {
		return m.detailFn(ctx, id)
	}
	return &gateway.SessionDetail{SessionID: id}, nil
}

func (m *mockBackend) PostChat(ctx context.Context, req gateway.ChatRequest) (*gateway.ChatResponse, error) {
	m.postCalls.Add(1)
	for _, f := range req.Files {
		_, _ = io.Copy(io.Discard, f.Content)
	}
	m.mu.Lock()
	m.posts = append(m.posts, req)
	m.mu.Unlock()
	if m.postFn != nil {
		return m.postFn(ctx, req)
	}
	return &gateway.ChatResponse{ThreadID: req.ThreadID, Response: "ok"}, nil
}

func (m *mockBackend) lastPost() gateway.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts[len(m.posts)-1]
}

func summaries(ids ...string) []gateway.SessionSummary {
	out := make([]gateway.SessionSummary, len(ids))
	for i, id := range ids {
		out[i] = gateway.SessionSummary{SessionID: id}
	}
	return out
}

func newTestStore(b Backend) *Store {
	return NewStore(StoreConfig{Backend: b, Scope: "user-1"})
}

// --- RefreshSessions ---

func TestRefreshSessions_SelectsFirst(t *testing.T) {
	b := &mockBackend{listFn: func(_ context.Context, limit int) ([]gateway.SessionSummary, error) {
		assert.Equal(t, gateway.DefaultSessionLimit, limit)
		return summaries("a", "b"), nil
	}}
	s := newTestStore(b)

	require.NoError(t, s.RefreshSessions(context.Background()))
	assert.Equal(t, "a", s.SelectedID())
	assert.Len(t, s.Snapshot().Summaries, 2)
}

func TestRefreshSessions_KeepsListedSelection(t *testing.T) {
	b := &mockBackend{listFn: func(context.Context, int) ([]gateway.SessionSummary, error) {
		return summaries("a", "b"), nil
	}}
	s := newTestStore(b)
	_, err := s.SelectSession(context.Background(), "b", false)
	require.NoError(t, err)

	require.NoError(t, s.RefreshSessions(context.Background()))
	assert.Equal(t, "b", s.SelectedID())
}

func TestRefreshSessions_ReplacesVanishedSelection(t *testing.T) {
	list := summaries("a")
	b := &mockBackend{listFn: func(context.Context, int) ([]gateway.SessionSummary, error) {
		return list, nil
	}}
	s := newTestStore(b)
	_, _ = s.SelectSession(context.Background(), "gone", false)

	require.NoError(t, s.RefreshSessions(context.Background()))
	assert.Equal(t, "a", s.SelectedID())

	list = nil
	require.NoError(t, s.RefreshSessions(context.Background()))
	assert.Equal(t, "", s.SelectedID())
}

func TestRefreshSessions_RecordsError(t *testing.T) {
	b := &mockBackend{listFn: func(context.Context, int) ([]gateway.SessionSummary, error) {
		return nil, &gateway.Error{Status: http.StatusBadGateway, Detail: "backend down"}
	}}
	s := newTestStore(b)

	err := s.RefreshSessions(context.Background())
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "backend down", snap.LastError)
	assert.False(t, snap.Loading.Summaries)
}

func TestRefreshSessions_SkipsWhileLoading(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	b := &mockBackend{listFn: func(context.Context, int) ([]gateway.SessionSummary, error) {
		close(started)
		<-release
		return summaries("a"), nil
	}}
	s := newTestStore(b)

	done := make(chan error)
	go func() { done <- s.RefreshSessions(context.Background()) }()
	<-started

	assert.True(t, s.Snapshot().Loading.Summaries)
	require.NoError(t, s.RefreshSessions(context.Background()))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), b.listCalls.Load())
}

// --- LoadSessionDetail ---

func TestLoadSessionDetail_CachesResult(t *testing.T) {
	b := &mockBackend{}
	s := newTestStore(b)
	ctx := context.Background()

	d1, err := s.LoadSessionDetail(ctx, "a", false)
	require.NoError(t, err)
	d2, err := s.LoadSessionDetail(ctx, "a", false)
	require.NoError(t, err)

	assert.Same(t, d1, d2)
	assert.Equal(t, int32(1), b.detailCalls.Load())

	_, err = s.LoadSessionDetail(ctx, "a", true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), b.detailCalls.Load())
}

func TestLoadSessionDetail_ConcurrentLoadsShareCall(t *testing.T) {
	release := make(chan struct{})
	b := &mockBackend{detailFn: func(_ context.Context, id string) (*gateway.SessionDetail, error) {
		<-release
		return &gateway.SessionDetail{SessionID: id}, nil
	}}
	s := newTestStore(b)

	const n = 5
	var wg sync.WaitGroup
	results := make([]*gateway.SessionDetail, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := s.LoadSessionDetail(context.Background(), "a", false)
			assert.NoError(t, err)
			results[i] = d
		}(i)
	}

	require.Eventually(t, func() bool {
		return len(s.Snapshot().Loading.SessionIDs) == 1
	}, time.Second, 5*time.Millisecond)
	// Give the remaining callers time to join the in-flight load.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), b.detailCalls.Load())
	for _, d := range results {
		assert.Same(t, results[0], d)
	}
	assert.Empty(t, s.Snapshot().Loading.SessionIDs)
}

func TestLoadSessionDetail_CanceledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	b := &mockBackend{detailFn: func(ctx context.Context, id string) (*gateway.SessionDetail, error) {
		select {
		case <-release:
			return &gateway.SessionDetail{SessionID: id}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	s := newTestStore(b)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.LoadSessionDetail(firstCtx, "s1", false)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		return len(s.Snapshot().Loading.SessionIDs) == 1
	}, time.Second, 5*time.Millisecond)

	type result struct {
		detail *gateway.SessionDetail
		err    error
	}
	second := make(chan result, 1)
	go func() {
		d, err := s.LoadSessionDetail(context.Background(), "s1", false)
		second <- result{d, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "s1", res.detail.SessionID)
	assert.Equal(t, int32(1), b.detailCalls.Load())
	assert.Empty(t, s.Snapshot().LastError)
}

func TestLoadSessionDetail_ErrorRecorded(t *testing.T) {
	b := &mockBackend{detailFn: func(context.Context, string) (*gateway.SessionDetail, error) {
		return nil, errors.New("boom")
	}}
	s := newTestStore(b)

	_, err := s.LoadSessionDetail(context.Background(), "a", false)
	require.Error(t, err)
	assert.Equal(t, "boom", s.Snapshot().LastError)
}

func TestLoadSessionDetail_UsesSharedCache(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	b := &mockBackend{}
	ctx := context.Background()

	first := NewStore(StoreConfig{Backend: b, Cache: cache, Scope: "user-1"})
	_, err := first.LoadSessionDetail(ctx, "a", false)
	require.NoError(t, err)

	second := NewStore(StoreConfig{Backend: b, Cache: cache, Scope: "user-1"})
	d, err := second.LoadSessionDetail(ctx, "a", false)
	require.NoError(t, err)
	assert.Equal(t, "a", d.SessionID)
	assert.Equal(t, int32(1), b.detailCalls.Load())

	other := NewStore(StoreConfig{Backend: b, Cache: cache, Scope: "user-2"})
	_, err = other.LoadSessionDetail(ctx, "a", false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), b.detailCalls.Load())
}

// --- InitializeChat ---

func TestInitializeChat_LoadsSelectedDetail(t *testing.T) {
	b := &mockBackend{listFn: func(context.Context, int) ([]gateway.SessionSummary, error) {
		return summaries("a", "b"), nil
	}}
	s := newTestStore(b)

	require.NoError(t, s.InitializeChat(context.Background()))
	snap := s.Snapshot()
	require.NotNil(t, snap.SelectedDetail)
	assert.Equal(t, "a", snap.SelectedDetail.SessionID)
	require.NotNil(t, snap.SelectedSummary)
	assert.Equal(t, "a", snap.SelectedSummary.SessionID)

	// Summaries are present, so a second call does not refresh.
	require.NoError(t, s.InitializeChat(context.Background()))
	assert.Equal(t, int32(1), b.listCalls.Load())
	assert.Equal(t, int32(1), b.detailCalls.Load())
}

func TestInitializeChat_IgnoresDetailError(t *testing.T) {
	b := &mockBackend{
		listFn: func(context.Context, int) ([]gateway.SessionSummary, error) {
			return summaries("a"), nil
		},
		detailFn: func(context.Context, string) (*gateway.SessionDetail, error) {
			return nil, errors.New("detail failed")
		},
	}
	s := newTestStore(b)

	require.NoError(t, s.InitializeChat(context.Background()))
	assert.Equal(t, "detail failed", s.Snapshot().LastError)
}

func TestInitializeChat_PropagatesRefreshError(t *testing.T) {
	b := &mockBackend{listFn: func(context.Context, int) ([]gateway.SessionSummary, error) {
		return nil, errors.New("list failed")
	}}
	require.Error(t, newTestStore(b).InitializeChat(context.Background()))
}

// --- SendChatMessage ---

func TestSendChatMessage_DefaultsToSelection(t *testing.T) {
	b := &mockBackend{listFn: func(context.Context, int) ([]gateway.SessionSummary, error) {
		return summaries("a", "b"), nil
	}}
	s := newTestStore(b)
	_, _ = s.SelectSession(context.Background(), "b", false)

	resp, err := s.SendChatMessage(context.Background(), SendRequest{Message: "hi"})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "b", b.lastPost().ThreadID)
	assert.Equal(t, "b", s.SelectedID())
}

func TestSendChatMessage_NewThread(t *testing.T) {
	b := &mockBackend{
		listFn: func(context.Context, int) ([]gateway.SessionSummary, error) {
			return summaries("new", "a"), nil
		},
		postFn: func(context.Context, gateway.ChatRequest) (*gateway.ChatResponse, error) {
			return &gateway.ChatResponse{ThreadID: "new"}, nil
		},
	}
	s := newTestStore(b)
	_, _ = s.SelectSession(context.Background(), "a", false)

	resp, err := s.SendChatMessage(context.Background(), SendRequest{Message: "hi", NewThread: true})
	require.NoError(t, err)

	assert.Equal(t, "", b.lastPost().ThreadID)
	assert.Equal(t, "new", resp.ThreadID)

	snap := s.Snapshot()
	assert.Equal(t, "new", snap.SelectedID)
	require.NotNil(t, snap.SelectedDetail)
	assert.Equal(t, "new", snap.SelectedDetail.SessionID)
	assert.False(t, snap.Loading.Sending)
}

func TestSendChatMessage_ReloadsDetailAfterSend(t *testing.T) {
	b := &mockBackend{}
	s := newTestStore(b)
	ctx := context.Background()

	_, err := s.SelectSession(ctx, "a", false)
	require.NoError(t, err)
	_, err = s.SendChatMessage(ctx, SendRequest{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), b.detailCalls.Load())
	assert.Equal(t, int32(1), b.listCalls.Load())
}

func TestSendChatMessage_InFlightReturnsNil(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	b := &mockBackend{postFn: func(_ context.Context, req gateway.ChatRequest) (*gateway.ChatResponse, error) {
		close(started)
		<-release
		return &gateway.ChatResponse{ThreadID: "t"}, nil
	}}
	s := newTestStore(b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.SendChatMessage(context.Background(), SendRequest{Message: "first"})
	}()
	<-started

	resp, err := s.SendChatMessage(context.Background(), SendRequest{Message: "second"})
	assert.NoError(t, err)
	assert.Nil(t, resp)
	assert.True(t, s.Snapshot().Loading.Sending)

	close(release)
	<-done
	assert.Equal(t, int32(1), b.postCalls.Load())
}

func TestSendChatMessage_ErrorRecorded(t *testing.T) {
	b := &mockBackend{postFn: func(context.Context, gateway.ChatRequest) (*gateway.ChatResponse, error) {
		return nil, &gateway.Error{Status: http.StatusUnprocessableEntity, Detail: []any{"x"}}
	}}
	s := newTestStore(b)

	_, err := s.SendChatMessage(context.Background(), SendRequest{Message: "hi"})
	require.Error(t, err)

	snap := s.Snapshot()
	assert.Equal(t, msgUnexpected, snap.LastError)
	assert.False(t, snap.Loading.Sending)
}

// --- Registry ---

func TestRegistry_PerUserStores(t *testing.T) {
	r := NewRegistry(&mockBackend{}, nil, 0, time.Minute, nil)

	a := r.For("u1")
	assert.Same(t, a, r.For("u1"))
	assert.NotSame(t, a, r.For("u2"))
	assert.Equal(t, 2, r.Len())

	r.Drop("u1")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_EvictsIdle(t *testing.T) {
	r := NewRegistry(&mockBackend{}, nil, 0, time.Minute, nil)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.For("idle")
	now = now.Add(2 * time.Minute)
	r.For("active")

	assert.Equal(t, 1, r.Len())
}

// --- IsAllowedFile ---

func TestIsAllowedFile(t *testing.T) {
	tests := []struct {
		name, file, mime string
		want             bool
	}{
		{"pdf by type", "doc", "application/pdf", true},
		{"png by type", "x.bin", "image/png", true},
		{"jpeg type with params", "x", "image/jpeg; q=1", true},
		{"jpg by extension", "scan.JPG", "application/octet-stream", true},
		{"jpeg by extension", "scan.jpeg", "", true},
		{"gif rejected", "anim.gif", "image/gif", false},
		{"exe rejected", "setup.exe", "application/octet-stream", false},
		{"no extension", "README", "text/plain", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAllowedFile(tt.file, tt.mime))
		})
	}
}
