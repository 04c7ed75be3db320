package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/keyxmakerx/advisor/internal/gateway"
)

// detailLoadTimeout bounds a shared session detail load.
const detailLoadTimeout = 30 * time.Second

// Store is one user's chat state. All methods are safe for concurrent use;
// backend calls run without holding the lock.
type Store struct {
	backend Backend
	cache   DetailCache
	scope   string
	limit   int
	logger  *slog.Logger

	loads singleflight.Group

	mu               sync.Mutex
	summaries        []gateway.SessionSummary
	selectedID       string
	details          map[string]*gateway.SessionDetail
	loadingSummaries bool
	loadingIDs       map[string]int
	sending          bool
	lastError        string
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Backend Backend

	// Cache is shared across users; entries are keyed by Scope. Optional.
	Cache DetailCache

	// Scope isolates this store's cache entries, normally the user ID.
	Scope string

	// Limit is the summary page size. Defaults to gateway.DefaultSessionLimit.
	Limit int

	Logger *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Limit <= 0 {
		cfg.Limit = gateway.DefaultSessionLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		backend:    cfg.Backend,
		cache:      cfg.Cache,
		scope:      cfg.Scope,
		limit:      cfg.Limit,
		logger:     cfg.Logger,
		details:    make(map[string]*gateway.SessionDetail),
		loadingIDs: make(map[string]int),
	}
}

// RefreshSessions reloads the summary list. It is a no-op while another
// refresh is running. The selection moves to the first summary when nothing
// is selected or the selected session is no longer listed.
func (s *Store) RefreshSessions(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingSummaries {
		s.mu.Unlock()
		return nil
	}
	s.loadingSummaries = true
	s.lastError = ""
	s.mu.Unlock()

	summaries, err := s.backend.ListSessions(ctx, s.limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingSummaries = false
	if err != nil {
		s.lastError = errorMessage(err)
		return err
	}

	s.summaries = summaries
	if s.selectedID == "" || !containsSession(summaries, s.selectedID) {
		s.selectedID = ""
		if len(summaries) > 0 {
			s.selectedID = summaries[0].SessionID
		}
	}
	return nil
}

// LoadSessionDetail returns the detail of sessionID. A cached detail is
// returned without a backend call unless force is set. Concurrent loads of
// the same session share one call.
func (s *Store) LoadSessionDetail(ctx context.Context, sessionID string, force bool) (*gateway.SessionDetail, error) {
	if !force {
		if d := s.cached(ctx, sessionID); d != nil {
			return d, nil
		}
	}

	// The shared load outlives any single caller; each caller stops waiting
	// when its own context ends.
	ch := s.loads.DoChan(sessionID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detailLoadTimeout)
		defer cancel()
		return s.fetchDetail(loadCtx, sessionID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*gateway.SessionDetail), nil
	}
}

// cached looks in the store first and then in the shared cache. A shared
// cache hit is copied into the store.
func (s *Store) cached(ctx context.Context, sessionID string) *gateway.SessionDetail {
	s.mu.Lock()
	d, ok := s.details[sessionID]
	s.mu.Unlock()
	if ok {
		return d
	}
	if s.cache == nil {
		return nil
	}

	d, err := s.cache.Get(ctx, s.scope, sessionID)
	if err != nil {
		s.logger.Warn("detail cache read failed", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil
	}
	if d == nil {
		return nil
	}
	s.mu.Lock()
	s.details[sessionID] = d
	s.mu.Unlock()
	return d
}

func (s *Store) fetchDetail(ctx context.Context, sessionID string) (*gateway.SessionDetail, error) {
	s.mu.Lock()
	s.loadingIDs[sessionID]++
	s.lastError = ""
	s.mu.Unlock()

	detail, err := s.backend.GetSessionDetail(ctx, sessionID)

	s.mu.Lock()
	if s.loadingIDs[sessionID]--; s.loadingIDs[sessionID] <= 0 {
		delete(s.loadingIDs, sessionID)
	}
	if err != nil {
		s.lastError = errorMessage(err)
		s.mu.Unlock()
		return nil, err
	}
	s.details[sessionID] = detail
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Set(ctx, s.scope, detail); err != nil {
			s.logger.Warn("detail cache write failed", slog.String("session_id", sessionID), slog.Any("error", err))
		}
	}
	return detail, nil
}

// SelectSession makes sessionID current and loads its detail.
func (s *Store) SelectSession(ctx context.Context, sessionID string, forceReload bool) (*gateway.SessionDetail, error) {
	s.mu.Lock()
	s.selectedID = sessionID
	s.mu.Unlock()
	return s.LoadSessionDetail(ctx, sessionID, forceReload)
}

// InitializeChat fetches the summaries on first use and loads the selected
// session. A failure to load the detail is recorded but not returned.
func (s *Store) InitializeChat(ctx context.Context) error {
	s.mu.Lock()
	needRefresh := len(s.summaries) == 0 && !s.loadingSummaries
	s.mu.Unlock()

	if needRefresh {
		if err := s.RefreshSessions(ctx); err != nil {
			return err
		}
	}

	if id := s.SelectedID(); id != "" {
		_, _ = s.LoadSessionDetail(ctx, id, false)
	}
	return nil
}

// SendChatMessage posts a message. It returns (nil, nil) when a send for
// this user is already running. An empty ThreadID continues the selected
// session unless NewThread is set. After the post the summaries and the
// thread's detail are reloaded together and the thread becomes the
// selection.
func (s *Store) SendChatMessage(ctx context.Context, req SendRequest) (*gateway.ChatResponse, error) {
	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return nil, nil
	}
	s.sending = true
	s.lastError = ""
	threadID := req.ThreadID
	if threadID == "" && !req.NewThread {
		threadID = s.selectedID
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	resp, err := s.backend.PostChat(ctx, gateway.ChatRequest{
		Message:  req.Message,
		ThreadID: threadID,
		Files:    req.Files,
	})
	if err != nil {
		s.mu.Lock()
		s.lastError = errorMessage(err)
		s.mu.Unlock()
		return nil, err
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := s.RefreshSessions(ctx); err != nil {
			s.logger.Debug("refresh after send failed", slog.Any("error", err))
		}
		return nil
	})
	g.Go(func() error {
		if _, err := s.LoadSessionDetail(ctx, resp.ThreadID, true); err != nil {
			s.logger.Debug("reload after send failed", slog.String("thread_id", resp.ThreadID), slog.Any("error", err))
		}
		return nil
	})
	_ = g.Wait()

	s.mu.Lock()
	s.selectedID = resp.ThreadID
	s.mu.Unlock()
	return resp, nil
}

// Deselect clears the selection so the next message starts a new thread.
func (s *Store) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = ""
}

// SelectedID returns the current selection, or "".
func (s *Store) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// SelectedDetail returns the loaded detail of the selection, or nil.
func (s *Store) SelectedDetail() *gateway.SessionDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedID == "" {
		return nil
	}
	return s.details[s.selectedID]
}

// Snapshot returns the current state with derived values computed.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Summaries:  append([]gateway.SessionSummary(nil), s.summaries...),
		SelectedID: s.selectedID,
		LastError:  s.lastError,
		Loading: LoadingState{
			Summaries:  s.loadingSummaries,
			Sending:    s.sending,
			SessionIDs: make([]string, 0, len(s.loadingIDs)),
		},
	}
	for id := range s.loadingIDs {
		snap.Loading.SessionIDs = append(snap.Loading.SessionIDs, id)
	}
	sort.Strings(snap.Loading.SessionIDs)

	if s.selectedID != "" {
		for i := range snap.Summaries {
			if snap.Summaries[i].SessionID == s.selectedID {
				snap.SelectedSummary = &snap.Summaries[i]
				break
			}
		}
		snap.SelectedDetail = s.details[s.selectedID]
	}
	return snap
}

// Forget drops the cached detail of sessionID from the store and the shared
// cache.
func (s *Store) Forget(ctx context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.details, sessionID)
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.Delete(ctx, s.scope, sessionID); err != nil {
			s.logger.Warn("detail cache delete failed", slog.String("session_id", sessionID), slog.Any("error", err))
		}
	}
}

func containsSession(summaries []gateway.SessionSummary, id string) bool {
	for _, summary := range summaries {
		if summary.SessionID == id {
			return true
		}
	}
	return false
}

// errorMessage is the text recorded as the last error.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := gateway.AsError(err); ok {
		return apiErr.Message(msgUnexpected)
	}
	if errors.Is(err, context.Canceled) {
		return "request canceled"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgUnexpected
}
