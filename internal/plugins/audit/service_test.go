package audit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/advisor/internal/apperror"
	"github.com/keyxmakerx/advisor/internal/plugins/auth"
)

// --- Mock Repository ---

type mockAuditRepo struct {
	logFn   func(ctx context.Context, entry *Entry) error
	listFn  func(ctx context.Context, userID string, limit, offset int) ([]Entry, int, error)
	purgeFn func(ctx context.Context, cutoff time.Time) (int64, error)

	logged []Entry
}

func (m *mockAuditRepo) Log(ctx context.Context, entry *Entry) error {
	m.logged = append(m.logged, *entry)
	if m.logFn != nil {
		return m.logFn(ctx, entry)
	}
	return nil
}

func (m *mockAuditRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Entry, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, limit, offset)
	}
	return nil, 0, nil
}

func (m *mockAuditRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.purgeFn != nil {
		return m.purgeFn(ctx, cutoff)
	}
	return 0, nil
}

func newTestService(repo *mockAuditRepo) *auditService {
	svc := NewAuditService(repo, nil).(*auditService)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

// assertAppError checks that err is an AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, expectedCode, appErr.Code)
}

// --- RecordAuthEvent ---

func TestRecordAuthEvent_StoresFingerprintNotToken(t *testing.T) {
	repo := &mockAuditRepo{}
	svc := newTestService(repo)

	svc.RecordAuthEvent(context.Background(), auth.ActionSignedIn, "user-1", "secret-access-token",
		auth.RequestMeta{IP: "203.0.113.7", UserAgent: "Mozilla/5.0"})

	require.Len(t, repo.logged, 1)
	e := repo.logged[0]
	assert.Equal(t, "user-1", e.UserID)
	assert.Equal(t, auth.ActionSignedIn, e.Action)
	assert.Equal(t, "203.0.113.7", e.IP)
	assert.Equal(t, "Mozilla/5.0", e.UserAgent)
	assert.Equal(t, Fingerprint("secret-access-token"), e.TokenFingerprint)
	assert.Len(t, e.TokenFingerprint, 32)
	assert.NotContains(t, e.TokenFingerprint, "secret")
	assert.Equal(t, 2026, e.CreatedAt.Year())
}

func TestRecordAuthEvent_SurvivesCanceledRequest(t *testing.T) {
	repo := &mockAuditRepo{logFn: func(ctx context.Context, _ *Entry) error {
		assert.NoError(t, ctx.Err())
		return ctx.Err()
	}}
	svc := newTestService(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.RecordAuthEvent(ctx, auth.ActionSignedOut, "user-1", "", auth.RequestMeta{})

	require.Len(t, repo.logged, 1)
	assert.Equal(t, "", repo.logged[0].TokenFingerprint)
}

func TestRecordAuthEvent_RepoErrorSwallowed(t *testing.T) {
	repo := &mockAuditRepo{logFn: func(context.Context, *Entry) error {
		return errors.New("db down")
	}}
	svc := newTestService(repo)

	assert.NotPanics(t, func() {
		svc.RecordAuthEvent(context.Background(), auth.ActionSyncFailed, "", "tok", auth.RequestMeta{})
	})
}

func TestRecordAuthEvent_TruncatesUserAgent(t *testing.T) {
	repo := &mockAuditRepo{}
	svc := newTestService(repo)

	svc.RecordAuthEvent(context.Background(), auth.ActionSignedIn, "u", "", auth.RequestMeta{
		UserAgent: strings.Repeat("א", 400),
	})

	require.Len(t, repo.logged, 1)
	ua := repo.logged[0].UserAgent
	assert.LessOrEqual(t, len(ua), maxUserAgent)
	assert.True(t, strings.HasPrefix(strings.Repeat("א", 400), ua))
}

// --- Log ---

func TestLog_RequiresAction(t *testing.T) {
	svc := newTestService(&mockAuditRepo{})
	err := svc.Log(context.Background(), &Entry{UserID: "u"})
	assertAppError(t, err, http.StatusBadRequest)
}

func TestLog_RepoError(t *testing.T) {
	repo := &mockAuditRepo{logFn: func(context.Context, *Entry) error { return errors.New("db down") }}
	err := newTestService(repo).Log(context.Background(), &Entry{Action: auth.ActionSignedIn})
	assertAppError(t, err, http.StatusInternalServerError)
}

// --- GetUserActivity ---

func TestGetUserActivity_Pagination(t *testing.T) {
	var gotLimit, gotOffset int
	repo := &mockAuditRepo{listFn: func(_ context.Context, userID string, limit, offset int) ([]Entry, int, error) {
		assert.Equal(t, "user-1", userID)
		gotLimit, gotOffset = limit, offset
		return []Entry{{ID: 1}}, 60, nil
	}}
	svc := newTestService(repo)

	page, err := svc.GetUserActivity(context.Background(), "user-1", 2)
	require.NoError(t, err)
	assert.Equal(t, perPage, gotLimit)
	assert.Equal(t, perPage, gotOffset)
	assert.Equal(t, 60, page.Total)
	assert.True(t, page.HasNext())

	page, err = svc.GetUserActivity(context.Background(), "user-1", -3)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 0, gotOffset)
}

func TestGetUserActivity_RequiresUser(t *testing.T) {
	_, err := newTestService(&mockAuditRepo{}).GetUserActivity(context.Background(), "", 1)
	assertAppError(t, err, http.StatusBadRequest)
}

// --- Purge ---

func TestPurge_CutoffFromRetention(t *testing.T) {
	var gotCutoff time.Time
	repo := &mockAuditRepo{purgeFn: func(_ context.Context, cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 3, nil
	}}
	svc := newTestService(repo)

	n, err := svc.Purge(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), gotCutoff)

	_, err = svc.Purge(context.Background(), 0)
	assertAppError(t, err, http.StatusBadRequest)
}

func TestFingerprint_Stable(t *testing.T) {
	assert.Equal(t, Fingerprint("a"), Fingerprint("a"))
	assert.NotEqual(t, Fingerprint("a"), Fingerprint("b"))
	assert.Equal(t, "", Fingerprint(""))
}
