package audit

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/keyxmakerx/advisor/internal/apperror"
	"github.com/keyxmakerx/advisor/internal/plugins/auth"
)

// perPage is the number of events shown per page of the activity view.
const perPage = 25

// maxUserAgent matches the user_agent column width.
const maxUserAgent = 512

// writeTimeout bounds an event insert. Recording runs detached from the
// request so a slow database never delays a sign-in.
const writeTimeout = 5 * time.Second

// AuditService handles business logic for the auth event log.
type AuditService interface {
	auth.EventRecorder

	// Log validates and persists an event.
	Log(ctx context.Context, entry *Entry) error

	// GetUserActivity returns one page of a user's events. Pages are
	// 1-indexed; invalid pages are clamped to 1.
	GetUserActivity(ctx context.Context, userID string, page int) (*ActivityPage, error)

	// Purge deletes events older than retention.
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// auditService implements AuditService.
type auditService struct {
	repo   AuditRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo AuditRepository, logger *slog.Logger) AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditService{repo: repo, logger: logger, now: time.Now}
}

// RecordAuthEvent implements auth.EventRecorder. Failures are logged, never
// returned.
func (s *auditService) RecordAuthEvent(ctx context.Context, action, userID, accessToken string, meta auth.RequestMeta) {
	entry := &Entry{
		UserID:           userID,
		Action:           action,
		TokenFingerprint: Fingerprint(accessToken),
		IP:               meta.IP,
		UserAgent:        truncate(meta.UserAgent, maxUserAgent),
		CreatedAt:        s.now().UTC(),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.Log(writeCtx, entry); err != nil {
		s.logger.Warn("auth event not recorded",
			slog.String("action", action),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}

// Log validates and persists an event.
func (s *auditService) Log(ctx context.Context, entry *Entry) error {
	if entry.Action == "" {
		return apperror.NewBadRequest("action is required for auth event")
	}

	if err := s.repo.Log(ctx, entry); err != nil {
		return apperror.NewInternal(fmt.Errorf("writing auth event: %w", err))
	}
	return nil
}

func (s *auditService) GetUserActivity(ctx context.Context, userID string, page int) (*ActivityPage, error) {
	if userID == "" {
		return nil, apperror.NewBadRequest("user ID is required")
	}
	if page < 1 {
		page = 1
	}

	entries, total, err := s.repo.ListByUser(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing user activity: %w", err))
	}
	return &ActivityPage{Entries: entries, Total: total, Page: page, PerPage: perPage}, nil
}

func (s *auditService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, apperror.NewBadRequest("retention must be positive")
	}
	n, err := s.repo.PurgeBefore(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, apperror.NewInternal(fmt.Errorf("purging auth events: %w", err))
	}
	return n, nil
}

// Fingerprint returns a short BLAKE2b digest of token, or "" for an empty
// token.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
