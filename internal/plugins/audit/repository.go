package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditRepository defines the data access contract for auth events.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type AuditRepository interface {
	// Log inserts an event and sets its ID.
	Log(ctx context.Context, entry *Entry) error

	// ListByUser returns a user's events, most recent first, with the
	// total count for pagination.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Entry, int, error)

	// PurgeBefore deletes events older than cutoff and returns how many
	// were removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// auditRepository implements AuditRepository with MariaDB queries.
type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new repository backed by the given DB pool.
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Log(ctx context.Context, entry *Entry) error {
	query := `INSERT INTO auth_events (user_id, action, token_fingerprint, ip_address, user_agent, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, query,
		entry.UserID, entry.Action, entry.TokenFingerprint,
		entry.IP, entry.UserAgent, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting auth event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting auth event id: %w", err)
	}
	entry.ID = id
	return nil
}

func (r *auditRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Entry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auth_events WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting auth events: %w", err)
	}

	query := `SELECT id, user_id, action, token_fingerprint, ip_address, user_agent, created_at
	          FROM auth_events
	          WHERE user_id = ?
	          ORDER BY created_at DESC, id DESC
	          LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing auth events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.TokenFingerprint,
			&e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning auth event: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating auth events: %w", err)
	}

	return entries, total, nil
}

func (r *auditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM auth_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging auth events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged auth events: %w", err)
	}
	return n, nil
}
