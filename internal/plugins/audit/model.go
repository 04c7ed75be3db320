// Package audit records authentication events (sign-in, session sync,
// sign-out) to the auth_events table and shows users their own recent
// account activity. Tokens are never stored, only a short fingerprint that
// ties events of the same session together.
//
// This is an optional plugin: without a database the auth plugin runs with
// auditing disabled.
package audit

import "time"

// Entry is one recorded auth event.
type Entry struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id,omitempty"`
	Action           string    `json:"action"`
	TokenFingerprint string    `json:"token_fingerprint,omitempty"`
	IP               string    `json:"ip,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ActivityPage is one page of a user's events.
type ActivityPage struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// HasNext reports whether a later page exists.
func (p ActivityPage) HasNext() bool {
	return p.Page*p.PerPage < p.Total
}
