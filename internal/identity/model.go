// Package identity is a client for a GoTrue-compatible identity provider
// (the Supabase Auth REST API). It persists the provider session through a
// pluggable Storage: cookies for server-side requests, memory for the
// browser-side client. The caller must never treat a session's embedded
// user as proof of identity; use GetUser to validate an access token.
package identity

import (
	"encoding/json"
	"time"
)

// Session is the provider-issued token pair and its metadata.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user,omitempty"`
}

// Expired reports whether the access token expires within margin of now.
// A session without an expiry is treated as expired.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt == 0 {
		return true
	}
	return time.Unix(s.ExpiresAt, 0).Before(now.Add(margin))
}

// User is the account record returned by the provider's /user endpoint.
type User struct {
	ID           string          `json:"id"`
	Aud          string          `json:"aud,omitempty"`
	Role         string          `json:"role,omitempty"`
	Email        string          `json:"email,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	AppMetadata  json.RawMessage `json:"app_metadata,omitempty"`
	UserMetadata json.RawMessage `json:"user_metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AuthEvent names a session state transition.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// Listener receives auth state transitions. session is nil after sign-out.
type Listener func(event AuthEvent, session *Session)
