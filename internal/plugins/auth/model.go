package auth

import (
	"context"
	"net/http"

	"github.com/keyxmakerx/advisor/internal/identity"
)

// IdentityClient is the identity provider capability set the auth plugin
// depends on. *identity.Client satisfies it.
type IdentityClient interface {
	GetSession(ctx context.Context) (*identity.Session, error)
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignOut(ctx context.Context) error
	ResponseHeaders() http.Header
}

// SyncRequest is the body of POST /auth/session. A nil Session asks the
// server to sign out.
type SyncRequest struct {
	Session *SyncTokens `json:"session"`
}

// SyncTokens is the token pair pushed by the browser.
type SyncTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Complete reports whether both tokens are present.
func (t *SyncTokens) Complete() bool {
	return t != nil && t.AccessToken != "" && t.RefreshToken != ""
}

// SyncResponse is the body returned by POST /auth/session.
type SyncResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is the body returned by GET /auth/session.
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
}

// LoginRequest is the login form payload.
type LoginRequest struct {
	Email    string `form:"email"`
	Password string `form:"password"`
}

// RequestMeta describes the inbound request for audit records.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Audit actions recorded by the service.
const (
	ActionSignedIn      = "auth.signed_in"
	ActionSessionSynced = "auth.session_synced"
	ActionSignedOut     = "auth.signed_out"
	ActionSyncFailed    = "auth.sync_failed"
)

// EventRecorder records auth events. Implementations must not block the
// request on storage failures.
type EventRecorder interface {
	RecordAuthEvent(ctx context.Context, action, userID, accessToken string, meta RequestMeta)
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthEvent(context.Context, string, string, string, RequestMeta) {}
