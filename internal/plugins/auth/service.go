package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/keyxmakerx/advisor/internal/apperror"
	"github.com/keyxmakerx/advisor/internal/identity"
)

// AuthService drives identity provider state changes for a request. The
// client passed in is always the one bound to that request's cookies, so
// every change lands on the outgoing response.
type AuthService interface {
	// SyncSession mirrors browser tokens into cookies. nil or incomplete
	// tokens sign the request out.
	SyncSession(ctx context.Context, client IdentityClient, tokens *SyncTokens, meta RequestMeta) error

	// SignIn exchanges credentials for a session.
	SignIn(ctx context.Context, client IdentityClient, email, password string, meta RequestMeta) (*identity.Session, error)

	// SignOut revokes and clears the session.
	SignOut(ctx context.Context, client IdentityClient, meta RequestMeta) error
}

// authService implements AuthService.
type authService struct {
	events EventRecorder
}

// NewService creates an AuthService. A nil recorder disables auditing.
func NewService(events EventRecorder) AuthService {
	if events == nil {
		events = noopRecorder{}
	}
	return &authService{events: events}
}

// SyncSession installs or clears the session. Provider rejections are
// returned as 400 errors carrying the provider's message.
func (s *authService) SyncSession(ctx context.Context, client IdentityClient, tokens *SyncTokens, meta RequestMeta) error {
	if !tokens.Complete() {
		return s.SignOut(ctx, client, meta)
	}

	session, err := client.SetSession(ctx, tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		slog.Warn("session sync rejected", slog.Any("error", err))
		s.events.RecordAuthEvent(ctx, ActionSyncFailed, "", tokens.AccessToken, meta)
		return providerError(err, "session sync failed")
	}

	s.events.RecordAuthEvent(ctx, ActionSessionSynced, userID(session), session.AccessToken, meta)
	return nil
}

// SignIn validates input and signs in with email and password.
func (s *authService) SignIn(ctx context.Context, client IdentityClient, email, password string, meta RequestMeta) (*identity.Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, apperror.NewBadRequest("email and password are required")
	}

	session, err := client.SignInWithPassword(ctx, email, password)
	if err != nil {
		if identity.IsAuthError(err) {
			return nil, apperror.NewUnauthorized("invalid email or password").WithInternal(err)
		}
		return nil, apperror.NewInternal(err)
	}

	s.events.RecordAuthEvent(ctx, ActionSignedIn, userID(session), session.AccessToken, meta)
	return session, nil
}

// SignOut revokes the session and clears its cookies.
func (s *authService) SignOut(ctx context.Context, client IdentityClient, meta RequestMeta) error {
	var uid, token string
	if session, err := client.GetSession(ctx); err == nil && session != nil {
		uid, token = userID(session), session.AccessToken
	}

	if err := client.SignOut(ctx); err != nil {
		slog.Warn("sign-out failed", slog.Any("error", err))
		return providerError(err, "sign-out failed")
	}

	s.events.RecordAuthEvent(ctx, ActionSignedOut, uid, token, meta)
	return nil
}

// providerError maps an identity provider failure to a 400 AppError. The
// provider's own message is passed through; transport failures get
// fallback instead.
func providerError(err error, fallback string) *apperror.AppError {
	var idErr *identity.Error
	if errors.As(err, &idErr) {
		return apperror.NewBadRequest(idErr.Message).WithInternal(err)
	}
	if errors.Is(err, identity.ErrSessionMissing) {
		return apperror.NewBadRequest(err.Error()).WithInternal(err)
	}
	return apperror.NewBadRequest(fallback).WithInternal(err)
}

func userID(s *identity.Session) string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}
