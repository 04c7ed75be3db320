package auth

import (
	"context"
	"sync"

	"github.com/keyxmakerx/advisor/internal/identity"
)

// tokenKey carries the access token of the validated session on a request
// context so outbound calls can attach it.
type tokenKey struct{}

// WithAccessToken returns a copy of ctx carrying token.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// AccessToken returns the token stored by WithAccessToken, or "".
func AccessToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// ContextTokens reads the per-request access token placed by the guard.
type ContextTokens struct{}

// AccessToken implements gateway.TokenSource.
func (ContextTokens) AccessToken(ctx context.Context) string {
	return AccessToken(ctx)
}

// TokenStore holds the current session of a long-lived client.
type TokenStore struct {
	mu      sync.RWMutex
	session *identity.Session
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Set replaces the current session. nil clears it.
func (s *TokenStore) Set(session *identity.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

// Session returns the current session, or nil.
func (s *TokenStore) Session() *identity.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// AccessToken implements gateway.TokenSource. A token on ctx takes
// precedence over the stored session.
func (s *TokenStore) AccessToken(ctx context.Context) string {
	if token := AccessToken(ctx); token != "" {
		return token
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.AccessToken
}
