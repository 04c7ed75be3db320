package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/keyxmakerx/advisor/internal/identity"
)

// SessionSource is the part of the identity client the resolver needs.
type SessionSource interface {
	GetSession(ctx context.Context) (*identity.Session, error)
	GetUser(ctx context.Context, accessToken string) (*identity.User, error)
}

// Result is a resolved request identity. Both fields are nil for an
// anonymous request; both are set otherwise.
type Result struct {
	Session *identity.Session
	User    *identity.User
}

// Authenticated reports whether the request carries a validated user.
func (r Result) Authenticated() bool {
	return r.User != nil
}

// Resolver turns stored provider cookies into a validated identity. The
// session read from cookies is never trusted on its own: its access token
// must round-trip through GetUser.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a Resolver. A nil logger uses slog.Default().
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve returns the validated session and user, or an empty Result.
// Provider failures degrade to anonymous and are logged, never returned.
func (r *Resolver) Resolve(ctx context.Context, src SessionSource) Result {
	session, err := src.GetSession(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to read identity session", slog.Any("error", err))
		return Result{}
	}
	if session == nil {
		return Result{}
	}

	user, err := src.GetUser(ctx, session.AccessToken)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to validate identity session", slog.Any("error", err))
		return Result{}
	}
	if user == nil {
		return Result{}
	}

	return Result{Session: session, User: user}
}

// RequestState is the per-request auth context: the identity client bound
// to the request's cookies and the memoized resolution.
type RequestState struct {
	Client IdentityClient

	resolver *Resolver
	once     sync.Once
	result   Result
}

// NewRequestState creates a RequestState for one request.
func NewRequestState(client IdentityClient, resolver *Resolver) *RequestState {
	return &RequestState{Client: client, resolver: resolver}
}

// Resolve runs the resolver at most once for this request.
func (s *RequestState) Resolve(ctx context.Context) Result {
	s.once.Do(func() {
		s.result = s.resolver.Resolve(ctx, s.Client)
	})
	return s.result
}
