package identity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// expiryMargin is how early a session is refreshed before its access token
// actually expires.
const expiryMargin = 30 * time.Second

// Options configures a Client.
type Options struct {
	// URL is the provider project URL without a trailing slash.
	URL string

	// APIKey is the publishable key sent as the apikey header.
	APIKey string

	// StorageKey is the item name the session is persisted under.
	StorageKey string

	// HTTPClient performs provider calls. Defaults to a client with a 10s
	// timeout.
	HTTPClient *http.Client

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Client talks to the provider and persists the session through Storage.
// A server-side Client is created per request around that request's
// cookies; a browser-side Client lives for the process.
type Client struct {
	opts    Options
	storage Storage
	http    *http.Client

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int

	// headers accumulates response headers from provider calls so the
	// caller can decide which of them to forward.
	headers http.Header
}

// NewClient creates a Client persisting into storage.
func NewClient(opts Options, storage Storage) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		opts:      opts,
		storage:   storage,
		http:      hc,
		listeners: make(map[int]Listener),
		headers:   make(http.Header),
	}
}

// GetSession returns the stored session, refreshing it first when the access
// token is about to expire. No stored session yields (nil, nil). The result
// is not validated against the provider; see GetUser.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	session := c.loadSession()
	if session == nil {
		return nil, nil
	}
	if !session.Expired(c.opts.Now(), expiryMargin) {
		return session, nil
	}

	refreshed, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		if IsAuthError(err) {
			c.removeSession()
			c.notify(EventSignedOut, nil)
		}
		return nil, fmt.Errorf("refreshing session: %w", err)
	}
	return refreshed, nil
}

// GetUser validates accessToken with the provider and returns its user.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrSessionMissing
	}
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, errors.New("identity provider returned a user without id")
	}
	return &user, nil
}

// SetSession installs a token pair obtained elsewhere (typically from the
// browser). Expired access tokens are exchanged through the refresh token;
// otherwise the access token is validated with GetUser before the session
// is persisted.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, ErrSessionMissing
	}

	now := c.opts.Now()
	exp, ok := tokenExpiry(accessToken)
	if !ok || !exp.After(now) {
		return c.refresh(ctx, refreshToken)
	}

	user, err := c.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	session := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(exp.Sub(now).Seconds()),
		ExpiresAt:    exp.Unix(),
		User:         user,
	}
	c.saveSession(session)
	c.notify(EventSignedIn, session)
	return session, nil
}

// SignInWithPassword exchanges email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	session, err := c.grant(ctx, "password", body)
	if err != nil {
		return nil, err
	}
	c.saveSession(session)
	c.notify(EventSignedIn, session)
	return session, nil
}

// RefreshSession exchanges the stored refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	session := c.loadSession()
	if session == nil {
		return nil, ErrSessionMissing
	}
	return c.refresh(ctx, session.RefreshToken)
}

// SignOut revokes the stored session on the provider and clears storage.
// A provider answer meaning the session is already gone is not an error.
func (c *Client) SignOut(ctx context.Context) error {
	if session := c.loadSession(); session != nil && session.AccessToken != "" {
		err := c.do(ctx, http.MethodPost, "/auth/v1/logout?scope=global", session.AccessToken, nil, nil)
		if err != nil && !isIgnorableSignOut(err) {
			return err
		}
	}
	c.removeSession()
	c.notify(EventSignedOut, nil)
	return nil
}

// OnAuthStateChange registers fn for state transitions and immediately
// delivers EventInitialSession with the current stored session. The
// returned function unregisters fn.
func (c *Client) OnAuthStateChange(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	fn(EventInitialSession, c.loadSession())

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// ResponseHeaders returns a copy of the headers seen on provider responses.
func (c *Client) ResponseHeaders() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers.Clone()
}

// --- internals ---

func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrSessionMissing
	}
	session, err := c.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	c.saveSession(session)
	c.notify(EventTokenRefreshed, session)
	return session, nil
}

func (c *Client) grant(ctx context.Context, grantType string, body any) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type="+grantType, "", body, &session); err != nil {
		return nil, err
	}
	if session.AccessToken == "" {
		return nil, errors.New("identity provider returned no access token")
	}
	if session.ExpiresAt == 0 && session.ExpiresIn > 0 {
		session.ExpiresAt = c.opts.Now().Unix() + session.ExpiresIn
	}
	return &session, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.URL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("apikey", c.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling identity provider: %w", err)
	}
	defer resp.Body.Close()

	c.recordHeaders(resp.Header)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading identity provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return eb.toError(resp.StatusCode)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding identity provider response: %w", err)
	}
	return nil
}

func (c *Client) recordHeaders(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range h {
		c.headers[k] = append([]string(nil), v...)
	}
}

func (c *Client) loadSession() *Session {
	raw, ok := c.storage.GetItem(c.opts.StorageKey)
	if !ok {
		return nil
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil || session.AccessToken == "" {
		slog.Debug("discarding unreadable stored session", slog.Any("error", err))
		c.storage.RemoveItem(c.opts.StorageKey)
		return nil
	}
	return &session
}

func (c *Client) saveSession(s *Session) {
	buf, err := json.Marshal(s)
	if err != nil {
		return
	}
	c.storage.SetItem(c.opts.StorageKey, string(buf))
}

func (c *Client) removeSession() {
	c.storage.RemoveItem(c.opts.StorageKey)
}

func (c *Client) notify(event AuthEvent, session *Session) {
	c.mu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}

// tokenExpiry reads the exp claim of a JWT without verifying it. It is only
// used to decide whether a refresh is needed, never as proof of identity.
func tokenExpiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.Exp, 0), true
}
