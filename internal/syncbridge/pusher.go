package syncbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/keyxmakerx/advisor/internal/identity"
	"github.com/keyxmakerx/advisor/internal/middleware"
	"github.com/keyxmakerx/advisor/internal/plugins/auth"
)

// sessionPath is the server's session sync endpoint.
const sessionPath = "/auth/session"

// Pusher mirrors a client-side session into the server's cookies by
// posting it to the sync endpoint. It keeps its own cookie jar, so the
// server cookies it receives are sent back on later calls.
type Pusher struct {
	base *url.URL
	http *http.Client

	mu        sync.Mutex
	csrfToken string
}

// NewPusher creates a Pusher for the server at baseURL. hc may be nil; its
// Jar is replaced when unset.
func NewPusher(baseURL string, hc *http.Client) (*Pusher, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", baseURL)
	}

	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	return &Pusher{base: base, http: hc}, nil
}

// Client returns the HTTP client carrying the server cookies.
func (p *Pusher) Client() *http.Client {
	return p.http
}

// Push posts session to the server. A nil session signs the server out.
// A rejected CSRF token is refreshed once.
func (p *Pusher) Push(ctx context.Context, session *identity.Session) error {
	err := p.push(ctx, session)
	if errors.Is(err, errCSRFRejected) {
		p.setToken("")
		err = p.push(ctx, session)
	}
	return err
}

// Status reports the server's view of the session.
func (p *Pusher) Status(ctx context.Context) (auth.StatusResponse, error) {
	var status auth.StatusResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(), nil)
	if err != nil {
		return status, fmt.Errorf("building status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return status, fmt.Errorf("fetching session status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("session status: unexpected %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decoding session status: %w", err)
	}
	p.captureToken()
	return status, nil
}

var errCSRFRejected = errors.New("csrf token rejected")

func (p *Pusher) push(ctx context.Context, session *identity.Session) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	body := auth.SyncRequest{}
	if session != nil {
		body.Session = &auth.SyncTokens{
			AccessToken:  session.AccessToken,
			RefreshToken: session.RefreshToken,
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("building sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CSRF-Token", token)

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("syncing session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return errCSRFRejected
	}

	var out auth.SyncResponse
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(respBody, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return fmt.Errorf("session sync failed (%d): %s", resp.StatusCode, msg)
	}
	return nil
}

// token returns the CSRF token, priming it with a status call when the jar
// does not hold one yet.
func (p *Pusher) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	token := p.csrfToken
	p.mu.Unlock()
	if token != "" {
		return token, nil
	}

	if _, err := p.Status(ctx); err != nil {
		return "", fmt.Errorf("priming csrf token: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.csrfToken == "" {
		return "", fmt.Errorf("server did not issue a csrf token")
	}
	return p.csrfToken, nil
}

// captureToken copies the CSRF cookie from the jar.
func (p *Pusher) captureToken() {
	for _, c := range p.http.Jar.Cookies(p.base) {
		if c.Name == middleware.CSRFCookieName {
			p.setToken(c.Value)
			return
		}
	}
}

func (p *Pusher) setToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.csrfToken = token
}

func (p *Pusher) endpoint() string {
	return p.base.String() + sessionPath
}
