// Package gateway is the outbound client for the backend chat API. Every
// call attaches the caller's bearer token when one is available and turns
// non-2xx responses into *Error values.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies this package's spans.
const instrumentationName = "github.com/keyxmakerx/advisor/internal/gateway"

// maxErrorBody caps how much of a failed response is read for its detail.
const maxErrorBody = 1 << 20

// TokenSource yields the access token to present for a call, or "".
type TokenSource interface {
	AccessToken(ctx context.Context) string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) string

// AccessToken implements TokenSource.
func (f TokenFunc) AccessToken(ctx context.Context) string { return f(ctx) }

// Expect selects how a successful response body is handled.
type Expect int

const (
	// ExpectJSON decodes the body into the out argument.
	ExpectJSON Expect = iota

	// ExpectText stores the body in out, which must be a *string.
	ExpectText

	// ExpectNone discards the body.
	ExpectNone
)

// Request describes one backend call.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        io.Reader
	ContentType string
	Expect      Expect
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTracer overrides the tracer provider used for spans.
func WithTracer(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(instrumentationName) }
}

// Client calls the backend API.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	tracer  trace.Tracer
}

// New creates a Client for baseURL (already normalised, no trailing slash).
// tokens may be nil for anonymous calls.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 60 * time.Second},
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs req and handles the response per req.Expect. Context
// cancellation aborts the call.
func (c *Client) Call(ctx context.Context, req Request, out any) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := c.tracer.Start(ctx, "gateway "+method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", req.Path),
		),
	)
	defer span.End()

	err := c.call(ctx, method, req, out, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, req Request, out any, span trace.Span) error {
	u := c.buildURL(req.Path, req.Query)

	httpReq, err := http.NewRequestWithContext(ctx, method, u, req.Body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if c.tokens != nil {
		if token := c.tokens.AccessToken(ctx); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling backend %s %s: %w", method, req.Path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{
			Status:     resp.StatusCode,
			StatusText: statusText(resp),
			Detail:     parseDetail(body),
		}
	}

	switch req.Expect {
	case ExpectJSON:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding backend response: %w", err)
		}
	case ExpectText:
		s, ok := out.(*string)
		if !ok {
			return fmt.Errorf("ExpectText needs a *string, got %T", out)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading backend response: %w", err)
		}
		*s = string(body)
	case ExpectNone:
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return nil
}

// buildURL joins path onto the base URL and sets non-empty query values.
func (c *Client) buildURL(path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// statusText prefers the reason phrase the server sent.
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
