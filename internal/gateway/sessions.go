package gateway

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
)

// DefaultSessionLimit is the page size used when none is given.
const DefaultSessionLimit = 50

// ListSessions returns the caller's session summaries, newest first.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	var out []SessionSummary
	err := c.Call(ctx, Request{
		Path:  "/sessions",
		Query: url.Values{"limit": []string{strconv.Itoa(limit)}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSessionDetail returns one session with its messages and payloads.
func (c *Client) GetSessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error) {
	var out SessionDetail
	if err := c.Call(ctx, Request{Path: "/sessions/" + url.PathEscape(sessionID)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostChat sends a message as multipart/form-data with fields message,
// thread_id (when set) and one files part per attachment. The body is
// streamed so attachments are not buffered in memory.
func (c *Client) PostChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeChatForm(mw, req))
	}()

	var out ChatResponse
	err := c.Call(ctx, Request{
		Method:      http.MethodPost,
		Path:        "/chat",
		Body:        pr,
		ContentType: mw.FormDataContentType(),
	}, &out)
	// Unblock the writer if the call ended before the body was consumed.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func writeChatForm(mw *multipart.Writer, req ChatRequest) error {
	if err := mw.WriteField("message", req.Message); err != nil {
		return err
	}
	if req.ThreadID != "" {
		if err := mw.WriteField("thread_id", req.ThreadID); err != nil {
			return err
		}
	}
	for _, f := range req.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(f.Name)))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return fmt.Errorf("copying attachment %q: %w", f.Name, err)
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
