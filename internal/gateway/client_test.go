package gateway_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/advisor/internal/gateway"
)

func staticToken(token string) gateway.TokenSource {
	return gateway.TokenFunc(func(context.Context) string { return token })
}

func TestListSessions_AttachesBearerAndLimit(t *testing.T) {
	var gotAuth, gotLimit, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotLimit = r.URL.Query().Get("limit")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode([]gateway.SessionSummary{{SessionID: "s1", MessageCount: 2}})
	}))
	defer srv.Close()

	client := gateway.New(srv.URL+"/", staticToken("tok"))
	got, err := client.ListSessions(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "50", gotLimit)
	assert.Equal(t, "/sessions", gotPath)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].SessionID)
}

func TestCall_NoTokenNoHeader(t *testing.T) {
	var hasAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasAuth = r.Header["Authorization"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := gateway.New(srv.URL, staticToken(""))
	err := client.Call(context.Background(), gateway.Request{Path: "/ping", Expect: gateway.ExpectNone}, nil)
	require.NoError(t, err)
	assert.False(t, hasAuth)
}

func TestCall_ErrorUnwrapsDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":"thread not found"}`)
	}))
	defer srv.Close()

	_, err := gateway.New(srv.URL, nil).GetSessionDetail(context.Background(), "x")
	require.Error(t, err)

	apiErr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "Unprocessable Entity", apiErr.StatusText)
	assert.Equal(t, "thread not found", apiErr.Detail)
	assert.Equal(t, "thread not found", apiErr.Message("fallback"))
}

func TestCall_ErrorWithoutDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>upstream down</html>")
	}))
	defer srv.Close()

	err := gateway.New(srv.URL, nil).Call(context.Background(), gateway.Request{Path: "/x"}, nil)
	apiErr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Nil(t, apiErr.Detail)
	assert.Equal(t, "fallback", apiErr.Message("fallback"))
}

func TestCall_ErrorStructuredDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":[{"loc":["body","message"],"msg":"field required"}]}`)
	}))
	defer srv.Close()

	err := gateway.New(srv.URL, nil).Call(context.Background(), gateway.Request{Path: "/x"}, nil)
	apiErr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.IsType(t, []any{}, apiErr.Detail)
	assert.Equal(t, "fallback", apiErr.Message("fallback"))
}

func TestGetSessionDetail_EscapesID(t *testing.T) {
	var gotRawPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRawPath = r.URL.EscapedPath()
		_, _ = io.WriteString(w, `{"session_id":"a/b","messages":[],"optimization":{"x":1}}`)
	}))
	defer srv.Close()

	detail, err := gateway.New(srv.URL, nil).GetSessionDetail(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "/sessions/a%2Fb", gotRawPath)
	assert.Equal(t, "a/b", detail.SessionID)
	assert.JSONEq(t, `{"x":1}`, string(detail.Optimization))
}

func TestCall_ExpectText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "plain body")
	}))
	defer srv.Close()

	var out string
	err := gateway.New(srv.URL, nil).Call(context.Background(), gateway.Request{Path: "/t", Expect: gateway.ExpectText}, &out)
	require.NoError(t, err)
	assert.Equal(t, "plain body", out)
}

func TestCall_ContextCancel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gateway.New(srv.URL, nil).ListSessions(ctx, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPostChat_Multipart(t *testing.T) {
	type received struct {
		message, threadID string
		files             map[string]string
		types             map[string]string
	}
	var got received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		got.message = r.FormValue("message")
		got.threadID = r.FormValue("thread_id")
		got.files = map[string]string{}
		got.types = map[string]string{}
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			require.NoError(t, err)
			b, _ := io.ReadAll(f)
			f.Close()
			got.files[fh.Filename] = string(b)
			got.types[fh.Filename] = fh.Header.Get("Content-Type")
		}
		_, _ = io.WriteString(w, `{"response":"hi","thread_id":"t-1"}`)
	}))
	defer srv.Close()

	resp, err := gateway.New(srv.URL, staticToken("tok")).PostChat(context.Background(), gateway.ChatRequest{
		Message:  "שלום",
		ThreadID: "t-1",
		Files: []gateway.File{
			{Name: "a.pdf", ContentType: "application/pdf", Content: strings.NewReader("%PDF")},
			{Name: "b.png", ContentType: "image/png", Content: strings.NewReader("PNG")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "t-1", resp.ThreadID)
	assert.Equal(t, "hi", resp.Response)
	assert.Equal(t, "שלום", got.message)
	assert.Equal(t, "t-1", got.threadID)
	assert.Equal(t, map[string]string{"a.pdf": "%PDF", "b.png": "PNG"}, got.files)
	assert.Equal(t, "application/pdf", got.types["a.pdf"])
}

func TestPostChat_OmitsEmptyThread(t *testing.T) {
	var hasThread bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hasThread = r.MultipartForm.Value["thread_id"]
		_, _ = io.WriteString(w, `{"response":"hi","thread_id":"new"}`)
	}))
	defer srv.Close()

	resp, err := gateway.New(srv.URL, nil).PostChat(context.Background(), gateway.ChatRequest{Message: "x"})
	require.NoError(t, err)
	assert.False(t, hasThread)
	assert.Equal(t, "new", resp.ThreadID)
}
