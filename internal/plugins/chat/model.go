// Package chat serves the conversation pages and the message action. Each
// signed-in user gets a Store that tracks their session list, the selected
// session and cached session details.
package chat

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/keyxmakerx/advisor/internal/gateway"
)

// User-facing messages of the chat action.
const (
	MsgMessageRequired = "הודעה נדרשת"
	MsgUnsupportedFile = "קובץ לא נתמך. ניתן לצרף רק PDF, PNG או JPG."
	MsgSendFailed      = "שליחת ההודעה נכשלה"
	MsgSendInFlight    = "הודעה קודמת עדיין נשלחת"

	// msgUnexpected is recorded as the last error when a failure carries no
	// displayable message.
	msgUnexpected = "An unexpected error occurred"
)

// AllowedMimeTypes are the attachment types accepted by the chat action.
var AllowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

// AllowedExtensions are accepted when the declared type is missing or
// generic.
var AllowedExtensions = map[string]bool{
	"pdf":  true,
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// IsAllowedFile reports whether an attachment may be forwarded: either its
// MIME type or its extension must be on the allow-list.
func IsAllowedFile(name, contentType string) bool {
	mime := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if AllowedMimeTypes[mime] {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return AllowedExtensions[ext]
}

// Backend is the part of the gateway client the chat store uses.
type Backend interface {
	ListSessions(ctx context.Context, limit int) ([]gateway.SessionSummary, error)
	GetSessionDetail(ctx context.Context, sessionID string) (*gateway.SessionDetail, error)
	PostChat(ctx context.Context, req gateway.ChatRequest) (*gateway.ChatResponse, error)
}

// SendRequest is a message to post. An empty ThreadID continues the
// selected session unless NewThread is set.
type SendRequest struct {
	Message   string
	ThreadID  string
	NewThread bool
	Files     []gateway.File
}

// LoadingState reports which operations are in flight.
type LoadingState struct {
	Summaries  bool     `json:"is_loading_summaries"`
	SessionIDs []string `json:"loading_session_ids"`
	Sending    bool     `json:"is_sending"`
}

// Snapshot is a point-in-time view of a Store with its derived values
// recomputed.
type Snapshot struct {
	Summaries       []gateway.SessionSummary `json:"summaries"`
	SelectedID      string                   `json:"selected_id,omitempty"`
	SelectedSummary *gateway.SessionSummary  `json:"selected_summary,omitempty"`
	SelectedDetail  *gateway.SessionDetail   `json:"selected_session,omitempty"`
	Loading         LoadingState             `json:"loading"`
	LastError       string                   `json:"last_error,omitempty"`
}

// SendResponse is the JSON body of a successful chat action.
type SendResponse struct {
	Success  bool   `json:"success"`
	ThreadID string `json:"thread_id"`
}

// FailResponse is the JSON body of a rejected chat action.
type FailResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
