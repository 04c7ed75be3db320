package gateway

import (
	"encoding/json"
	"io"
)

// SessionSummary is one entry of GET /sessions.
type SessionSummary struct {
	SessionID     string          `json:"session_id"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
	MessageCount  int             `json:"message_count"`
	LatestMessage json.RawMessage `json:"latest_message,omitempty"`
}

// SessionMessage is one turn of a conversation. Content is an object whose
// shape depends on the role; it is passed through.
type SessionMessage struct {
	ID        int64           `json:"id"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	CreatedAt string          `json:"created_at"`
}

// SessionDetail is returned by GET /sessions/{id}. The planning and
// optimization payloads are passed through untouched.
type SessionDetail struct {
	SessionID               string           `json:"session_id"`
	CreatedAt               string           `json:"created_at"`
	UpdatedAt               string           `json:"updated_at"`
	Messages                []SessionMessage `json:"messages"`
	Timeline                json.RawMessage  `json:"timeline,omitempty"`
	Intake                  json.RawMessage  `json:"intake,omitempty"`
	Planning                json.RawMessage  `json:"planning,omitempty"`
	Optimization            json.RawMessage  `json:"optimization,omitempty"`
	OptimizationSummary     json.RawMessage  `json:"optimization_summary,omitempty"`
	OptimizationCandidates  json.RawMessage  `json:"optimization_candidates,omitempty"`
	OptimizationMatrix      json.RawMessage  `json:"optimization_matrix,omitempty"`
	EngineRecommendedIndex  *int             `json:"engine_recommended_index,omitempty"`
	AdvisorRecommendedIndex *int             `json:"advisor_recommended_index,omitempty"`
	TermSweep               json.RawMessage  `json:"term_sweep,omitempty"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	Response                string          `json:"response"`
	ThreadID                string          `json:"thread_id"`
	FilesProcessed          json.RawMessage `json:"files_processed,omitempty"`
	Timeline                json.RawMessage `json:"timeline,omitempty"`
	Intake                  json.RawMessage `json:"intake,omitempty"`
	Planning                json.RawMessage `json:"planning,omitempty"`
	Optimization            json.RawMessage `json:"optimization,omitempty"`
	OptimizationSummary     json.RawMessage `json:"optimization_summary,omitempty"`
	OptimizationCandidates  json.RawMessage `json:"optimization_candidates,omitempty"`
	OptimizationMatrix      json.RawMessage `json:"optimization_matrix,omitempty"`
	EngineRecommendedIndex  *int            `json:"engine_recommended_index,omitempty"`
	AdvisorRecommendedIndex *int            `json:"advisor_recommended_index,omitempty"`
	TermSweep               json.RawMessage `json:"term_sweep,omitempty"`
}

// ChatRequest is a message to post, optionally continuing a thread and
// carrying attachments.
type ChatRequest struct {
	Message  string
	ThreadID string
	Files    []File
}

// File is one attachment. Content is read once while the request body is
// written.
type File struct {
	Name        string
	ContentType string
	Content     io.Reader
}
