// Package identitytest provides a fake GoTrue server for tests.
package identitytest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Server is an in-memory GoTrue stand-in. Access tokens are unsigned JWTs
// whose subject is the user id; only tokens the server issued (or that
// were registered with AddToken) pass /user.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]string // email -> password
	tokens    map[string]string // access token -> user id
	refreshes map[string]string // refresh token -> user id
	calls     map[string]int
	seq       int

	// Now is the clock used for token expiry.
	Now func() time.Time

	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL time.Duration

	// FailUser forces /user to answer with this status when non-zero.
	FailUser int
}

// NewServer starts a fake provider. Close it when done.
func NewServer() *Server {
	s := &Server{
		users:     make(map[string]string),
		tokens:    make(map[string]string),
		refreshes: make(map[string]string),
		calls:     make(map[string]int),
		Now:       time.Now,
		TokenTTL:  time.Hour,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddUser registers an account for password sign-in.
func (s *Server) AddUser(email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[email] = password
}

// Issue mints a token pair for userID as if it had signed in.
func (s *Server) Issue(userID string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(userID)
}

// IssueExpired mints a token pair whose access token is already expired.
func (s *Server) IssueExpired(userID string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	access = MakeJWT(userID, s.Now().Add(-time.Minute), s.seq)
	refresh = fmt.Sprintf("refresh-%s-%d", userID, s.seq)
	s.tokens[access] = userID
	s.refreshes[refresh] = userID
	return access, refresh
}

// Calls returns how many times the given endpoint was hit, e.g.
// "GET /auth/v1/user" or "POST /auth/v1/token?grant_type=refresh_token".
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *Server) issueLocked(userID string) (string, string) {
	s.seq++
	access := MakeJWT(userID, s.Now().Add(s.TokenTTL), s.seq)
	refresh := fmt.Sprintf("refresh-%s-%d", userID, s.seq)
	s.tokens[access] = userID
	s.refreshes[refresh] = userID
	return access, refresh
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	if r.URL.Path == "/auth/v1/token" {
		key += "?grant_type=" + r.URL.Query().Get("grant_type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[key]++

	w.Header().Set("X-Supabase-Api-Version", "2024-01-01")
	w.Header().Set("Content-Range", "0-0/1")
	w.Header().Set("X-Internal-Trace", "secret")

	if r.Header.Get("apikey") == "" {
		writeError(w, http.StatusUnauthorized, "no_api_key", "No API key found in request")
		return
	}

	switch key {
	case "POST /auth/v1/token?grant_type=password":
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if pw, ok := s.users[body.Email]; !ok || pw != body.Password {
			writeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}
		s.writeSession(w, body.Email)

	case "POST /auth/v1/token?grant_type=refresh_token":
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		userID, ok := s.refreshes[body.RefreshToken]
		if !ok {
			writeError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(s.refreshes, body.RefreshToken)
		s.writeSession(w, userID)

	case "GET /auth/v1/user":
		if s.FailUser != 0 {
			writeError(w, s.FailUser, "unexpected_failure", "forced failure")
			return
		}
		userID, ok := s.validLocked(bearer(r))
		if !ok {
			writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
			return
		}
		writeJSON(w, http.StatusOK, user(userID))

	case "POST /auth/v1/logout":
		if _, ok := s.validLocked(bearer(r)); !ok {
			writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
			return
		}
		delete(s.tokens, bearer(r))
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusNotFound, "not_found", "not found")
	}
}

func (s *Server) validLocked(token string) (string, bool) {
	userID, ok := s.tokens[token]
	if !ok {
		return "", false
	}
	exp, ok := expiry(token)
	if !ok || !exp.After(s.Now()) {
		return "", false
	}
	return userID, true
}

func (s *Server) writeSession(w http.ResponseWriter, userID string) {
	access, refresh := s.issueLocked(userID)
	ttl := int64(s.TokenTTL.Seconds())
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    ttl,
		"expires_at":    s.Now().Unix() + ttl,
		"user":          user(userID),
	})
}

// MakeJWT builds an unsigned token with the given subject and expiry. seq
// keeps tokens issued in the same second distinct.
func MakeJWT(sub string, exp time.Time, seq int) string {
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims, _ := json.Marshal(map[string]any{"sub": sub, "exp": exp.Unix(), "jti": seq})
	return header + "." + enc.EncodeToString(claims) + ".sig"
}

func expiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, false
	}
	var c struct {
		Exp int64 `json:"exp"`
	}
	if json.Unmarshal(raw, &c) != nil {
		return time.Time{}, false
	}
	return time.Unix(c.Exp, 0), true
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func user(id string) map[string]any {
	return map[string]any{
		"id":         id,
		"aud":        "authenticated",
		"role":       "authenticated",
		"email":      id,
		"created_at": "2024-01-01T00:00:00Z",
		"updated_at": "2024-01-01T00:00:00Z",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "error_code": code, "msg": msg})
}
