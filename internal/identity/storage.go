package identity

import (
	"encoding/base64"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/keyxmakerx/advisor/internal/cookies"
)

// Storage persists the serialized session under a key.
type Storage interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string)
	RemoveItem(key string)
}

// CookieJar is the subset of cookies.Bridge the cookie storage needs.
type CookieJar interface {
	Read() []*http.Cookie
	Get(name string) (string, bool)
	Write(name, value string, opts ...cookies.Option)
	Delete(name string, opts ...cookies.Option)
}

const (
	// base64Prefix marks a cookie value holding base64url-encoded JSON.
	base64Prefix = "base64-"

	// maxChunkSize keeps each cookie comfortably under the 4KB browser limit
	// once name and attributes are added.
	maxChunkSize = 3180
)

// CookieStorage stores the session in one cookie, or in numbered chunk
// cookies (key.0, key.1, ...) when the encoded value is too large.
type CookieStorage struct {
	jar CookieJar
}

// NewCookieStorage creates a Storage backed by jar.
func NewCookieStorage(jar CookieJar) *CookieStorage {
	return &CookieStorage{jar: jar}
}

// GetItem returns the decoded value for key, joining chunks if needed.
func (s *CookieStorage) GetItem(key string) (string, bool) {
	raw, ok := s.jar.Get(key)
	if !ok {
		raw, ok = s.joinChunks(key)
	}
	if !ok || raw == "" {
		return "", false
	}

	if strings.HasPrefix(raw, base64Prefix) {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw[len(base64Prefix):], "="))
		if err != nil {
			return "", false
		}
		return string(decoded), true
	}
	return raw, true
}

// SetItem encodes value and writes it, replacing any previous cookies for
// key (single or chunked).
func (s *CookieStorage) SetItem(key, value string) {
	encoded := base64Prefix + base64.RawURLEncoding.EncodeToString([]byte(value))
	chunks := splitChunks(encoded, maxChunkSize)

	existing := s.chunkNames(key)
	if len(chunks) == 1 {
		s.jar.Write(key, chunks[0])
		for _, name := range existing {
			s.jar.Delete(name)
		}
		return
	}

	written := make(map[string]bool, len(chunks))
	for i, chunk := range chunks {
		name := key + "." + strconv.Itoa(i)
		s.jar.Write(name, chunk)
		written[name] = true
	}
	if _, ok := s.jar.Get(key); ok {
		s.jar.Delete(key)
	}
	for _, name := range existing {
		if !written[name] {
			s.jar.Delete(name)
		}
	}
}

// RemoveItem deletes key and all of its chunks.
func (s *CookieStorage) RemoveItem(key string) {
	if _, ok := s.jar.Get(key); ok {
		s.jar.Delete(key)
	}
	for _, name := range s.chunkNames(key) {
		s.jar.Delete(name)
	}
}

// joinChunks concatenates key.0, key.1, ... until the first gap.
func (s *CookieStorage) joinChunks(key string) (string, bool) {
	var b strings.Builder
	for i := 0; ; i++ {
		v, ok := s.jar.Get(key + "." + strconv.Itoa(i))
		if !ok {
			return b.String(), i > 0
		}
		b.WriteString(v)
	}
}

// chunkNames lists the chunk cookies currently visible for key.
func (s *CookieStorage) chunkNames(key string) []string {
	var names []string
	prefix := key + "."
	for _, ck := range s.jar.Read() {
		if !strings.HasPrefix(ck.Name, prefix) {
			continue
		}
		if _, err := strconv.Atoi(ck.Name[len(prefix):]); err == nil {
			names = append(names, ck.Name)
		}
	}
	sort.Strings(names)
	return names
}

func splitChunks(s string, size int) []string {
	if len(s) <= size {
		return []string{s}
	}
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// MemoryStorage keeps items in process memory. Used by long-lived clients.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (m *MemoryStorage) GetItem(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *MemoryStorage) SetItem(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

func (m *MemoryStorage) RemoveItem(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}
