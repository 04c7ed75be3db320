package middleware

import "net/http"

// ForwardHeaders copies from src into dst only the headers named in allow
// (case-insensitive). Headers not on the list are never copied, and a
// header already present in dst is replaced.
func ForwardHeaders(dst, src http.Header, allow []string) {
	for _, name := range allow {
		key := http.CanonicalHeaderKey(name)
		values := src.Values(key)
		if len(values) == 0 {
			continue
		}
		dst.Del(key)
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
