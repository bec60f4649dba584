package middleware

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"
)

const (
	maxChatIDLength = 128
	maxJSONBody     = 1 << 20
)

// ValidateChatID validates a conversation id taken from the URL.
func ValidateChatID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("chat ID cannot be empty")
	}
	if !utf8.ValidString(id) {
		return errors.New("chat ID must be valid UTF-8")
	}
	if utf8.RuneCountInString(id) > maxChatIDLength {
		return errors.New("chat ID exceeds maximum length")
	}
	if strings.ContainsRune(id, 0) {
		return errors.New("chat ID must not contain NUL bytes")
	}
	return nil
}

// LimitJSONBody caps request bodies on small JSON endpoints. Multipart
// uploads are bounded separately by the upload handler.
func LimitJSONBody(next http.Handler) http.Handler {
	return LimitBody(maxJSONBody)(next)
}

// LimitBody caps request bodies at maxBytes. A non-positive maxBytes
// falls back to the JSON default.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = maxJSONBody
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
