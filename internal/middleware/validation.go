package middleware

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxQuestionLength bounds a single question in bytes.
	MaxQuestionLength = 10000
	// MaxBodyBytes bounds a request body.
	MaxBodyBytes = 64 * 1024
)

// ValidateQuestion checks the size and encoding of a question. Blank questions are
// left to the service, which reports them with its own error.
func ValidateQuestion(content string) error {
	if len(content) > MaxQuestionLength {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// LimitBody caps request bodies at MaxBodyBytes.
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}
