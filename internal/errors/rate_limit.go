package errors

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError is returned when an external source answers with HTTP 429
// or otherwise signals that it is throttling us.
type RateLimitError struct {
	Source     string
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter)
	}
	return msg
}

// NewRateLimitError creates a new RateLimitError with the given message
func NewRateLimitError(source, message string) *RateLimitError {
	return &RateLimitError{Source: source, Message: message}
}

// NewRateLimitErrorWithRetry creates a RateLimitError carrying the server's Retry-After hint.
func NewRateLimitErrorWithRetry(source, message string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Source: source, Message: message, RetryAfter: retryAfter}
}

// IsRateLimitError checks if error is a RateLimitError
func IsRateLimitError(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr)
}
