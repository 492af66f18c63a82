package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind splits provider failures into retryable and terminal classes.
type ErrorKind string

const (
	// KindTransient covers timeouts, 5xx responses and rate limits; the
	// caller retries with backoff.
	KindTransient ErrorKind = "transient"
	// KindHard covers auth failures, bad requests and anything else that a
	// retry cannot fix; the caller aborts the loop.
	KindHard ErrorKind = "hard"
)

// Error is a classified provider failure.
type Error struct {
	Kind       ErrorKind
	Status     int // HTTP status, 0 when not applicable
	Reason     string
	RetryAfter time.Duration // from a rate-limit response, 0 when absent
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s error (status %d): %s", e.Kind, e.Status, e.Reason)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Reason)
}

// NewHTTPError classifies an HTTP failure by status code.
func NewHTTPError(status int, reason string, retryAfter time.Duration) *Error {
	kind := KindHard
	if status >= 500 || status == 429 || status == 408 {
		kind = KindTransient
	}
	return &Error{Kind: kind, Status: status, Reason: reason, RetryAfter: retryAfter}
}

// IsTransient reports whether err should be retried. Network timeouts count
// as transient even when they were not classified at the HTTP layer.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
