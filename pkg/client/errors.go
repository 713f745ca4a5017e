package client

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed marks a 401/403 from the source. Never retried; the
	// source is fatal-for-this-cycle.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited marks a request that could not obtain a rate token
	// within the configured max wait, or a 429 that exhausted retries.
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen marks a request rejected by an open circuit breaker.
	ErrCircuitOpen = errors.New("circuit breaker open")

	errUnexpectedStatusCode = errors.New("unexpected status code")
)

// StatusError carries the HTTP status of a failed request so the retry
// policy can classify it.
type StatusError struct {
	StatusCode int
	RetryAfter int // seconds, from the Retry-After header; 0 when absent
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d", errUnexpectedStatusCode, e.StatusCode)
}

// Transient reports whether the status should be retried.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
