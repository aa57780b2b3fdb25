package fing

import (
	"errors"
	"fmt"
)

// Sentinel errors for Fing agent operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRetriesExhausted is returned when every attempt allowed by the retry policy failed.
	// The last attempt's error is wrapped alongside it.
	ErrRetriesExhausted = errors.New("fing: request failed")

	// ErrAttemptTimeout is returned when a single attempt exceeds its timeout.
	ErrAttemptTimeout = errors.New("fing: attempt timed out")

	// ErrMalformedPayload is returned when the agent responds with something that is not JSON.
	ErrMalformedPayload = errors.New("fing: malformed payload")

	// ErrInvalidConfig is returned when the client is created without a host or API key.
	ErrInvalidConfig = errors.New("fing: invalid client configuration")
)

// HTTPError is returned when the agent answers with a non-2xx status.
// The message carries the numeric status so that text-based
// classification (e.g. "401") works on wrapped errors too.
type HTTPError struct {
	StatusCode int
	Status     string
}

// Error implements error.
func (e *HTTPError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("fing: HTTP %s", e.Status)
	}
	return fmt.Sprintf("fing: HTTP %d", e.StatusCode)
}
