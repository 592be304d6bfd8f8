package meteocat

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when the API rejects the credential. Never retried.
	ErrAuth = errors.New("meteocat: credential rejected")

	// ErrRateLimited marks a single attempt that hit the remote quota.
	ErrRateLimited = errors.New("meteocat: rate limited")

	// ErrQuotaExceeded is terminal: rate limiting persisted through every attempt.
	ErrQuotaExceeded = fmt.Errorf("%w: quota exceeded", ErrRateLimited)

	// ErrTransient marks a single attempt that failed at the network level
	// (timeout, connection error, 5xx).
	ErrTransient = errors.New("meteocat: transient network failure")

	// ErrUnreachable is terminal: transient failures persisted through every
	// attempt, or the circuit breaker is open.
	ErrUnreachable = fmt.Errorf("%w: api unreachable", ErrTransient)

	errNoHTTPClient  = errors.New("meteocat: http client not configured")
	errInvalidConfig = errors.New("meteocat: invalid backoff configuration")
)

// StatusError is returned for non-2xx responses that are neither auth,
// rate-limit nor server errors (e.g. 400, 404). Not retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("meteocat: unexpected status %d: %s", e.Code, e.Body)
}
