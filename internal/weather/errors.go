package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/i474232898/meteocat-sync/internal/meteocat"
)

var (
	// ErrCriticalDataMissing is matched by every *CriticalDataMissingError.
	ErrCriticalDataMissing = errors.New("critical data missing")

	// ErrRecordNotFound is returned when a reference list does not contain
	// the requested identifier.
	ErrRecordNotFound = errors.New("record not found")

	// ErrEntryNotFound is returned by entry stores for unknown IDs.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrNotConfigured is returned by forced cycles asking for a group the
	// entry cannot provide (no station, forecast disabled).
	ErrNotConfigured = errors.New("data group not configured")

	errNoKeyManager = errors.New("re-authentication not supported")
)

// CriticalDataMissingError fails a cycle whose critical groups could not be
// fetched. It unwraps to ErrCriticalDataMissing and to each group's cause.
type CriticalDataMissingError struct {
	Groups []Group
	Causes []error
}

func (e *CriticalDataMissingError) Error() string {
	names := make([]string, 0, len(e.Groups))
	for _, g := range e.Groups {
		names = append(names, string(g))
	}
	msg := fmt.Sprintf("%v: %s", ErrCriticalDataMissing, strings.Join(names, ", "))
	if len(e.Causes) > 0 {
		msg += ": " + errors.Join(e.Causes...).Error()
	}
	return msg
}

func (e *CriticalDataMissingError) Unwrap() []error {
	return append([]error{ErrCriticalDataMissing}, e.Causes...)
}

// IsAuth reports whether err means the credential was rejected.
func IsAuth(err error) bool {
	return errors.Is(err, meteocat.ErrAuth)
}

// IsTransient reports whether a failed cycle is worth one quick retry: the
// remote was unreachable or the cycle timed out, and the credential was not
// rejected.
func IsTransient(err error) bool {
	if err == nil || IsAuth(err) {
		return false
	}
	return errors.Is(err, meteocat.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
