package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrReadOnly is returned by providers that cannot write (e.g. ICS feeds).
var ErrReadOnly = errors.New("calendar provider is read-only")

// Provider is the calendar backend. Events returns every event overlapping
// [from, to). Write calls must be idempotent at the provider.
type Provider interface {
	Events(ctx context.Context, from, to time.Time) ([]Event, error)
	// SetBusy updates an event's transparency on the shared calendar.
	SetBusy(ctx context.Context, eventID string, busy bool) error
	// CreateEvent adds an event to the shared calendar and returns its id.
	CreateEvent(ctx context.Context, e Event) (string, error)
}

// transientError marks provider failures that are worth retrying
// (rate limits, timeouts, 5xx).
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient wraps err so the reconciler retries it with backoff.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
