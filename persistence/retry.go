package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPersistenceFailed marks a write that kept failing after all retries.
var ErrPersistenceFailed = errors.New("persistence failed")

// PersistenceError reports the blob that could not be written and how
// often it was tried.
type PersistenceError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed: %s after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

// Unwrap exposes both the sentinel and the last cause.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceFailed, e.Err}
}

// RetryPolicy is a bounded retry with a fixed delay.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries (minimum 1).
	MaxAttempts int
	// Delay is the pause between tries.
	Delay time.Duration
}

// DefaultRetryPolicy retries three times, 100ms apart.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Delay:       100 * time.Millisecond,
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx ends.
// Exhaustion yields a *PersistenceError naming name.
func (p RetryPolicy) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &PersistenceError{Name: name, Attempts: attempt, Err: ctx.Err()}
			case <-timer.C:
			}
		}
	}
	return &PersistenceError{Name: name, Attempts: attempts, Err: lastErr}
}
