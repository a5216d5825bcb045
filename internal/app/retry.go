package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 50 * time.Millisecond
)

// Retrier re-executes a whole unit of work when it fails with a retryable error.
// The wait before attempt n+1 is Backoff*n.
type Retrier struct {
	MaxAttempts int
	Backoff     time.Duration
	// Retryable classifies errors; nil means IsWriteConflict.
	Retryable func(error) bool
	// OnRetry is called before each backoff.
	OnRetry func(attempt int, err error)
}

// DefaultRetrier retries write conflicts three times with 50ms linear backoff.
func DefaultRetrier() Retrier {
	return Retrier{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff}
}

// IsWriteConflict reports whether err is the store's write-conflict signal.
func IsWriteConflict(err error) bool {
	return errors.Is(err, domain.ErrWriteConflict)
}

// Retry runs fn under r. Non-retryable errors are returned as-is on first sight.
func Retry[T any](ctx context.Context, r Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	retryable := r.Retryable
	if retryable == nil {
		retryable = IsWriteConflict
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if attempt >= maxAttempts {
			return zero, fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, attempt, err)
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, err)
		}
		if r.Backoff > 0 {
			timer := time.NewTimer(r.Backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
}
