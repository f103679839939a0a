package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff retries an operation with exponential delays (base, 2*base, 4*base, ...).
type Backoff struct {
	Base           time.Duration
	MaxRetries     int
	AttemptTimeout time.Duration // 0 disables the per-attempt deadline
}

// New creates a Backoff.
func New(base time.Duration, maxRetries int, attemptTimeout time.Duration) Backoff {
	return Backoff{Base: base, MaxRetries: maxRetries, AttemptTimeout: attemptTimeout}
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Do runs fn until it succeeds, returns a Permanent error, retries are exhausted or ctx is done.
// onRetry, when non-nil, is called before each wait.
func (b Backoff) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	var lastErr error
	for i := 0; i <= b.MaxRetries; i++ {
		lastErr = b.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if i == b.MaxRetries {
			break
		}
		wait := time.Duration(1<<uint(i)) * b.Base
		if onRetry != nil {
			onRetry(i+1, wait, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", b.MaxRetries+1, lastErr)
}

func (b Backoff) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, b.AttemptTimeout)
	defer cancel()
	return fn(actx)
}

// Read is the policy for idempotent reads against the store and external APIs.
func Read() Backoff { return New(200*time.Millisecond, 2, 0) }

// Value runs fn under b and returns its result. Errors for which final reports true,
// and context errors, are returned without retrying.
func Value[T any](ctx context.Context, b Backoff, fn func(ctx context.Context) (T, error), final func(error) bool,
	onRetry func(attempt int, wait time.Duration, err error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || (final != nil && final(err)) {
				return Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, onRetry)
	return out, err
}
