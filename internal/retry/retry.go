// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"github.com/cenkalti/backoff/v5"
)

// Policy controls how many times and how long Do waits between attempts.
type Policy struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Retryable decides whether an error is worth another attempt. Defaults to apperror.IsRetryable.
	Retryable func(error) bool
	// OnRetry is called before sleeping; attempt is 1-based.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy waits 1s, 2s, 4s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   10 * time.Second,
	}
}

// BackOff returns a deterministic exponential schedule for p.
func (p Policy) BackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<63 - 1)
	}
	b.Reset()
	return b
}

// delayed carries a server-provided wait alongside the original error.
type delayed struct {
	err  error
	wait *backoff.RetryAfterError
}

func (d *delayed) Error() string   { return d.err.Error() }
func (d *delayed) Unwrap() []error { return []error{d.err, d.wait} }

// unwrap strips the backoff markers Do adds so callers see their own error.
func unwrap(err error) error {
	if perm, ok := err.(*backoff.PermanentError); ok {
		err = perm.Err
	}
	if d, ok := err.(*delayed); ok {
		err = d.err
	}
	return err
}

// Do calls fn until it succeeds, returns a non-retryable error, attempts are
// exhausted or ctx is done. A server-provided Retry-After on the error replaces
// the computed backoff.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = apperror.IsRetryable
	}

	attempt := 0
	op := func() (T, error) {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return result, backoff.Permanent(err)
		}
		if wait := apperror.RetryAfterOf(err); wait > 0 {
			return result, &delayed{err: err, wait: &backoff.RetryAfterError{Duration: wait}}
		}
		return result, err
	}
	notify := func(err error, next time.Duration) {
		attempt++
		if p.OnRetry != nil {
			p.OnRetry(attempt, next, unwrap(err))
		}
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.BackOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var zero T
		return zero, unwrap(err)
	}
	return result, nil
}
