// Package retry is the single retry policy applied to every network-bound
// operation in the auth core. Fixed attempt counts with a constant delay
// and an overall deadline; nothing in the core hand-rolls its own loop.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how often an operation is attempted, how long to wait
// between attempts, and the overall deadline across all attempts.
// A zero Timeout means the caller's context is the only bound.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Permanent marks err as non-retryable. The policy stops immediately and
// returns the wrapped error.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue runs op under the policy and returns its value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Backoff), uint64(attempts-1)),
		ctx,
	)
	return backoff.RetryWithData(func() (T, error) {
		if err := ctx.Err(); err != nil {
			return *new(T), backoff.Permanent(err)
		}
		return op(ctx)
	}, bo)
}
