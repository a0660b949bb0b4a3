package engine

import (
	"context"
	"time"

	"orderbridge/internal/util"
)

// RetryPolicy wraps a transport call.
type RetryPolicy func(ctx context.Context, fn func() error) error

// Once calls fn a single time.
func Once(_ context.Context, fn func() error) error {
	return fn()
}

// Backoff retries fn up to attempts times with exponential backoff from base.
func Backoff(attempts int, base time.Duration) RetryPolicy {
	if attempts <= 1 {
		return Once
	}
	return func(ctx context.Context, fn func() error) error {
		return util.Retry(ctx, attempts, base, fn)
	}
}
