package internal

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times, waiting 100ms, 200ms, 400ms, ...
// between attempts. It returns the last error, or ctx.Err() if ctx is
// cancelled while waiting.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	_, err := RetryResult(ctx, attempts, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryResult is like Retry but for functions that return a value.
func RetryResult[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; i < attempts; i++ {
		if result, err = fn(); err == nil {
			return result, nil
		}
		if i < attempts-1 {
			select {
			case <-time.After(backoff(i)):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}
	return result, err
}

func backoff(attempt int) time.Duration {
	return time.Duration(100*(1<<attempt)) * time.Millisecond
}
