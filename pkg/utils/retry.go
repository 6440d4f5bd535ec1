package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds Retry. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.InitialInterval <= 0 {
		out.InitialInterval = 50 * time.Millisecond
	}
	if out.MaxInterval <= 0 {
		out.MaxInterval = 2 * time.Second
	}
	return out
}

// Retry runs op with exponential backoff while retryable(err) holds.
// Any other error stops immediately and is returned as-is.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
