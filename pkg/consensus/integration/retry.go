package integration

import (
	"context"

	"github.com/sethvargo/go-retry"
)

func newBackoff(cfg RetryConfig) retry.Backoff {
	b := retry.NewExponential(cfg.BaseDelay)
	b = retry.WithCappedDuration(cfg.MaxDelay, b)
	return retry.WithMaxRetries(cfg.MaxRetries, b)
}

// withRetry runs op until it succeeds, fails with an error retryable rejects,
// the retry budget is spent or ctx ends.
func withRetry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, op func(context.Context) error) error {
	return retry.Do(ctx, newBackoff(cfg), func(ctx context.Context) error {
		err := op(ctx)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
