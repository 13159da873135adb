package ledger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const retryDelay = 25 * time.Millisecond

// RetryOnce runs operation and repeats it a single time when it fails with a retryable error.
func RetryOnce[T any](ctx context.Context, operation func(ctx context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		result, err := operation(ctx)
		if err != nil && !IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, backoff.WithBackOff(backoff.NewConstantBackOff(retryDelay)), backoff.WithMaxTries(2))
}
