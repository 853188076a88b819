// Package retry provides backoff strategies and a context-aware retry loop.
//
// Do retries an operation on the same resource, which in this module means
// transient transport failures (connection errors, 502/503/504) and busy
// SQLite writes. Platform failure classes are deliberately not retryable:
// they are recovered by the login loop, which uses ClassBackoff to pace its
// attempts across sessions.
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return store.IncrementUsage(ctx, id)
//	}, &retry.Config{
//		MaxAttempts: 5,
//		Backoff:     &retry.ConstantBackoff{Delay: 50 * time.Millisecond},
//		RetryIf:     storage.IsBusy,
//	})
package retry
