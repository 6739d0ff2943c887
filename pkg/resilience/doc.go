/*
Package resilience provides the retry-with-backoff primitive used by the
connection core's reconnect loop.

	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
	    return upstream.Call(ctx)
	})

MaxAttempts of -1 retries forever (bounded only by ctx), matching the
connection core's own "-1 = unlimited" reconnect-attempts convention.
*/
package resilience
