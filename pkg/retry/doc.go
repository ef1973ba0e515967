// Package retry runs operations with exponential backoff.
//
// Only transient failures are retried. An error classified invalid or fatal
// by the errors package, or wrapped with NonRetryable, ends Do at once:
//
//	err := retry.Do(ctx, retry.Connect(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Presets:
//
//   - DefaultConfig: 3 attempts, 100ms to 5s
//   - Connect: 30 attempts, 200ms to 10s, for the NATS connection at startup
//   - Registration: 5 attempts, 50ms to 1s, for prefix registration
//
// Set Config.OnRetry to log each backoff.
package retry
