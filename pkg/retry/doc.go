// Package retry provides simple exponential backoff retry logic for transient failures.
//
// # Overview
//
// This package offers a minimal retry mechanism with exponential backoff,
// used for socket binds at startup and broker connection attempts.
//
// # Core Functions
//
//   - Do: Execute function with retry and exponential backoff
//   - DoWithResult: Execute function with retry, returns both result and error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Quick(): 10 attempts, 50ms-1s delay (startup binds)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//
// # Usage Examples
//
// Basic retry with defaults:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Mark an error as non-retryable to stop immediately:
//
//	err := retry.Do(ctx, cfg, func() error {
//	    if badConfig {
//	        return retry.NonRetryable(errConfig)
//	    }
//	    return bind()
//	})
//
// All delays honor context cancellation; a cancelled context aborts the
// backoff sleep and returns immediately.
package retry
