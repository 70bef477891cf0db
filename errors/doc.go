// Package errors provides standardized error handling patterns for parrot components.
//
// # Overview
//
// The package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable),
// and Fatal (unrecoverable, stop processing).
//
// Classification enables components to make informed decisions about
// retries and failure recovery without hardcoded error string matching,
// while integrating with Go's standard error handling (errors.Is,
// errors.As, wrapping chains).
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")  // retryable
//	errors.WrapInvalid(err, "Component", "Method", "action")    // bad input
//	errors.WrapFatal(err, "Component", "Method", "action")      // unrecoverable
//
// The generic Wrap() adds context without setting a class.
//
// # Classification Rules
//
//   - Transient: connection errors, timeouts, context cancellation,
//     circuit breaker open. Retry with backoff (see pkg/retry).
//   - Invalid: malformed frames, oversized frames, validation failures.
//     Drop and continue; never retry.
//   - Fatal: invalid or missing configuration. Report and abort startup.
//
// Unknown errors default to transient so that callers err on the side
// of retrying.
package errors
