// Package errors provides the classified error primitives used across texbuilder.
//
// Every failure the compile pipeline can report is a ClassifiedError carrying:
//   - ErrorCategory: broad layer (validation, not_found, engine, concurrency, compile, timeout, ...)
//   - ErrorCode: the exact kind a caller can branch on (invalid_name, busy, pass_failed, ...)
//   - ErrorSeverity: impact level (fatal, error, warning, info)
//   - RetryStrategy: whether a caller may try again (never, user)
//   - ErrorContext: structured details rendered by the HTTP and CLI adapters
//
// Example usage:
//
//	err := errors.Busy("compile already running").
//		WithContext("document", name).
//		Build()
package errors
