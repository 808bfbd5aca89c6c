package errors

import "maps"

// ErrorCategory represents the broad category of an error for classification and routing.
type ErrorCategory string

const (
	// Document layer: rejected directly, before any engine is involved.
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"

	// Configuration layer: surfaced to the caller verbatim.
	CategoryConfig ErrorCategory = "config"
	CategoryEngine ErrorCategory = "engine"

	// Concurrency layer.
	CategoryConcurrency ErrorCategory = "concurrency"

	// Compiler and resource layers.
	CategoryCompile ErrorCategory = "compile"
	CategoryTimeout ErrorCategory = "timeout"

	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryRuntime    ErrorCategory = "runtime"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorCode names the precise failure kind inside a category.
type ErrorCode string

const (
	CodeNone              ErrorCode = ""
	CodeInvalidName       ErrorCode = "invalid_name"
	CodeTooLarge          ErrorCode = "too_large"
	CodeNotFound          ErrorCode = "not_found"
	CodeUnknownEngine     ErrorCode = "unknown_engine"
	CodeEngineUnavailable ErrorCode = "engine_unavailable"
	CodeBusy              ErrorCode = "busy"
	CodePassFailed        ErrorCode = "pass_failed"
	CodeTimedOut          ErrorCode = "timed_out"
	CodeInvalidConfig     ErrorCode = "invalid_config"
	CodeInternal          ErrorCode = "internal"
)

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution completely
	SeverityError   ErrorSeverity = "error"   // Fails the current operation
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// RetryStrategy indicates how an error should be handled in retry scenarios.
// The compile pipeline never retries on its own; the strategy is advice for callers.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never" // Permanent failure for this input
	RetryUserAction RetryStrategy = "user"  // Caller may try again later
)

// ErrorContext provides structured context for errors.
type ErrorContext map[string]any

// Set adds or updates a context value.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get retrieves a context value.
func (c ErrorContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	value, exists := c[key]
	return value, exists
}

// GetString retrieves a string context value.
func (c ErrorContext) GetString(key string) (string, bool) {
	if value, exists := c.Get(key); exists {
		if str, ok := value.(string); ok {
			return str, true
		}
	}
	return "", false
}

// Merge combines two contexts, with other taking precedence.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}
	result := make(ErrorContext, len(c)+len(other))
	maps.Copy(result, c)
	maps.Copy(result, other)
	return result
}
