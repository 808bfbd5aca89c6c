package errors

// ErrorBuilder provides a fluent API for creating ClassifiedError instances.
type ErrorBuilder struct {
	category ErrorCategory
	code     ErrorCode
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

// NewError creates a new ErrorBuilder with the specified category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		category: category,
		severity: SeverityError,
		retry:    RetryNever,
		message:  message,
		context:  make(ErrorContext),
	}
}

// WrapError creates a new ErrorBuilder that wraps an existing error.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.cause = err
	return b
}

// WithCode sets the error code.
func (b *ErrorBuilder) WithCode(code ErrorCode) *ErrorBuilder {
	b.code = code
	return b
}

// WithCause sets the wrapped error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// WithRetry sets the retry strategy.
func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.retry = strategy
	return b
}

// WithContext adds a context key-value pair.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

// WithContextMap adds multiple context values.
func (b *ErrorBuilder) WithContextMap(ctx ErrorContext) *ErrorBuilder {
	b.context = b.context.Merge(ctx)
	return b
}

// Fatal sets the severity to fatal.
func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	return b.WithSeverity(SeverityFatal)
}

// Warning sets the severity to warning.
func (b *ErrorBuilder) Warning() *ErrorBuilder {
	return b.WithSeverity(SeverityWarning)
}

// UserAction marks the error as retryable at the caller's discretion.
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	return b.WithRetry(RetryUserAction)
}

// Build creates the final ClassifiedError.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category: b.category,
		code:     b.code,
		severity: b.severity,
		retry:    b.retry,
		message:  b.message,
		cause:    b.cause,
		context:  b.context,
	}
}

// Convenience constructors, one per failure kind.

// InvalidName rejects a document name outside the safe character set.
func InvalidName(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).WithCode(CodeInvalidName)
}

// TooLarge rejects source text over the configured size bound.
func TooLarge(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).WithCode(CodeTooLarge)
}

// NotFound reports a missing document or artifact.
func NotFound(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message).WithCode(CodeNotFound)
}

// UnknownEngine rejects an engine identifier outside the supported set.
func UnknownEngine(message string) *ErrorBuilder {
	return NewError(CategoryEngine, message).WithCode(CodeUnknownEngine)
}

// EngineUnavailable reports a supported engine that is not installed.
func EngineUnavailable(message string) *ErrorBuilder {
	return NewError(CategoryEngine, message).WithCode(CodeEngineUnavailable)
}

// Busy reports a document whose compile lock is already held.
func Busy(message string) *ErrorBuilder {
	return NewError(CategoryConcurrency, message).WithCode(CodeBusy).Warning().UserAction()
}

// PassFailed reports a compiler pass that failed on the document.
func PassFailed(message string) *ErrorBuilder {
	return NewError(CategoryCompile, message).WithCode(CodePassFailed)
}

// TimedOut reports a pass that exceeded the wall-clock bound.
func TimedOut(message string) *ErrorBuilder {
	return NewError(CategoryTimeout, message).WithCode(CodeTimedOut)
}

// ConfigError creates a configuration error.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).WithCode(CodeInvalidConfig).Fatal()
}

// FileSystemError creates a filesystem error.
func FileSystemError(message string) *ErrorBuilder {
	return NewError(CategoryFileSystem, message)
}

// RuntimeError creates a runtime error.
func RuntimeError(message string) *ErrorBuilder {
	return NewError(CategoryRuntime, message).Fatal()
}

// InternalError creates an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).WithCode(CodeInternal).Fatal()
}
