package errors

// ErrorBuilder assembles a ClassifiedError.
type ErrorBuilder struct {
	category ErrorCategory
	severity ErrorSeverity
	message  string
	cause    error
	context  ErrorContext
}

// NewError starts an error of category with error severity.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{category: category, severity: SeverityError, message: message}
}

// WrapError starts an error of category caused by err.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.cause = err
	return b
}

// classify starts an error with the default severity of its category.
func classify(category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithSeverity(policyOf(category).severity)
}

func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// WithContext attaches a detail such as the plugin, path or node id.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

func (b *ErrorBuilder) Fatal() *ErrorBuilder   { return b.WithSeverity(SeverityFatal) }
func (b *ErrorBuilder) Warning() *ErrorBuilder { return b.WithSeverity(SeverityWarning) }

// Build returns the error.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category: b.category,
		severity: b.severity,
		message:  b.message,
		cause:    b.cause,
		context:  b.context,
	}
}

// ConfigError reports an invalid or unreadable configuration.
func ConfigError(message string) *ErrorBuilder { return classify(CategoryConfig, message) }

// ScanError reports a missing or unreadable content root.
func ScanError(message string) *ErrorBuilder { return classify(CategoryScan, message) }

// PluginOptionError reports an unknown plugin or an invalid option.
func PluginOptionError(message string) *ErrorBuilder { return classify(CategoryPluginOption, message) }

// PluginCycleError reports a chain that hit its iteration ceiling.
func PluginCycleError(message string) *ErrorBuilder { return classify(CategoryPluginCycle, message) }

// NodeTransformError reports one node failing one plugin. The build goes on.
func NodeTransformError(message string) *ErrorBuilder {
	return classify(CategoryNodeTransform, message)
}

// DerivativeDecodeError reports an undecodable source image as a warning.
func DerivativeDecodeError(message string) *ErrorBuilder {
	return classify(CategoryDerivativeDecode, message)
}

// AssemblyError reports an output role without matching nodes.
func AssemblyError(message string) *ErrorBuilder { return classify(CategoryAssembly, message) }

func CacheError(message string) *ErrorBuilder      { return classify(CategoryCache, message) }
func FileSystemError(message string) *ErrorBuilder { return classify(CategoryFileSystem, message) }
func InternalError(message string) *ErrorBuilder   { return classify(CategoryInternal, message) }
