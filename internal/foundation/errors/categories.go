package errors

// ErrorCategory is the kind of failure. It decides the default severity,
// whether the build may continue and the CLI exit code.
type ErrorCategory string

const (
	// CategoryConfig is an unreadable or invalid sitegen.yaml.
	CategoryConfig ErrorCategory = "config"
	// CategoryScan is a missing or unreadable content root.
	CategoryScan ErrorCategory = "scan"
	// CategoryPluginOption is an unknown plugin or an invalid option value.
	CategoryPluginOption ErrorCategory = "plugin_option"
	// CategoryPluginCycle is a transform chain that never reached a fixpoint.
	CategoryPluginCycle ErrorCategory = "plugin_cycle"
	// CategoryNodeTransform is one node failing one plugin.
	CategoryNodeTransform ErrorCategory = "node_transform"
	// CategoryDerivativeDecode is a source image that could not be decoded.
	CategoryDerivativeDecode ErrorCategory = "derivative_decode"
	// CategoryAssembly is an output role without matching nodes.
	CategoryAssembly ErrorCategory = "assembly"

	CategoryCache      ErrorCategory = "cache"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryEventStore ErrorCategory = "eventstore"
	CategoryRuntime    ErrorCategory = "runtime"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity is the impact of an error on the build.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // stops the build
	SeverityError   ErrorSeverity = "error"   // fails the current node or operation
	SeverityWarning ErrorSeverity = "warning" // output is degraded
	SeverityInfo    ErrorSeverity = "info"
)

type categoryPolicy struct {
	severity   ErrorSeverity // used by the named constructors
	structural bool          // aborts the build whatever the severity
	exitCode   int
}

var taxonomy = map[ErrorCategory]categoryPolicy{
	CategoryConfig:           {SeverityFatal, true, ExitConfig},
	CategoryScan:             {SeverityFatal, true, ExitScan},
	CategoryPluginOption:     {SeverityFatal, true, ExitUsage},
	CategoryPluginCycle:      {SeverityFatal, true, ExitCycle},
	CategoryNodeTransform:    {SeverityError, false, ExitFailure},
	CategoryDerivativeDecode: {SeverityWarning, false, ExitFailure},
	CategoryAssembly:         {SeverityFatal, false, ExitAssembly},
	CategoryCache:            {SeverityError, false, ExitStorage},
	CategoryFileSystem:       {SeverityFatal, false, ExitStorage},
	CategoryEventStore:       {SeverityError, false, ExitStorage},
	CategoryRuntime:          {SeverityError, false, ExitRuntime},
	CategoryInternal:         {SeverityFatal, false, ExitInternal},
}

func policyOf(c ErrorCategory) categoryPolicy {
	if p, ok := taxonomy[c]; ok {
		return p
	}
	return categoryPolicy{severity: SeverityError, exitCode: ExitFailure}
}

// ErrorContext is the structured detail attached to an error.
type ErrorContext map[string]any

// Set adds or updates a value, allocating the map when needed.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get returns a value.
func (c ErrorContext) Get(key string) (any, bool) {
	value, ok := c[key]
	return value, ok
}

// GetString returns a string value.
func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}
