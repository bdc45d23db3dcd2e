// Package errors provides the classified error primitives used across sitegen.
//
// Every failure the build can produce maps to one ErrorCategory. The category
// decides whether the build stops (fatal severity) or whether the failure is
// recorded as a diagnostic and the build continues (error or warning severity).
//
// Example usage:
//
//	err := errors.PluginOptionError("max_width must be positive").
//		WithContext("plugin", "remark-images").
//		Build()
package errors
