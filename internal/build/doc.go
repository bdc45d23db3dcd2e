// Package build runs one complete site build.
//
// A build resolves the plugin configuration, scans the content roots into the
// node graph, runs the transform chain to its fixpoint, assembles the output
// and writes it, then commits the cache, appends the journal and publishes a
// notification. All execution paths (CLI build, watch, tests) go through
// Service.
package build
