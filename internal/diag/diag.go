// Package diag collects recoverable build problems so they can be reported
// together at the end of a build instead of aborting it.
package diag

import (
	"fmt"
	"strings"
	"sync"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
)

// Diagnostic is one recorded problem.
type Diagnostic struct {
	Severity ferrors.ErrorSeverity `json:"severity"`
	Category ferrors.ErrorCategory `json:"category"`
	Plugin   string                `json:"plugin,omitempty"`
	NodeID   string                `json:"node_id,omitempty"`
	Path     string                `json:"path,omitempty"`
	Message  string                `json:"message"`
}

// String renders the diagnostic on one line.
func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", d.Severity, d.Category)
	if d.Plugin != "" {
		fmt.Fprintf(&b, " %s", d.Plugin)
	}
	if d.Path != "" {
		fmt.Fprintf(&b, " %s", d.Path)
	}
	fmt.Fprintf(&b, ": %s", d.Message)
	return b.String()
}

// FromError converts err into a diagnostic. Context keys plugin, node_id and
// path on a classified error fill the matching fields.
func FromError(err error) Diagnostic {
	d := Diagnostic{
		Severity: ferrors.GetSeverity(err),
		Category: ferrors.GetCategory(err),
		Message:  err.Error(),
	}
	if c, ok := ferrors.AsClassified(err); ok {
		d.Message = c.Message()
		if cause := c.Cause(); cause != nil {
			d.Message += ": " + cause.Error()
		}
		d.Plugin, _ = c.Context().GetString("plugin")
		d.NodeID, _ = c.Context().GetString("node_id")
		d.Path, _ = c.Context().GetString("path")
	}
	return d
}

// Collector accumulates diagnostics. It is safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Add records d.
func (c *Collector) Add(d ...Diagnostic) {
	c.mu.Lock()
	c.items = append(c.items, d...)
	c.mu.Unlock()
}

// AddError records err as a diagnostic.
func (c *Collector) AddError(err error) {
	if err == nil {
		return
	}
	c.Add(FromError(err))
}

// All returns the recorded diagnostics in insertion order.
func (c *Collector) All() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}

// Count returns how many diagnostics have severity s.
func (c *Collector) Count(s ferrors.ErrorSeverity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.items {
		if d.Severity == s {
			n++
		}
	}
	return n
}

// Len returns the number of recorded diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
