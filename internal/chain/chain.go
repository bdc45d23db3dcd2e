// Package chain runs transform plugins over the node graph until no plugin
// produces a node that is not already present.
//
// Within one iteration every transform reads the graph as it was when the
// iteration started; produced nodes are added only after all invocations of
// the iteration have completed. Nodes added in iteration i form the active
// set of iteration i+1.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"git.home.luguber.info/inful/sitegen/internal/diag"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/observability"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
)

// DefaultMaxIterations bounds the fixpoint loop when no ceiling is configured.
const DefaultMaxIterations = 10

// Context is handed to every transform invocation.
type Context struct {
	// Graph is read-only and frozen for the duration of the iteration.
	Graph     graph.Reader
	Iteration int
}

// Link is a relation a transform wants recorded once its nodes are added.
type Link struct {
	Name string
	From string
	To   string
}

// Result is what one invocation produced.
type Result struct {
	Nodes []*graph.Node
	Links []Link
	// Diagnostics are recoverable problems the transform worked around.
	Diagnostics []error
}

// Transformer is a transform plugin. Transform must not retain or modify n.
type Transformer interface {
	Descriptor() plugin.Descriptor
	Transform(ctx context.Context, tc *Context, n *graph.Node) (*Result, error)
}

// Observer is notified after every completed iteration.
type Observer interface {
	IterationCompleted(ctx context.Context, stats IterationStats)
}

// IterationStats summarizes one iteration.
type IterationStats struct {
	Iteration   int
	Active      int
	Invocations int
	Added       int
	Skipped     int
	Duration    time.Duration
}

// Report summarizes a finished run.
type Report struct {
	Iterations []IterationStats
	Added      int
}

// Options configures a Chain.
type Options struct {
	MaxIterations int
	// Workers bounds concurrent invocations; 0 means GOMAXPROCS.
	Workers  int
	Observer Observer
}

// Chain is one configured transform chain.
type Chain struct {
	store        *graph.Store
	transformers []Transformer
	opts         Options
	diags        *diag.Collector
	logger       *slog.Logger
}

// New creates a chain over store. Transformers run in the given order.
func New(store *graph.Store, transformers []Transformer, diags *diag.Collector, opts Options) *Chain {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if diags == nil {
		diags = &diag.Collector{}
	}
	return &Chain{store: store, transformers: transformers, opts: opts, diags: diags, logger: observability.Wrap(slog.Default())}
}

// WithLogger sets a custom logger.
func (c *Chain) WithLogger(logger *slog.Logger) *Chain {
	c.logger = observability.Wrap(logger)
	return c
}

type invocation struct {
	t Transformer
	n *graph.Node
}

// Run iterates to a fixpoint. It returns a PluginCycleError when the
// iteration ceiling is reached while nodes are still being added, and the
// first fatal transform error otherwise. Recoverable errors are recorded as
// diagnostics and skip only the failing node for that plugin.
func (c *Chain) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	active := c.store.Nodes()

	for iteration := 1; len(active) > 0; iteration++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		calls := c.invocations(active)
		if len(calls) == 0 {
			break
		}
		if iteration > c.opts.MaxIterations {
			return report, ferrors.PluginCycleError("transform chain did not reach a fixpoint").
				WithContext("max_iterations", c.opts.MaxIterations).
				WithContext("pending_nodes", len(active)).
				WithContext("pending_types", activeTypes(active)).
				Build()
		}

		ictx := observability.WithIteration(ctx, iteration)
		stats, added, err := c.iterate(ictx, iteration, active, calls)
		report.Iterations = append(report.Iterations, stats)
		report.Added += stats.Added
		if err != nil {
			return report, err
		}
		if c.opts.Observer != nil {
			c.opts.Observer.IterationCompleted(ictx, stats)
		}
		c.logger.DebugContext(ictx, "Iteration complete",
			logfields.Count(stats.Added),
			slog.Int("invocations", stats.Invocations),
			slog.Int("skipped", stats.Skipped))
		active = added
	}
	return report, nil
}

// invocations pairs every transformer with each active node it accepts.
// An empty result means the graph has reached its fixpoint.
func (c *Chain) invocations(active []*graph.Node) []invocation {
	var calls []invocation
	for _, t := range c.transformers {
		d := t.Descriptor()
		for _, n := range active {
			if d.AcceptsType(n.Type) {
				calls = append(calls, invocation{t: t, n: n})
			}
		}
	}
	return calls
}

func (c *Chain) iterate(ctx context.Context, iteration int, active []*graph.Node, calls []invocation) (IterationStats, []*graph.Node, error) {
	start := time.Now()
	stats := IterationStats{Iteration: iteration, Active: len(active)}
	tc := &Context{Graph: c.store, Iteration: iteration}

	stats.Invocations = len(calls)

	results := runOrdered(ctx, calls, c.opts.Workers, func(inv invocation) (*Result, error) {
		return inv.t.Transform(observability.WithPlugin(ctx, inv.t.Descriptor().Name), tc, inv.n)
	})

	var produced []*graph.Node
	var links []Link
	for i, r := range results {
		inv := calls[i]
		name := inv.t.Descriptor().Name
		if r.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(r.Err, ctxErr) {
				return stats, nil, r.Err
			}
			if fatal(r.Err) {
				return stats, nil, withNodeContext(r.Err, name, inv.n)
			}
			stats.Skipped++
			c.record(observability.WithPlugin(ctx, name), "Node skipped by plugin", withNodeContext(r.Err, name, inv.n))
			continue
		}
		if r.Value == nil {
			continue
		}
		for _, d := range r.Value.Diagnostics {
			c.record(observability.WithPlugin(ctx, name), "Plugin reported a diagnostic", withNodeContext(d, name, inv.n))
		}
		produced = append(produced, r.Value.Nodes...)
		links = append(links, r.Value.Links...)
	}

	var added []*graph.Node
	for _, n := range produced {
		n.Iteration = iteration
		if _, ok := c.store.AddNode(n); ok {
			stored, err := c.store.GetNode(n.ID)
			if err != nil {
				return stats, nil, ferrors.WrapError(err, ferrors.CategoryInternal, "added node vanished").Build()
			}
			added = append(added, stored)
		}
	}
	for _, l := range links {
		if err := c.store.LinkRelation(l.Name, l.From, l.To); err != nil {
			return stats, nil, ferrors.WrapError(err, ferrors.CategoryInternal, "link relation").
				WithContext("relation", l.Name).Build()
		}
	}

	stats.Added = len(added)
	stats.Duration = time.Since(start)
	return stats, added, nil
}

func (c *Chain) record(ctx context.Context, msg string, err error) {
	c.diags.AddError(err)
	c.logger.WarnContext(ctx, msg, logfields.Error(err))
}

// fatal reports whether err must abort the build.
func fatal(err error) bool {
	if ferrors.GetSeverity(err) == ferrors.SeverityFatal {
		return true
	}
	return !ferrors.IsRecoverable(err)
}

// withNodeContext attaches plugin and node details to err for diagnostics.
func withNodeContext(err error, pluginName string, n *graph.Node) error {
	c, ok := ferrors.AsClassified(err)
	if !ok {
		return ferrors.WrapError(err, ferrors.CategoryNodeTransform, "transform failed").
			WithContext("plugin", pluginName).
			WithContext("node_id", n.ID).
			WithContext("path", n.Get(graph.InternalSourcePath)).
			Build()
	}
	ctx := c.Context()
	if _, ok := ctx.GetString("plugin"); !ok {
		c = c.WithContext("plugin", pluginName)
	}
	if _, ok := ctx.GetString("node_id"); !ok {
		c = c.WithContext("node_id", n.ID)
	}
	if _, ok := ctx.GetString("path"); !ok {
		if p := n.Get(graph.InternalSourcePath); p != "" {
			c = c.WithContext("path", p)
		}
	}
	return c
}

func activeTypes(nodes []*graph.Node) string {
	var types []string
	for _, n := range nodes {
		if !slices.Contains(types, n.Type) {
			types = append(types, n.Type)
		}
	}
	slices.Sort(types)
	return fmt.Sprint(types)
}
