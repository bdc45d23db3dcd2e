// Package observability carries build-scoped log fields in a context and
// attaches them to every record logged with that context.
package observability

import (
	"context"
	"log/slog"
)

// Fields are the build-scoped log attributes a context may carry.
type Fields struct {
	BuildID   string
	Stage     string
	Iteration int
	Plugin    string
}

type fieldsKey struct{}

func update(ctx context.Context, fn func(*Fields)) context.Context {
	f := FromContext(ctx)
	fn(&f)
	return context.WithValue(ctx, fieldsKey{}, f)
}

// WithBuildID records the build id.
func WithBuildID(ctx context.Context, buildID string) context.Context {
	return update(ctx, func(f *Fields) { f.BuildID = buildID })
}

// WithStage records the build stage (cache, scan, transform, assemble, write).
func WithStage(ctx context.Context, stage string) context.Context {
	return update(ctx, func(f *Fields) { f.Stage = stage })
}

// WithIteration records the fixpoint iteration (1-based).
func WithIteration(ctx context.Context, iteration int) context.Context {
	return update(ctx, func(f *Fields) { f.Iteration = iteration })
}

// WithPlugin records the transform plugin being invoked.
func WithPlugin(ctx context.Context, plugin string) context.Context {
	return update(ctx, func(f *Fields) { f.Plugin = plugin })
}

// FromContext returns the fields carried by ctx.
func FromContext(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

// Attrs returns the non-zero fields as log attributes.
func (f Fields) Attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 4)
	if f.BuildID != "" {
		attrs = append(attrs, slog.String("build_id", f.BuildID))
	}
	if f.Stage != "" {
		attrs = append(attrs, slog.String("stage", f.Stage))
	}
	if f.Iteration > 0 {
		attrs = append(attrs, slog.Int("iteration", f.Iteration))
	}
	if f.Plugin != "" {
		attrs = append(attrs, slog.String("plugin", f.Plugin))
	}
	return attrs
}

// Handler adds the context fields to each record before passing it on.
type Handler struct {
	next slog.Handler
}

// NewHandler wraps next.
func NewHandler(next slog.Handler) *Handler {
	return &Handler{next: next}
}

// Wrap returns logger with its handler wrapped by Handler. A logger that is
// already wrapped is returned as is; nil wraps the default logger.
func Wrap(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := logger.Handler().(*Handler); ok {
		return logger
	}
	return slog.New(NewHandler(logger.Handler()))
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := FromContext(ctx).Attrs(); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name)}
}
