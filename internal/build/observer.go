package build

import (
	"context"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/sitegen/internal/chain"
	"git.home.luguber.info/inful/sitegen/internal/eventstore"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/metrics"
)

// iterationObserver forwards chain iterations to the journal and metrics.
type iterationObserver struct {
	journal  *eventstore.Journal
	recorder metrics.Recorder
	logger   *slog.Logger
}

var _ chain.Observer = (*iterationObserver)(nil)

func (o *iterationObserver) IterationCompleted(ctx context.Context, st chain.IterationStats) {
	o.recorder.ObserveIteration(st.Iteration, st.Added, st.Skipped, st.Duration)
	err := o.journal.Iteration(context.WithoutCancel(ctx), eventstore.BuildIteration{
		Iteration:   st.Iteration,
		Active:      st.Active,
		Invocations: st.Invocations,
		Added:       st.Added,
		Skipped:     st.Skipped,
		DurationMS:  float64(st.Duration.Microseconds()) / 1000,
	})
	if err != nil {
		o.logger.Warn("Failed to append build.iteration", logfields.Iteration(st.Iteration), logfields.Error(err))
	}
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create directory").
			WithContext("path", dir).Fatal().Build()
	}
	return nil
}
