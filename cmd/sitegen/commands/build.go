package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/sitegen/internal/build"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/metrics"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Output      string `short:"o" help:"Output directory (overrides build.output_dir)" type:"path"`
	Incremental bool   `short:"i" help:"Update the output directory in place instead of replacing it"`
	MetricsFile string `name:"metrics-file" help:"Write Prometheus metrics to this textfile after the build" type:"path"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	var prom *metrics.PrometheusRecorder
	if b.MetricsFile != "" {
		prom = metrics.NewPrometheusRecorder(nil)
		rec = prom
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := build.NewBuildService().WithRecorder(rec).WithLogger(slog.Default())
	res, err := svc.Run(ctx, build.Request{
		Config:      cfg,
		OutputDir:   absPath(b.Output),
		Incremental: b.Incremental,
		Trigger:     "cli",
	})
	printReport(g.Stdout, res)

	if prom != nil {
		if werr := prom.WriteTextfile(b.MetricsFile); werr != nil {
			slog.Warn("Failed to write metrics file", logfields.Path(b.MetricsFile), logfields.Error(werr))
		}
	}
	return err
}

func printReport(w io.Writer, res *build.Result) {
	if res == nil || res.BuildID == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "Build %s: %s in %s\n", res.BuildID, res.Status, res.Duration.Round(time.Millisecond))
	if res.Status.IsSuccess() {
		_, _ = fmt.Fprintf(w, "  output:      %s\n", res.OutputPath)
		_, _ = fmt.Fprintf(w, "  files:       %d (%d pages, %d assets)\n", res.Files, res.Pages, res.Assets)
		_, _ = fmt.Fprintf(w, "  written:     %d written, %d unchanged, %d removed\n",
			res.Write.Written, res.Write.Unchanged, res.Write.Removed)
		_, _ = fmt.Fprintf(w, "  derivatives: %d\n", res.Derivatives)
	}
	if res.Iterations > 0 {
		_, _ = fmt.Fprintf(w, "  iterations:  %d\n", res.Iterations)
		_, _ = fmt.Fprintf(w, "  cache:       %d hits, %d misses, %d writes\n",
			res.Cache.Hits, res.Cache.Misses, res.Cache.Writes)
	}
	if len(res.Diagnostics) > 0 {
		_, _ = fmt.Fprintf(w, "  diagnostics: %d\n", len(res.Diagnostics))
		for _, d := range res.Diagnostics {
			_, _ = fmt.Fprintf(w, "    %s\n", d)
		}
	}
}
