package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/sitegen/internal/build"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/metrics"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
	"git.home.luguber.info/inful/sitegen/internal/scanner"
	"git.home.luguber.info/inful/sitegen/internal/watch"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Output      string        `short:"o" help:"Output directory (overrides build.output_dir)" type:"path"`
	Every       time.Duration `help:"Also rebuild on this interval (e.g. 1h)"`
	Debounce    time.Duration `help:"Quiet period before a change triggers a rebuild" default:"300ms"`
	MetricsAddr string        `name:"metrics-addr" help:"Serve Prometheus metrics on this address (e.g. :9108)"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	set, err := plugin.Resolve(cfg.Plugins)
	if err != nil {
		return err
	}
	var roots []string
	for _, r := range scanner.RootsFromPlugins(set, cfg.ResolvePath) {
		roots = append(roots, r.Path)
	}
	outputDir := absPath(w.Output)
	if outputDir == "" {
		outputDir = cfg.ResolvePath(cfg.Build.OutputDir)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	prom := metrics.NewPrometheusRecorder(nil)
	if w.MetricsAddr != "" {
		srv := metrics.NewServer(w.MetricsAddr, prom.Registry())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", logfields.Error(err))
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
		slog.Info("Serving metrics", slog.String("addr", w.MetricsAddr))
	}

	svc := build.NewBuildService().WithRecorder(prom).WithLogger(slog.Default())
	// The configuration is reloaded for every build so edits apply without a
	// restart. Content roots are fixed for the lifetime of the watcher.
	rebuild := func(ctx context.Context, trigger string) error {
		current, err := root.loadConfig(g)
		if err != nil {
			return err
		}
		res, err := svc.Run(ctx, build.Request{
			Config:      current,
			OutputDir:   outputDir,
			Incremental: true,
			Trigger:     trigger,
		})
		printReport(g.Stdout, res)
		return err
	}

	watcher, err := watch.New(rebuild, watch.Options{
		ConfigPath: root.Config,
		Roots:      roots,
		Ignore:     []string{outputDir, cfg.ResolvePath(cfg.Build.CacheDir)},
		Debounce:   w.Debounce,
		Every:      w.Every,
		Logger:     slog.Default(),
	})
	if err != nil {
		return err
	}
	return watcher.Run(ctx)
}
