// Package watch rebuilds the site when content or configuration changes and,
// optionally, on a fixed schedule.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
)

// DefaultDebounce collapses bursts of file events into one rebuild.
const DefaultDebounce = 300 * time.Millisecond

// Build triggers.
const (
	TriggerStart    = "start"
	TriggerChange   = "watch"
	TriggerSchedule = "schedule"
)

// BuildFunc runs one build. Errors are logged and watching continues.
type BuildFunc func(ctx context.Context, trigger string) error

// Options configures a Watcher.
type Options struct {
	// ConfigPath is watched for changes; its directory is not watched
	// recursively.
	ConfigPath string
	// Roots are watched recursively.
	Roots []string
	// Ignore lists directories whose events never trigger a build, such as
	// the output and cache directories.
	Ignore   []string
	Debounce time.Duration
	// Every schedules periodic rebuilds when positive.
	Every  time.Duration
	Logger *slog.Logger
}

// Watcher serializes builds triggered by file events and the schedule.
type Watcher struct {
	opts      Options
	build     BuildFunc
	fsw       *fsnotify.Watcher
	scheduler gocron.Scheduler
	scheduled chan struct{}
	logger    *slog.Logger
}

// New creates a watcher for build.
func New(build BuildFunc, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ConfigPath != "" {
		if abs, err := filepath.Abs(opts.ConfigPath); err == nil {
			opts.ConfigPath = abs
		}
	}
	for i, p := range opts.Ignore {
		if abs, err := filepath.Abs(p); err == nil {
			opts.Ignore[i] = abs
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "create file watcher").Fatal().Build()
	}
	w := &Watcher{
		opts:      opts,
		build:     build,
		fsw:       fsw,
		scheduled: make(chan struct{}, 1),
		logger:    opts.Logger,
	}
	if opts.Every > 0 {
		if err := w.schedule(opts.Every); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) schedule(every time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "create scheduler").Fatal().Build()
	}
	_, err = s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			select {
			case w.scheduled <- struct{}{}:
			default:
			}
		}),
		gocron.WithName("scheduled-build"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return ferrors.WrapError(err, ferrors.CategoryConfig, "schedule periodic build").
			WithContext("every", every.String()).Build()
	}
	w.scheduler = s
	return nil
}

// Run builds once, then rebuilds on changes until ctx is done. It returns
// nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	for _, root := range w.opts.Roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	if w.opts.ConfigPath != "" {
		if err := w.fsw.Add(filepath.Dir(w.opts.ConfigPath)); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "watch configuration directory").
				WithContext("path", w.opts.ConfigPath).Fatal().Build()
		}
	}
	if w.scheduler != nil {
		w.scheduler.Start()
		w.logger.Info("Scheduled periodic rebuilds", slog.String("every", w.opts.Every.String()))
	}
	w.logger.Info("Watching for changes", logfields.Count(len(w.opts.Roots)),
		slog.Duration("debounce", w.opts.Debounce))

	w.runBuild(ctx, TriggerStart)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				w.maybeAddDir(ev.Name)
			}
			w.logger.Debug("Change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", logfields.Error(err))
		case <-fire:
			fire = nil
			w.runBuild(ctx, TriggerChange)
		case <-w.scheduled:
			w.runBuild(ctx, TriggerSchedule)
		}
	}
}

func (w *Watcher) runBuild(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := w.build(ctx, trigger); err != nil {
		w.logger.Error("Rebuild failed", slog.String("trigger", trigger), logfields.Error(err))
		return
	}
	w.logger.Info("Rebuilt site", slog.String("trigger", trigger),
		logfields.DurationMS(float64(time.Since(start).Microseconds())/1000))
}

// relevant filters events to content changes and the configuration file.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := ev.Name
	if abs, err := filepath.Abs(name); err == nil {
		name = abs
	}
	if w.opts.ConfigPath != "" && filepath.Dir(name) == filepath.Dir(w.opts.ConfigPath) && !w.underRoot(name) {
		return name == w.opts.ConfigPath
	}
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	return !w.ignored(name)
}

func (w *Watcher) underRoot(p string) bool {
	for _, r := range w.opts.Roots {
		if abs, err := filepath.Abs(r); err == nil && within(abs, p) {
			return true
		}
	}
	return false
}

func (w *Watcher) ignored(p string) bool {
	for _, dir := range w.opts.Ignore {
		if within(dir, p) {
			return true
		}
	}
	return false
}

func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// addTree watches root and every directory below it. fsnotify watches are
// not recursive.
func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && (strings.HasPrefix(d.Name(), ".") || w.ignored(absOr(p))) {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "watch content root").
			WithContext("path", root).Fatal().Build()
	}
	return nil
}

func (w *Watcher) maybeAddDir(p string) {
	// Directories that vanish again before the walk are not worth a line.
	if err := w.addTree(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logger.Debug("Failed to watch new path", logfields.Path(p), logfields.Error(err))
	}
}

func absOr(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func (w *Watcher) close() {
	if w.scheduler != nil {
		if err := w.scheduler.Shutdown(); err != nil {
			w.logger.Warn("Failed to stop scheduler", logfields.Error(err))
		}
	}
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn("Failed to close file watcher", logfields.Error(err))
	}
}
