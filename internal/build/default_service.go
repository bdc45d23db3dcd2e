package build

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/sitegen/internal/assemble"
	"git.home.luguber.info/inful/sitegen/internal/cache"
	"git.home.luguber.info/inful/sitegen/internal/chain"
	"git.home.luguber.info/inful/sitegen/internal/config"
	"git.home.luguber.info/inful/sitegen/internal/diag"
	"git.home.luguber.info/inful/sitegen/internal/eventstore"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/graph"
	"git.home.luguber.info/inful/sitegen/internal/imaging"
	"git.home.luguber.info/inful/sitegen/internal/logfields"
	"git.home.luguber.info/inful/sitegen/internal/metrics"
	"git.home.luguber.info/inful/sitegen/internal/notify"
	"git.home.luguber.info/inful/sitegen/internal/observability"
	"git.home.luguber.info/inful/sitegen/internal/plugin"
	"git.home.luguber.info/inful/sitegen/internal/plugins"
	"git.home.luguber.info/inful/sitegen/internal/scanner"
	"git.home.luguber.info/inful/sitegen/internal/storage"
)

// Cache layout below build.cache_dir.
const (
	ObjectsDir  = "objects"
	CacheDBFile = "cache.db"
	JournalFile = "journal.db"
)

// DefaultBuildService is the standard implementation of Service.
type DefaultBuildService struct {
	recorder metrics.Recorder
	journal  eventstore.Store
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewBuildService creates a service with no metrics. The journal is opened
// per build under the cache directory unless one is injected.
func NewBuildService() *DefaultBuildService {
	return &DefaultBuildService{
		recorder: metrics.NoopRecorder{},
		logger:   observability.Wrap(slog.Default()),
		now:      time.Now,
	}
}

// WithRecorder sets the metrics recorder.
func (s *DefaultBuildService) WithRecorder(r metrics.Recorder) *DefaultBuildService {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	s.recorder = r
	return s
}

// WithJournal appends build events to store instead of the per-build
// journal. The caller owns store.
func (s *DefaultBuildService) WithJournal(store eventstore.Store) *DefaultBuildService {
	s.journal = store
	return s
}

// WithNotifier publishes completed builds through n. The caller owns n.
func (s *DefaultBuildService) WithNotifier(n *notify.Notifier) *DefaultBuildService {
	s.notifier = n
	return s
}

// WithLogger sets a custom logger.
func (s *DefaultBuildService) WithLogger(logger *slog.Logger) *DefaultBuildService {
	s.logger = observability.Wrap(logger)
	return s
}

// run is the state of one build.
type run struct {
	svc     *DefaultBuildService
	cfg     *config.Config
	req     Request
	result  *Result
	diags   *diag.Collector
	journal *eventstore.Journal
	closers []func()
}

// Run executes the complete build.
func (s *DefaultBuildService) Run(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	result := &Result{BuildID: uuid.NewString(), StartTime: start}
	ctx = observability.WithBuildID(ctx, result.BuildID)

	if req.Config == nil {
		return s.fail(result, ferrors.ConfigError("config required").Build())
	}
	cfg := req.Config
	result.OutputPath = req.OutputDir
	if result.OutputPath == "" {
		result.OutputPath = cfg.ResolvePath(cfg.Build.OutputDir)
	}

	// Option errors fail before anything touches the content roots.
	set, err := plugin.Resolve(cfg.Plugins)
	if err != nil {
		return s.fail(result, err)
	}

	r := &run{svc: s, cfg: cfg, req: req, result: result, diags: &diag.Collector{}}
	defer r.close()
	r.openJournal(ctx)

	roots := scanner.RootsFromPlugins(set, cfg.ResolvePath)
	if len(roots) > 0 {
		if rev, err := scanner.Revision(roots[0].Path); err != nil {
			s.logger.DebugContext(ctx, "Failed to read content revision", logfields.Error(err))
		} else {
			result.Revision = rev
		}
	}
	r.warn(ctx, "append build.started", r.journal.Started(ctx, eventstore.BuildStarted{
		ConfigPath:  cfg.Path(),
		OutputDir:   result.OutputPath,
		Revision:    result.Revision,
		Incremental: req.Incremental,
		Plugins:     pluginNames(set),
		Trigger:     req.Trigger,
	}))
	s.logger.InfoContext(ctx, "Build started",
		logfields.Path(result.OutputPath), logfields.Count(len(set)), slog.Bool("incremental", req.Incremental))

	err = r.execute(ctx, set, roots)
	return r.finish(ctx, err)
}

func (r *run) execute(ctx context.Context, set plugin.Set, roots []scanner.Root) error {
	s := r.svc
	cacheDir := r.cfg.ResolvePath(r.cfg.Build.CacheDir)

	stageCtx, done := r.stage(ctx, "cache")
	objects, err := openObjectStore(r.cfg.Build.CacheBackend, cacheDir)
	done()
	if err != nil {
		return err
	}
	r.closers = append(r.closers, func() { _ = objects.Close() })
	c := cache.New(objects).WithLogger(s.logger)
	s.logger.DebugContext(stageCtx, "Cache opened", logfields.Path(cacheDir), slog.String("backend", string(r.cfg.Build.CacheBackend)))

	stageCtx, done = r.stage(ctx, "scan")
	store := graph.NewStore()
	sc, err := scanner.New(roots)
	if err == nil {
		sc.WithLogger(s.logger)
		err = sc.Validate()
	}
	var files []*graph.Node
	if err == nil {
		files, err = sc.Collect(stageCtx)
	}
	done()
	if err != nil {
		return err
	}
	for _, f := range files {
		store.AddNode(f)
	}
	s.logger.InfoContext(stageCtx, "Content scanned", logfields.Count(len(files)))

	stageCtx, done = r.stage(ctx, "transform")
	sharp, _ := set.Find(plugin.PluginSharp)
	concurrency := 0
	if o, ok := sharp.Options.(plugin.PluginSharpOptions); ok {
		concurrency = o.Concurrency
	}
	images := imaging.New(c, concurrency).WithLogger(s.logger)
	transformers, err := plugins.Instantiate(set, plugins.Deps{
		Site:   r.cfg.Site,
		Cache:  c,
		Images: images,
		Logger: s.logger,
	})
	if err != nil {
		done()
		return err
	}
	ch := chain.New(store, transformers, r.diags, chain.Options{
		MaxIterations: r.cfg.Build.MaxIterations,
		Workers:       r.cfg.Build.Workers,
		Observer:      &iterationObserver{journal: r.journal, recorder: s.recorder, logger: s.logger},
	}).WithLogger(s.logger)
	report, err := ch.Run(stageCtx)
	done()
	if report != nil {
		r.result.Iterations = len(report.Iterations)
	}
	r.result.Nodes = store.Counts()
	r.result.Derivatives = r.result.Nodes[graph.TypeImageDerivative]
	r.result.Cache = c.Stats()
	if err != nil {
		return err
	}
	s.logger.InfoContext(stageCtx, "Transform chain settled",
		slog.Int("iterations", r.result.Iterations), logfields.Count(store.Len()),
		slog.Int64("derivatives_generated", images.Generated()))

	stageCtx, done = r.stage(ctx, "assemble")
	out, err := assemble.New(assemble.Options{
		Site:        r.cfg.Site,
		Plugins:     set,
		MissingRole: r.cfg.Build.MissingRole,
	}).WithLogger(s.logger).Assemble(stageCtx, store, r.diags)
	done()
	if err != nil {
		return err
	}
	r.result.Files = len(out.Files)
	r.result.Pages = out.Count(graph.RolePage)
	r.result.Assets = out.Count(graph.RoleAsset)

	_, done = r.stage(ctx, "write")
	r.result.Write, err = assemble.Write(r.result.OutputPath, out, assemble.WriteOptions{
		Incremental: r.req.Incremental,
		Logger:      s.logger,
	})
	done()
	if err != nil {
		return err
	}

	// The build ref is recorded only after the output landed, so GC never
	// drops entries a visible site was built from.
	if err := c.Commit(ctx, r.result.BuildID); err != nil {
		r.diags.AddError(ferrors.WrapError(err, ferrors.CategoryCache, "commit cache").Warning().Build())
	}
	r.result.Cache = c.Stats()
	return nil
}

// stage tags ctx with name and returns a func recording its duration.
func (r *run) stage(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	ctx = observability.WithStage(ctx, name)
	return ctx, func() { r.svc.recorder.ObserveStageDuration(name, time.Since(start)) }
}

func (r *run) finish(ctx context.Context, err error) (*Result, error) {
	s := r.svc
	res := r.result
	res.Diagnostics = r.diags.All()
	res.EndTime = s.now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	switch {
	case err == nil && len(res.Diagnostics) == 0:
		res.Status = StatusSuccess
	case err == nil:
		res.Status = StatusWarning
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusCancelled
	default:
		res.Status = StatusFailed
	}

	// The journal and notification outlive a cancelled build context.
	bg := context.WithoutCancel(ctx)
	for _, d := range res.Diagnostics {
		s.recorder.IncDiagnostic(string(d.Severity))
		r.warn(bg, "append build.diagnostic", r.journal.Diagnostic(bg, d))
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	r.warn(bg, "append build.completed", r.journal.Completed(bg, eventstore.BuildCompleted{
		Outcome:     journalOutcome(res.Status),
		DurationMS:  float64(res.Duration.Microseconds()) / 1000,
		Iterations:  res.Iterations,
		Nodes:       res.Nodes,
		Files:       res.Files,
		Pages:       res.Pages,
		Assets:      res.Assets,
		Diagnostics: len(res.Diagnostics),
		CacheHits:   res.Cache.Hits,
		CacheWrites: res.Cache.Writes,
		OutputDir:   res.OutputPath,
		Error:       errMsg,
	}))

	s.recorder.ObserveBuildDuration(res.Duration)
	s.recorder.IncBuildOutcome(metricsOutcome(res.Status))
	s.recorder.AddCache(metrics.CacheCounts{
		Hits: res.Cache.Hits, Misses: res.Cache.Misses, Writes: res.Cache.Writes, Corrupt: res.Cache.Corrupt,
	})
	s.recorder.AddDerivatives(res.Derivatives)
	for typ, n := range res.Nodes {
		s.recorder.SetGraphNodes(typ, n)
	}
	s.recorder.SetOutputFiles(graph.RolePage, res.Pages)
	s.recorder.SetOutputFiles(graph.RoleAsset, res.Assets)

	r.publish(bg, errMsg)

	attrs := []slog.Attr{
		slog.String("status", string(res.Status)),
		logfields.DurationMS(float64(res.Duration.Microseconds()) / 1000),
		slog.Int("files", res.Files),
		slog.Int("diagnostics", len(res.Diagnostics)),
		slog.Int64("cache_writes", res.Cache.Writes),
	}
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "Build failed", append(attrs, logfields.Error(err))...)
		return res, err
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "Build completed", attrs...)
	return res, nil
}

func (r *run) publish(ctx context.Context, errMsg string) {
	n := r.svc.notifier
	if n == nil && r.cfg.Notify.NATSURL != "" {
		var err error
		if n, err = notify.Connect(r.cfg.Notify, r.svc.logger); err != nil {
			r.warn(ctx, "connect notifier", err)
			return
		}
		defer n.Close()
	}
	res := r.result
	r.warn(ctx, "publish build notification", n.BuildCompleted(ctx, notify.Message{
		BuildID:     res.BuildID,
		Outcome:     string(res.Status),
		CompletedAt: res.EndTime.UTC(),
		DurationMS:  float64(res.Duration.Microseconds()) / 1000,
		OutputDir:   res.OutputPath,
		Files:       res.Files,
		Pages:       res.Pages,
		Diagnostics: len(res.Diagnostics),
		Error:       errMsg,
	}))
}

// openJournal uses the injected store or opens journal.db under the cache
// directory. A journal that cannot be opened only costs the history.
func (r *run) openJournal(ctx context.Context) {
	if !r.cfg.Build.JournalEnabled() {
		return
	}
	store := r.svc.journal
	if store == nil {
		p, err := JournalPath(r.cfg)
		if err == nil {
			var s *eventstore.SQLiteStore
			if s, err = eventstore.NewSQLiteStore(p); err == nil {
				store = s
				r.closers = append(r.closers, func() { _ = s.Close() })
			}
		}
		if err != nil {
			r.warn(ctx, "open build journal", err)
			return
		}
	}
	r.journal = eventstore.NewJournal(store, r.result.BuildID)
}

// warn logs side-channel failures that must not fail the build.
func (r *run) warn(ctx context.Context, what string, err error) {
	if err == nil {
		return
	}
	r.svc.logger.WarnContext(ctx, "Failed to "+what, logfields.Error(err))
}

func (r *run) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (s *DefaultBuildService) fail(result *Result, err error) (*Result, error) {
	result.Status = StatusFailed
	result.EndTime = s.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	s.recorder.IncBuildOutcome(metrics.OutcomeFailed)
	s.recorder.ObserveBuildDuration(result.Duration)
	return result, err
}

// JournalPath returns the journal database of cfg, creating its directory.
func JournalPath(cfg *config.Config) (string, error) {
	dir := cfg.ResolvePath(cfg.Build.CacheDir)
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, JournalFile), nil
}

// OpenCache opens the object store cfg selects. The caller closes it.
func OpenCache(cfg *config.Config) (storage.ObjectStore, error) {
	return openObjectStore(cfg.Build.CacheBackend, cfg.ResolvePath(cfg.Build.CacheDir))
}

func openObjectStore(backend config.CacheBackend, dir string) (storage.ObjectStore, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	var (
		store storage.ObjectStore
		err   error
	)
	switch backend {
	case config.CacheBackendSQLite:
		store, err = storage.NewSQLiteStore(filepath.Join(dir, CacheDBFile))
	default:
		store, err = storage.NewFSStore(filepath.Join(dir, ObjectsDir))
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryCache, "open cache").
			WithContext("path", dir).WithContext("backend", string(backend)).Fatal().Build()
	}
	return store, nil
}

func pluginNames(set plugin.Set) []string {
	names := make([]string, len(set))
	for i, d := range set {
		names[i] = d.Name
	}
	return names
}

func journalOutcome(s Status) string {
	if s.IsSuccess() {
		return eventstore.StatusSucceeded
	}
	return eventstore.StatusFailed
}

func metricsOutcome(s Status) metrics.Outcome {
	switch s {
	case StatusSuccess:
		return metrics.OutcomeSuccess
	case StatusWarning:
		return metrics.OutcomeWarning
	case StatusCancelled:
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailed
	}
}
