package runtime

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/core/hook"
	"github.com/yndnr/warmstart/internal/core/reconcile"
	"github.com/yndnr/warmstart/internal/core/service"
	"github.com/yndnr/warmstart/internal/freeze"
	"github.com/yndnr/warmstart/internal/infra/buildinfo"
	"github.com/yndnr/warmstart/internal/infra/confloader"
	"github.com/yndnr/warmstart/internal/infra/shutdown"
	"github.com/yndnr/warmstart/internal/server/config"
	"github.com/yndnr/warmstart/internal/server/httpserver"
	"github.com/yndnr/warmstart/internal/server/httpserver/handler"
	"github.com/yndnr/warmstart/internal/storage/image"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
	"github.com/yndnr/warmstart/internal/telemetry/metric"
)

// Names of the hooks the runtime registers for itself.
const (
	ListenerHookName = "status-listener"
	LogLevelHookName = "log-level"
)

// PruneTaskID is the scheduler task that applies image retention.
const PruneTaskID = "image-retention"

// DefaultPruneInterval is how often image retention runs.
const DefaultPruneInterval = time.Hour

// DefaultShutdownTimeout bounds the shutdown hooks.
const DefaultShutdownTimeout = 30 * time.Second

// Options are the per-run server arguments.
type Options struct {
	// ConfigDir is the server directory holding server.yaml and the other
	// configuration tiers.
	ConfigDir string

	// Checkpoint is the raw phase argument; empty for a plain boot.
	Checkpoint  string
	ImageID     string
	AutoRestore bool

	ExpectCheckpointFailure bool
	ExpectRestoreFailure    bool

	// Simulate forces the in-process freezer.
	Simulate bool

	// Freezer replaces the freezer chosen from the configuration.
	Freezer freeze.Freezer

	LogOutput       io.Writer
	ShutdownTimeout time.Duration
	PruneInterval   time.Duration
}

// Runtime boots warmstart-server through its phases, takes the requested
// checkpoint and serves the status endpoint until it is stopped.
//
// @design DS-0104
type Runtime struct {
	opts    Options
	cfg     *config.ServerConfig
	layered *confloader.Layered
	log     logger.Logger

	images    *image.Store
	hooks     *hook.Registry
	scheduler *service.Scheduler
	metrics   *metric.Registry
	ctrl      *service.Controller
	http      *httpserver.Server
	shutdown  *shutdown.Handler

	mu        sync.Mutex
	listening bool
	features  []string
	watcher   *confloader.Watcher

	ready     chan struct{}
	readyOnce sync.Once
}

// New resolves the configuration in opts.ConfigDir and assembles the
// runtime. Nothing is started until Run.
func New(opts Options) (*Runtime, error) {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}

	layered := config.NewResolver(opts.ConfigDir)
	cfg, res, err := config.Load(layered)
	if err != nil {
		return nil, err
	}
	if opts.Simulate {
		cfg.Checkpoint.Simulate = true
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: opts.LogOutput})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	log = log.With("build", buildinfo.Build(), "pid", os.Getpid())
	log.Debug("configuration resolved", "values", config.Sanitize(res.Values(), cfg.Secrets))

	images, err := image.NewStore(cfg.Checkpoint.StoreConfig())
	if err != nil {
		return nil, err
	}
	rec, err := reconcile.New(layered, reconcile.WithLogger(log))
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		opts:      opts,
		cfg:       cfg,
		layered:   layered,
		log:       log,
		images:    images,
		hooks:     hook.NewRegistry(hook.WithFanOutTimeout(cfg.Checkpoint.HookTimeout), hook.WithLogger(log)),
		scheduler: service.NewScheduler(service.WithSchedulerLogger(log)),
		metrics:   metric.NewRegistry(),
		shutdown:  shutdown.NewHandler(opts.ShutdownTimeout),
		ready:     make(chan struct{}),
	}

	freezer := opts.Freezer
	if freezer == nil {
		freezer = r.newFreezer()
	}
	r.ctrl, err = service.NewController(freezer, r.hooks, rec, images,
		service.WithControllerLogger(log),
		service.WithMetrics(r.metrics),
		service.WithEnabled(cfg.Checkpoint.Enabled),
		service.WithImageID(opts.ImageID),
		service.WithBuild(buildinfo.Build()),
		service.WithCRIUSettings(cfg.Checkpoint.CRIU.Settings()),
		service.WithScheduler(r.scheduler),
	)
	if err != nil {
		return nil, err
	}

	r.metrics.MustRegister(metric.NewStateCollector(domain.StateNames(), func() (string, int) {
		return r.ctrl.State().String(), r.ctrl.Condition().Generation
	}))
	r.http = httpserver.New(httpserver.NewRouter(&httpserver.RouterConfig{
		Status:          r,
		Metrics:         r.metrics.Handler(),
		Logger:          log,
		GlobalRateLimit: httpserver.DefaultRouterConfig().GlobalRateLimit,
		EnableAudit:     true,
	}), log)

	r.registerHooks()
	r.shutdown.OnShutdown(func(ctx context.Context) error {
		r.scheduler.Stop()
		return nil
	})
	r.shutdown.OnShutdown(r.http.Shutdown)
	r.shutdown.OnShutdown(func(ctx context.Context) error {
		r.mu.Lock()
		w := r.watcher
		r.mu.Unlock()
		if w == nil {
			return nil
		}
		return w.Stop()
	})
	return r, nil
}

// newFreezer picks the simulated freezer or CRIU. CRIU reads its
// environment through the layered configuration, so a change in server.env
// applies to the next freeze or resume.
func (r *Runtime) newFreezer() freeze.Freezer {
	if r.cfg.Checkpoint.Simulate {
		return freeze.NewSimulated()
	}
	return freeze.NewCRIU(
		freeze.WithSettings(r.cfg.Checkpoint.CRIU.Settings()),
		freeze.WithLogger(r.log),
		freeze.WithEnv(func(name string) (string, bool) {
			res, err := r.layered.Resolve()
			if err != nil {
				return os.LookupEnv(name)
			}
			return res.Env(name)
		}),
	)
}

// registerHooks adds the runtime's own hooks: the status listener is closed
// before a checkpoint and bound again after a restore on the reconciled
// address, and the log level follows the reconciled configuration.
func (r *Runtime) registerHooks() {
	r.hooks.MustRegister(hook.Hook{
		Name:   ListenerHookName,
		Timing: hook.BeforeCheckpoint,
		Layer:  hook.LayerRuntime,
		Fn: func(ctx context.Context, _ domain.RunningCondition) error {
			r.mu.Lock()
			r.listening = r.http.Addr() != ""
			r.mu.Unlock()
			return r.http.Shutdown(ctx)
		},
	})
	r.hooks.MustRegister(hook.Hook{
		Name:   ListenerHookName,
		Timing: hook.AfterRestore,
		Layer:  hook.LayerRuntime,
		Fn: func(ctx context.Context, cond domain.RunningCondition) error {
			r.mu.Lock()
			listening := r.listening
			r.mu.Unlock()
			if !listening {
				return nil
			}
			return r.http.Start(r.listenAddr(cond.Config))
		},
	})
	r.hooks.MustRegister(hook.Hook{
		Name:   LogLevelHookName,
		Timing: hook.AfterRestore,
		Mode:   hook.FanOut,
		Layer:  hook.LayerRuntime,
		Fn: func(ctx context.Context, cond domain.RunningCondition) error {
			logger.SetLevel(cond.Config.GetOr("log.level", r.cfg.Log.Level))
			return nil
		},
	})
}

// Hooks returns the registry applications add their lifecycle hooks to.
func (r *Runtime) Hooks() *hook.Registry { return r.hooks }

// Scheduler returns the timer service whose deadlines survive a restore.
func (r *Runtime) Scheduler() *service.Scheduler { return r.scheduler }

// Controller returns the checkpoint controller.
func (r *Runtime) Controller() *service.Controller { return r.ctrl }

// Addr returns the status listener address, "" while it is closed.
func (r *Runtime) Addr() string { return r.http.Addr() }

// Ready is closed once the server is running.
func (r *Runtime) Ready() <-chan struct{} { return r.ready }

// Features returns the features activated at boot.
func (r *Runtime) Features() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.features...)
}

// Run boots the server and returns its exit code. A checkpoint request
// stops the server with the outcome's exit code unless the process was
// restored; a restored or plain server runs until a signal or the end of
// ctx.
func (r *Runtime) Run(ctx context.Context) int {
	req, err := r.request()
	if err != nil {
		logger.Lifecycle(r.log, domain.MsgInvalidPhase, "literal", r.opts.Checkpoint)
		return service.Classify(err).ExitCode()
	}

	phase := domain.PhaseUnknown
	if req != nil {
		phase = req.Phase()
	}
	if err := r.ctrl.Boot(ctx, phase); err != nil {
		r.log.Error("resolve configuration", "error", err)
		return domain.ExitStartupFailed
	}

	steps := []struct {
		stage domain.BootStage
		work  func(ctx context.Context) error
	}{
		{domain.StageFeatureResolution, nil},
		{domain.StageFeatureActivation, r.activateFeatures},
		{domain.StageAppStart, nil},
		{domain.StageAppStarted, r.startApp},
	}
	for _, step := range steps {
		if step.work != nil {
			if err := step.work(ctx); err != nil {
				r.log.Error("server start failed", "stage", step.stage.String(), "error", err)
				r.stop()
				return domain.ExitStartupFailed
			}
		}
		r.ctrl.Advance(step.stage)
		if done, code := r.checkpointAt(ctx, req, step.stage); done {
			return code
		}
	}

	if err := r.ctrl.Running(); err != nil {
		r.log.Error("server start failed", "error", err)
		r.stop()
		return domain.ExitStartupFailed
	}
	r.startWatcher(ctx)
	r.readyOnce.Do(func() { close(r.ready) })

	sig, err := r.shutdown.Wait(ctx)
	if sig != nil {
		r.log.Info("shutting down", "signal", sig.String())
	}
	if err != nil {
		r.log.Error("shutdown", "error", err)
		return domain.ExitStartupFailed
	}
	return domain.ExitSuccess
}

func (r *Runtime) request() (*domain.CheckpointRequest, error) {
	if r.opts.Checkpoint == "" {
		return nil, nil
	}
	var opts []domain.RequestOption
	if r.opts.AutoRestore {
		opts = append(opts, domain.WithAutoRestore())
	}
	if r.opts.ExpectCheckpointFailure {
		opts = append(opts, domain.WithExpectedCheckpointFailure())
	}
	if r.opts.ExpectRestoreFailure {
		opts = append(opts, domain.WithExpectedRestoreFailure())
	}
	return domain.NewCheckpointRequestFromArgument(r.opts.Checkpoint, opts...)
}

// checkpointAt takes the checkpoint when req names stage. It reports
// whether the server must stop and with which exit code.
func (r *Runtime) checkpointAt(ctx context.Context, req *domain.CheckpointRequest, stage domain.BootStage) (bool, int) {
	if req == nil || domain.StageFor(req.Phase()) != stage {
		return false, 0
	}

	o := r.ctrl.Checkpoint(ctx, req)
	switch {
	case !o.Success():
		r.stop()
		return true, o.ExitCode()
	case o.State == domain.StateCheckpointed:
		r.log.Info("checkpoint complete, stopping", "image", o.Image)
		r.stop()
		return true, domain.ExitSuccess
	default:
		// Restored: the boot continues from the checkpointed stage.
		return false, 0
	}
}

// activateFeatures records the enabled features of the resolved
// configuration. Features cannot change across a restore.
func (r *Runtime) activateFeatures(ctx context.Context) error {
	cond := r.ctrl.Condition()
	var enabled []string
	for _, key := range cond.Config.Keys() {
		name, ok := strings.CutPrefix(key, reconcile.FeaturePrefix)
		if !ok {
			continue
		}
		if on, _ := strconv.ParseBool(cond.Config.GetOr(key, "false")); on {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)

	r.mu.Lock()
	r.features = enabled
	r.mu.Unlock()
	r.log.Info("features activated", "features", enabled)
	return nil
}

// startApp opens the status listener and schedules image retention.
func (r *Runtime) startApp(ctx context.Context) error {
	if err := r.http.Start(r.listenAddr(r.ctrl.Condition().Config)); err != nil {
		return err
	}
	return r.scheduler.ScheduleRepeating(PruneTaskID, r.opts.PruneInterval, r.opts.PruneInterval, r.prune)
}

func (r *Runtime) prune(ctx context.Context) {
	removed, err := r.images.Prune()
	if err != nil {
		r.log.Warn("prune images", "error", err)
		return
	}
	if len(removed) > 0 {
		r.log.Info("images pruned", "count", len(removed), "images", removed)
	}
}

// startWatcher re-reconciles configuration whenever a tier changes.
func (r *Runtime) startWatcher(ctx context.Context) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(r.log))
	if err != nil {
		r.log.Warn("configuration watcher unavailable", "error", err)
		return
	}
	paths := r.layered.Paths()
	if err := w.Watch(paths[0]); err != nil {
		_ = w.Stop()
		return
	}
	for _, dir := range paths[2:] {
		if err := w.WatchDir(dir); err != nil {
			r.log.Warn("watch configuration directory", "path", dir, "error", err)
		}
	}
	w.OnChange(func(changed []string) {
		r.log.Debug("configuration files changed", "paths", changed)
		r.refresh(ctx)
	})

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()
	w.StartAsync()
}

// refresh publishes the current configuration and applies the keys the
// runtime owns.
func (r *Runtime) refresh(ctx context.Context) {
	changes, err := r.ctrl.Refresh(ctx)
	if err != nil {
		r.log.Warn("refresh configuration", "error", err)
		return
	}
	cond := r.ctrl.Condition()
	rebind := false
	for _, c := range changes {
		switch c.Key {
		case "log.level":
			logger.SetLevel(cond.Config.GetOr("log.level", r.cfg.Log.Level))
		case "http.host", "http.port":
			rebind = true
		}
	}
	if rebind && r.http.Addr() != "" {
		if err := r.http.Rebind(ctx, r.listenAddr(cond.Config)); err != nil {
			r.log.Error("rebind status listener", "error", err)
		}
	}
}

func (r *Runtime) listenAddr(v domain.ConfigView) string {
	host := v.GetOr("http.host", r.cfg.HTTP.Host)
	port := v.GetOr("http.port", strconv.Itoa(r.cfg.HTTP.Port))
	return net.JoinHostPort(host, port)
}

func (r *Runtime) stop() {
	if err := r.shutdown.Run(); err != nil {
		r.log.Warn("shutdown", "error", err)
	}
}

// Status implements handler.StatusSource.
func (r *Runtime) Status() handler.Status {
	state := r.ctrl.State()
	cond := r.ctrl.Condition()
	st := handler.Status{
		State:      state.String(),
		Stage:      r.ctrl.Stage().String(),
		Restored:   cond.Restored,
		Generation: cond.Generation,
		Build:      buildinfo.Build(),
		Ready:      state == domain.StateRunning,
	}
	if cond.Phase.Valid() {
		st.Phase = cond.Phase.String()
	}
	if cond.Restored {
		at := cond.RestoredAt
		st.RestoredAt = &at
	}
	if img := r.ctrl.Image(); img != nil {
		st.Image = img.ID
	}
	for _, d := range r.scheduler.Pending() {
		dl := handler.Deadline{ID: d.ID, DueAt: d.Due()}
		if d.Interval > 0 {
			dl.Every = d.Interval.String()
		}
		st.Deadlines = append(st.Deadlines, dl)
	}
	return st
}
