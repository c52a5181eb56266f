package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/core/hook"
	"github.com/yndnr/warmstart/internal/core/reconcile"
	"github.com/yndnr/warmstart/internal/freeze"
	"github.com/yndnr/warmstart/internal/storage/image"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
	"github.com/yndnr/warmstart/internal/telemetry/metric"
)

// Controller drives one checkpoint attempt and the restore that follows it.
//
// A Controller is created at boot. The server reports its progress with
// Advance and calls Checkpoint when the requested phase is reached. In the
// process resumed from the image, Checkpoint continues with Restore.
//
// @design DS-0103
type Controller struct {
	mu        sync.Mutex
	state     domain.State
	stage     domain.BootStage
	attempted bool
	cond      domain.RunningCondition

	// Set by a successful checkpoint, read by Restore.
	req      *domain.CheckpointRequest
	img      *image.Image
	baseline reconcile.Snapshot

	freezer    freeze.Freezer
	hooks      *hook.Registry
	reconciler *reconcile.Reconciler
	images     *image.Store
	scheduler  *Scheduler
	metrics    *metric.Registry
	logger     logger.Logger

	enabled  bool
	imageID  string
	build    string
	settings image.CRIUSettings
	now      func() time.Time
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger.
func WithControllerLogger(l logger.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records checkpoint and restore metrics in m.
func WithMetrics(m *metric.Registry) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithEnabled switches checkpointing on or off. A disabled controller fails
// every checkpoint with DisabledInRuntime.
func WithEnabled(enabled bool) ControllerOption {
	return func(c *Controller) { c.enabled = enabled }
}

// WithImageID fixes the ID of the image the checkpoint writes. The launcher
// allocates it so it can find the image after the server exits.
func WithImageID(id string) ControllerOption {
	return func(c *Controller) { c.imageID = id }
}

// WithBuild records the server build in the image manifest.
func WithBuild(build string) ControllerOption {
	return func(c *Controller) { c.build = build }
}

// WithCRIUSettings records the snapshot tool settings in the image manifest.
func WithCRIUSettings(s image.CRIUSettings) ControllerOption {
	return func(c *Controller) { c.settings = s }
}

// WithScheduler freezes s before the checkpoint and re-arms it after the
// restore hooks.
func WithScheduler(s *Scheduler) ControllerOption {
	return func(c *Controller) { c.scheduler = s }
}

// WithControllerClock sets the time source.
func WithControllerClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController creates a controller in state NotStarted.
func NewController(f freeze.Freezer, hooks *hook.Registry, r *reconcile.Reconciler, images *image.Store, opts ...ControllerOption) (*Controller, error) {
	c := &Controller{
		state:      domain.StateNotStarted,
		freezer:    f,
		hooks:      hooks,
		reconciler: r,
		images:     images,
		logger:     logger.Discard(),
		enabled:    true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case c.freezer == nil:
		return nil, fmt.Errorf("controller: freezer is required")
	case c.hooks == nil:
		return nil, fmt.Errorf("controller: hook registry is required")
	case c.reconciler == nil:
		return nil, fmt.Errorf("controller: reconciler is required")
	case c.images == nil:
		return nil, fmt.Errorf("controller: image store is required")
	}
	if c.imageID != "" && !domain.ValidImageID(c.imageID) {
		return nil, fmt.Errorf("controller: invalid image id %q", c.imageID)
	}
	if c.scheduler != nil {
		if err := c.hooks.Register(c.scheduler.Hook()); err != nil {
			return nil, fmt.Errorf("controller: register scheduler hook: %w", err)
		}
	}
	return c, nil
}

// State returns the current state.
func (c *Controller) State() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stage returns the last boot stage reported with Advance.
func (c *Controller) Stage() domain.BootStage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Condition returns the last published RunningCondition.
func (c *Controller) Condition() domain.RunningCondition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cond
}

// Image returns the image written by the checkpoint, nil before one exists.
func (c *Controller) Image() *image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.img
}

// Advance records the server's boot progress. Stages never move backwards.
func (c *Controller) Advance(stage domain.BootStage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stage > c.stage {
		c.stage = stage
	}
}

// Running moves a booted or restored server to Running and logs it.
func (c *Controller) Running() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == domain.StateRunning {
		return nil
	}
	if err := domain.Transition(c.state, domain.StateRunning); err != nil {
		return err
	}
	c.state = domain.StateRunning
	c.stage = domain.StageRunning
	logger.Lifecycle(c.logger, domain.MsgRunning,
		"phase", c.cond.Phase.String(),
		"restored", c.cond.Restored)
	return nil
}

// Publish sets the RunningCondition seen by hooks of a run that was not
// restored. It is called once configuration has been resolved at boot.
func (c *Controller) Publish(cond domain.RunningCondition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cond = cond
}

// Boot resolves configuration for a run that starts from scratch, publishes
// the RunningCondition for phase and records the baseline later changes are
// compared against.
func (c *Controller) Boot(ctx context.Context, phase domain.Phase) error {
	view, err := c.reconciler.Current(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cond = domain.RunningCondition{Phase: phase, Config: view.Config}
	c.baseline = view.Snapshot
	return nil
}

// Refresh reconciles configuration against the last published view while
// the server runs, publishes the result and returns the changed keys.
func (c *Controller) Refresh(ctx context.Context) ([]reconcile.Change, error) {
	c.mu.Lock()
	baseline := c.baseline
	c.mu.Unlock()

	view, changes, err := c.reconciler.Reconcile(ctx, baseline)
	if err != nil {
		return nil, err
	}
	c.metrics.AddConfigChanges(len(changes))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cond.Config = view.Config
	c.baseline = view.Snapshot
	return changes, nil
}

// transition moves to the next state under the mutex.
func (c *Controller) transition(to domain.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := domain.Transition(c.state, to); err != nil {
		return err
	}
	c.state = to
	return nil
}

// ============================================================================
// Checkpoint
// ============================================================================

// Checkpoint takes the checkpoint described by req. It is called once, when
// the server reaches req.Phase(). On success without auto-restore the
// outcome state is Checkpointed; in the process resumed from the image the
// call continues with Restore and returns its outcome.
//
// @design DS-0103
func (c *Controller) Checkpoint(ctx context.Context, req *domain.CheckpointRequest) domain.Outcome {
	c.mu.Lock()
	if c.attempted {
		state := c.state
		c.mu.Unlock()
		return domain.Outcome{Kind: domain.KindPrepareFailed, State: state, Cause: domain.ErrCheckpointInProgress}
	}
	c.attempted = true
	stage := c.stage
	c.mu.Unlock()

	if err := req.Consume(); err != nil {
		return domain.Outcome{Kind: domain.KindPrepareFailed, State: c.State(), Cause: err}
	}

	start := c.now()
	phase := req.Phase()
	expected := req.ExpectCheckpointFailure()
	log := c.logger
	logger.Lifecycle(log, domain.MsgCheckpointRequested, "phase", phase.String())

	if !c.enabled {
		return c.failCheckpoint(log, req, start, nil, Classify(domain.ErrCheckpointDisabled))
	}
	if err := c.freezer.Check(ctx); err != nil {
		return c.failCheckpoint(log, req, start, nil, Classify(err))
	}
	if err := c.transition(domain.StatePreparing); err != nil {
		return c.failCheckpoint(log, req, start, nil, Classify(err))
	}
	if !domain.IsReachable(phase, stage) {
		err := domain.ErrPhasePassed.WithDetails(fmt.Sprintf("%s reached, requested %s", stage, phase))
		return c.failCheckpoint(log, req, start, nil, Classify(err))
	}

	logger.Lifecycle(log, domain.MsgCheckpointPreparing, "hooks", c.hooks.Len(hook.BeforeCheckpoint))
	if err := req.PreCheckpoint(ctx); err != nil {
		o := Classify(&hook.Failure{Hook: "pre-checkpoint", Timing: hook.BeforeCheckpoint, Layer: hook.LayerApplication, Err: err})
		return c.failCheckpoint(log, req, start, nil, o)
	}

	cond := c.Condition()
	cond.Phase = phase
	if f := c.hooks.RunBeforeCheckpoint(ctx, cond); f != nil {
		c.metrics.IncHookFailure(f.Timing.String(), f.Layer.String())
		return c.failCheckpoint(log, req, start, nil, Classify(f))
	}

	snap, err := c.reconciler.Capture(ctx)
	if err != nil {
		o := Classify(&freeze.Error{Op: freeze.OpFreeze, Layer: freeze.LayerRuntime, Err: err})
		return c.failCheckpoint(log, req, start, nil, o)
	}
	if err := c.transition(domain.StateCheckpointing); err != nil {
		return c.failCheckpoint(log, req, start, nil, Classify(err))
	}

	img, err := c.images.Create(c.manifest(phase, snap))
	if err != nil {
		o := Classify(&freeze.Error{Op: freeze.OpFreeze, Layer: freeze.LayerSystem, Err: err})
		return c.failCheckpoint(log, req, start, nil, o)
	}

	if err := c.freezer.Freeze(ctx, img); err != nil {
		return c.failCheckpoint(log, req, start, img, Classify(err))
	}

	// Execution continues here twice: once in the original process after the
	// dump, and once in every process restored from the image.
	if err := c.images.Commit(img); err != nil {
		o := Classify(&freeze.Error{Op: freeze.OpFreeze, Layer: freeze.LayerSystem, Err: err})
		return c.failCheckpoint(log, req, start, img, o)
	}
	if err := c.transition(domain.StateCheckpointed); err != nil {
		return c.failCheckpoint(log, req, start, img, Classify(err))
	}

	elapsed := c.now().Sub(start)
	c.mu.Lock()
	c.req = req
	c.img = img
	c.baseline = snap
	c.mu.Unlock()

	if expected {
		c.logger.Info("checkpoint succeeded but a failure was expected", "phase", phase.String(), "image", img.ID)
	}
	logger.Lifecycle(log, domain.MsgCheckpointTaken, "image", img.ID, "duration", elapsed)
	c.metrics.ObserveCheckpoint(domain.KindSuccess.String(), elapsed)

	if req.AutoRestore() || restoredFromImage(img) {
		return c.Restore(ctx)
	}
	return domain.Outcome{Kind: domain.KindSuccess, State: domain.StateCheckpointed, Image: img.ID}
}

func (c *Controller) manifest(phase domain.Phase, snap reconcile.Snapshot) image.Manifest {
	host, _ := os.Hostname()
	return image.Manifest{
		ID:          c.imageID,
		Phase:       phase.String(),
		PID:         os.Getpid(),
		CreatedAt:   c.now().UTC(),
		FeatureHash: snap.FeatureHash,
		Host:        host,
		Build:       c.build,
		CRIU:        c.settings,
	}
}

// restoredFromImage reports whether this process was resumed from img
// rather than being the one that wrote it.
func restoredFromImage(img *image.Image) bool {
	gen, err := image.Generation(img)
	return err == nil && gen > 0
}

func (c *Controller) failCheckpoint(log logger.Logger, req *domain.CheckpointRequest, start time.Time, img *image.Image, o domain.Outcome) domain.Outcome {
	o.Expected = req.ExpectCheckpointFailure()
	o.State = domain.StateCheckpointFailed

	c.mu.Lock()
	if domain.CanTransition(c.state, domain.StateCheckpointFailed) {
		c.state = domain.StateCheckpointFailed
	}
	c.mu.Unlock()

	if img != nil {
		o.Image = img.ID
		log = log.With("image", img.ID)
		if summary := freeze.LogSummary(img.Path(image.DumpLogFile), 20); summary != "" {
			log.Debug("snapshot tool log", "summary", summary)
		}
		// A failed dump leaves an incomplete image; it can never be restored.
		if err := c.images.Discard(img.ID); err != nil {
			log.Warn("discard failed image", "error", err)
		}
	}
	if c.scheduler != nil {
		c.scheduler.Rearm()
	}

	errText := ""
	if o.Cause != nil {
		errText = o.Cause.Error()
	}
	switch {
	case o.Expected:
		log.Info(o.Kind.Message().String(), "kind", o.Kind.String(), "exit_code", o.ExitCode(), "error", errText, "expected", true)
	case o.Kind == domain.KindPrepareFailed && o.Hook != "":
		logger.Lifecycle(log, domain.MsgPrepareFailed, "hook", o.Hook, "error", errText)
	case o.Kind == domain.KindUnsupportedPlatform:
		logger.Lifecycle(log, domain.MsgUnsupported, "error", errText)
	case o.Kind == domain.KindDisabledInRuntime:
		logger.Lifecycle(log, domain.MsgDisabled)
	default:
		logger.Lifecycle(log, domain.MsgCheckpointFailed, "kind", o.Kind.String(), "exit_code", o.ExitCode(), "error", errText)
	}
	c.metrics.ObserveCheckpoint(o.Kind.String(), c.now().Sub(start))
	return o
}

// ============================================================================
// Restore
// ============================================================================

// Restore completes a restore of the checkpointed image: it resumes the
// process, publishes the RunningCondition, reconciles configuration, runs
// the after-restore hooks and re-arms timers, in that order. A failed hook
// fails the restore but the process keeps running; it is never frozen again.
//
// @design DS-0103
func (c *Controller) Restore(ctx context.Context) domain.Outcome {
	c.mu.Lock()
	if c.state != domain.StateCheckpointed || c.img == nil {
		state := c.state
		c.mu.Unlock()
		return domain.Outcome{Kind: domain.KindRestoreUnknown, State: state, Cause: domain.ErrNotCheckpointed}
	}
	c.state = domain.StateRestoring
	req, img, baseline := c.req, c.img, c.baseline
	c.mu.Unlock()

	start := c.now()
	log := c.logger.With("phase", req.Phase().String())
	logger.Lifecycle(log, domain.MsgRestoreRequested, "image", img.ID)

	if err := req.PreRestore(ctx); err != nil {
		return c.failRestore(log, req, img, start, ClassifyRestore(err))
	}
	if err := c.freezer.Resume(ctx, img); err != nil {
		return c.failRestore(log, req, img, start, ClassifyRestore(err))
	}
	resumedAt := c.now()

	gen, err := image.Generation(img)
	if err != nil {
		log.Warn("read restore generation", "error", err)
	}
	if gen == 0 {
		gen = c.Condition().Generation + 1
	}

	view, changes, err := c.reconciler.Reconcile(ctx, baseline)
	if err != nil {
		o := ClassifyRestore(&freeze.Error{Op: freeze.OpResume, Layer: freeze.LayerRuntime, Err: err})
		return c.failRestore(log, req, img, start, o)
	}
	c.metrics.AddConfigChanges(len(changes))

	cond := domain.RunningCondition{
		Phase:      req.Phase(),
		Restored:   true,
		RestoredAt: resumedAt,
		Generation: gen,
		Config:     view.Config,
	}
	c.mu.Lock()
	c.cond = cond
	c.baseline = view.Snapshot
	c.mu.Unlock()

	failures := c.hooks.RunAfterRestore(ctx, cond)
	for _, f := range failures {
		c.metrics.IncHookFailure(f.Timing.String(), f.Layer.String())
		if f.TimedOut {
			logger.Lifecycle(log, domain.MsgRestoreHookSlow, "hook", f.Hook)
			continue
		}
		logger.Lifecycle(log, domain.MsgRestoreHookFail, "hook", f.Hook, "layer", f.Layer.String(), "error", errString(f.Err))
	}

	if c.scheduler != nil {
		frozenFor := c.scheduler.FrozenFor()
		adjusted := c.scheduler.Rearm()
		c.metrics.AddDeadlinesAdjusted(len(adjusted))
		logger.Lifecycle(log, domain.MsgDeadlinesAdjusted, "count", len(adjusted), "frozen_for", frozenFor)
	}

	if len(failures) > 0 {
		o := ClassifyRestore(&failures[0])
		o.Cause = hook.Errors(failures)
		return c.failRestore(log, req, img, start, o)
	}

	if err := c.transition(domain.StateRestored); err != nil {
		return c.failRestore(log, req, img, start, ClassifyRestore(err))
	}
	elapsed := c.now().Sub(start)
	if req.ExpectRestoreFailure() {
		c.logger.Info("restore succeeded but a failure was expected", "image", img.ID)
	}
	logger.Lifecycle(log, domain.MsgRestoreSucceeded, "image", img.ID, "duration", elapsed)
	c.metrics.ObserveRestore(domain.KindSuccess.String(), elapsed)

	return domain.Outcome{Kind: domain.KindSuccess, State: domain.StateRestored, Image: img.ID}
}

func (c *Controller) failRestore(log logger.Logger, req *domain.CheckpointRequest, img *image.Image, start time.Time, o domain.Outcome) domain.Outcome {
	o.Expected = req.ExpectRestoreFailure()
	o.State = domain.StateRestoreFailed
	o.Image = img.ID

	c.mu.Lock()
	if domain.CanTransition(c.state, domain.StateRestoreFailed) {
		c.state = domain.StateRestoreFailed
	}
	c.mu.Unlock()

	log = log.With("image", img.ID)
	if o.Expected {
		log.Info(domain.MsgRestoreFailed.String(), "kind", o.Kind.String(), "exit_code", o.ExitCode(), "error", errString(o.Cause), "expected", true)
	} else {
		logger.Lifecycle(log, domain.MsgRestoreFailed, "kind", o.Kind.String(), "exit_code", o.ExitCode(), "error", errString(o.Cause))
	}
	c.metrics.ObserveRestore(o.Kind.String(), c.now().Sub(start))
	return o
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
