package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/core/reconcile"
	"github.com/yndnr/warmstart/internal/freeze"
	"github.com/yndnr/warmstart/internal/storage"
	"github.com/yndnr/warmstart/internal/storage/image"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
	"github.com/yndnr/warmstart/internal/telemetry/metric"
)

// Server arguments understood by warmstart-server.
const (
	ArgCheckpoint              = "--checkpoint"
	ArgImage                   = "--image"
	ArgExpectCheckpointFailure = "--expect-checkpoint-failure"
	ArgExpectRestoreFailure    = "--expect-restore-failure"
)

// DefaultRecoveryInterval is the minimum time between two recovery cold
// boots started by one launcher.
const DefaultRecoveryInterval = time.Second

// exitKilled is the exit status of a process ended by SIGKILL, which is how
// the snapshot tool stops the server after a dump.
const exitKilled = 128 + 9

// Runner starts the server with extra arguments and waits for it to exit.
type Runner interface {
	Run(ctx context.Context, args []string) (int, error)
}

// Restorer restores an image as a running process.
type Restorer interface {
	Restore(ctx context.Context, img *image.Image) (freeze.Process, error)
}

// ExecRunner runs the server binary as a child process.
type ExecRunner struct {
	Path string
	// Args are passed before the per-run arguments.
	Args []string
	// Env replaces the environment when non-nil.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Run starts the server and returns its exit code. A server killed by a
// signal reports 128 plus the signal number. Cancelling ctx sends SIGTERM.
func (r *ExecRunner) Run(ctx context.Context, args []string) (int, error) {
	argv := append(append([]string(nil), r.Args...), args...)
	cmd := exec.CommandContext(ctx, r.Path, argv...)
	cmd.Env = r.Env
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 30 * time.Second

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// LaunchRequest describes a checkpoint run started from the command line.
type LaunchRequest struct {
	// Phase is the raw phase argument; it is validated before the server starts.
	Phase       string
	AutoRestore bool

	ExpectCheckpointFailure bool
	ExpectRestoreFailure    bool

	// Args are extra server arguments.
	Args []string
}

// RestoreOptions tunes a single restore.
type RestoreOptions struct {
	ExpectFailure bool
}

// Launcher runs the server for checkpoints, restores images, and falls back
// to a cold boot when a restore fails.
//
// @design DS-0103
type Launcher struct {
	runner   Runner
	restorer Restorer
	images   *image.Store

	resolver        reconcile.Resolver
	disableRecovery bool
	limiter         *rate.Limiter
	journalDir      string
	metrics         *metric.Registry
	logger          logger.Logger
	now             func() time.Time
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithLauncherLogger sets the logger.
func WithLauncherLogger(l logger.Logger) LauncherOption {
	return func(ln *Launcher) {
		if l != nil {
			ln.logger = l
		}
	}
}

// WithLauncherMetrics records run metrics in m.
func WithLauncherMetrics(m *metric.Registry) LauncherOption {
	return func(ln *Launcher) { ln.metrics = m }
}

// WithJournalDir records every run in the journal stored in dir.
func WithJournalDir(dir string) LauncherOption {
	return func(ln *Launcher) { ln.journalDir = dir }
}

// WithResolver checks an image's feature hash against the current
// configuration before restoring it.
func WithResolver(r reconcile.Resolver) LauncherOption {
	return func(ln *Launcher) { ln.resolver = r }
}

// WithDisableRecovery turns the recovery cold boot off.
func WithDisableRecovery(disable bool) LauncherOption {
	return func(ln *Launcher) { ln.disableRecovery = disable }
}

// WithRecoveryInterval sets the minimum time between recovery cold boots.
// Zero removes the limit.
func WithRecoveryInterval(d time.Duration) LauncherOption {
	return func(ln *Launcher) {
		if d <= 0 {
			ln.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		ln.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLauncherClock sets the time source.
func WithLauncherClock(now func() time.Time) LauncherOption {
	return func(ln *Launcher) {
		if now != nil {
			ln.now = now
		}
	}
}

// NewLauncher creates a launcher.
func NewLauncher(runner Runner, restorer Restorer, images *image.Store, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		runner:   runner,
		restorer: restorer,
		images:   images,
		limiter:  rate.NewLimiter(rate.Every(DefaultRecoveryInterval), 1),
		logger:   logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ============================================================================
// Checkpoint
// ============================================================================

// Checkpoint validates the phase, starts the server with it and maps the
// server's exit to an outcome. An invalid phase never starts the server.
// With AutoRestore a successful checkpoint is restored right away.
func (l *Launcher) Checkpoint(ctx context.Context, req LaunchRequest) domain.Outcome {
	start := l.now()

	phase, err := domain.ParsePhase(req.Phase)
	if err != nil {
		o := Classify(err)
		o.Expected = req.ExpectCheckpointFailure
		logger.Lifecycle(l.logger, domain.MsgInvalidPhase, "literal", req.Phase)
		l.record(ctx, storage.OpCheckpoint, domain.PhaseUnknown, o, start)
		return o
	}

	id, err := domain.NewImageID()
	if err != nil {
		return l.finishCheckpoint(ctx, phase, req, start, domain.Outcome{Kind: domain.KindSnapshotUnknown, Cause: err})
	}

	args := []string{ArgCheckpoint + "=" + phase.String(), ArgImage + "=" + id}
	if req.ExpectCheckpointFailure {
		args = append(args, ArgExpectCheckpointFailure)
	}
	if req.ExpectRestoreFailure {
		args = append(args, ArgExpectRestoreFailure)
	}
	args = append(args, req.Args...)

	logger.Lifecycle(l.logger, domain.MsgCheckpointRequested, "phase", phase.String())
	code, runErr := l.runner.Run(ctx, args)
	o := l.checkpointOutcome(id, code, runErr)
	o = l.finishCheckpoint(ctx, phase, req, start, o)

	if o.Success() && req.AutoRestore {
		return l.Restore(ctx, id, RestoreOptions{ExpectFailure: req.ExpectRestoreFailure})
	}
	return o
}

// checkpointOutcome decides what a server exit means. The server exits 0
// after a checkpoint it survived, or is killed by the snapshot tool after a
// dump; in both cases the dump log tells whether the image is usable.
func (l *Launcher) checkpointOutcome(id string, code int, runErr error) domain.Outcome {
	if runErr != nil {
		return domain.Outcome{Kind: domain.KindSnapshotUnknown, Cause: fmt.Errorf("start server: %w", runErr)}
	}

	img, openErr := l.images.Open(id)
	if code == domain.ExitSuccess || code == exitKilled {
		if openErr != nil {
			return domain.Outcome{
				Kind:  domain.KindSnapshotUnknown,
				Cause: fmt.Errorf("server exited with code %d without an image: %w", code, openErr),
			}
		}
		if !img.Complete {
			if !dumpSucceeded(img) {
				l.discard(id)
				return domain.Outcome{Kind: domain.KindSnapshotUnknown, Image: id,
					Cause: fmt.Errorf("server exited with code %d before the dump finished", code)}
			}
			if err := l.images.Commit(img); err != nil {
				return domain.Outcome{Kind: domain.KindSnapshotSystem, Image: id, Cause: err}
			}
		}
		return domain.Outcome{Kind: domain.KindSuccess, State: domain.StateCheckpointed, Image: id}
	}

	if openErr == nil && !img.Complete {
		l.discard(id)
	}
	cause := fmt.Errorf("server exited with code %d", code)
	if kind, ok := domain.KindForExitCode(code); ok && kind.IsCheckpointFailure() {
		return domain.Outcome{Kind: kind, Cause: cause}
	}
	return domain.Outcome{Kind: domain.KindSnapshotUnknown, Cause: cause}
}

func (l *Launcher) finishCheckpoint(ctx context.Context, phase domain.Phase, req LaunchRequest, start time.Time, o domain.Outcome) domain.Outcome {
	elapsed := l.now().Sub(start)
	if o.Success() {
		logger.Lifecycle(l.logger, domain.MsgCheckpointTaken, "image", o.Image, "duration", elapsed)
	} else {
		o.State = domain.StateCheckpointFailed
		o.Expected = req.ExpectCheckpointFailure
		args := []any{"kind", o.Kind.String(), "exit_code", o.ExitCode(), "error", errString(o.Cause)}
		if o.Expected {
			l.logger.Info(domain.MsgCheckpointFailed.String(), append(args, "expected", true)...)
		} else {
			logger.Lifecycle(l.logger, domain.MsgCheckpointFailed, args...)
		}
	}
	l.metrics.ObserveCheckpoint(o.Kind.String(), elapsed)
	l.record(ctx, storage.OpCheckpoint, phase, o, start)
	return o
}

// dumpSucceeded tells whether CRIU finished writing img. The inventory is
// written last; the log line only appears at log level 3 and above.
func dumpSucceeded(img *image.Image) bool {
	if _, err := os.Stat(img.Path(image.InventoryFile)); err == nil {
		return true
	}
	data, err := os.ReadFile(img.Path(image.DumpLogFile))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "finished successfully")
}

// ============================================================================
// Restore and recovery
// ============================================================================

// Restore resolves ref ("latest", an ID or a unique ID prefix), restores the
// image and waits for the restored server to exit. A failed restore is
// followed by a recovery cold boot unless recovery is disabled.
func (l *Launcher) Restore(ctx context.Context, ref string, opts RestoreOptions) domain.Outcome {
	start := l.now()

	img, err := l.images.Resolve(ref)
	if err != nil {
		o := ClassifyRestore(err)
		return l.finishRestore(ctx, nil, domain.PhaseUnknown, opts, start, o)
	}
	phase, _ := domain.ParsePhase(img.Manifest.Phase)

	logger.Lifecycle(l.logger, domain.MsgRestoreRequested, "image", img.ID)
	o := l.restore(ctx, img)
	o.Image = img.ID
	return l.finishRestore(ctx, img, phase, opts, start, o)
}

func (l *Launcher) restore(ctx context.Context, img *image.Image) domain.Outcome {
	if err := l.images.Validate(img); err != nil {
		return ClassifyRestore(err)
	}
	if err := l.checkFeatures(img); err != nil {
		return ClassifyRestore(err)
	}
	if _, err := l.images.MarkRestored(img); err != nil {
		return ClassifyRestore(&freeze.Error{Op: freeze.OpRestore, Layer: freeze.LayerSystem, Err: err})
	}

	proc, err := l.restorer.Restore(ctx, img)
	if err != nil {
		if _, ok := freeze.AsError(err); !ok {
			err = &freeze.Error{Op: freeze.OpRestore, Layer: freeze.LayerUnknown, Err: err}
		}
		return ClassifyRestore(err)
	}
	l.logger.Debug("restored server started", "image", img.ID, "pid", proc.Pid())

	code, err := proc.Wait()
	if err != nil {
		return ClassifyRestore(fmt.Errorf("wait for restored server: %w", err))
	}
	if code == domain.ExitSuccess {
		return domain.Outcome{Kind: domain.KindSuccess, State: domain.StateRestored}
	}
	cause := fmt.Errorf("restored server exited with code %d", code)
	if kind, ok := domain.KindForExitCode(code); ok && kind.IsRestoreFailure() {
		return domain.Outcome{Kind: kind, State: domain.StateRestoreFailed, Cause: cause}
	}
	return domain.Outcome{Kind: domain.KindRestoreUnknown, State: domain.StateRestoreFailed, Cause: cause}
}

// checkFeatures rejects an image whose activated features differ from the
// current configuration; features cannot be reconciled after a restore.
func (l *Launcher) checkFeatures(img *image.Image) error {
	if l.resolver == nil || img.Manifest.FeatureHash == "" {
		return nil
	}
	res, err := l.resolver.Resolve()
	if err != nil {
		return fmt.Errorf("resolve configuration: %w", err)
	}
	if hash := reconcile.FeatureHash(res.Values()); hash != img.Manifest.FeatureHash {
		return domain.ErrImageStale.WithDetails(fmt.Sprintf("feature hash %s, image has %s", hash, img.Manifest.FeatureHash))
	}
	return nil
}

func (l *Launcher) finishRestore(ctx context.Context, img *image.Image, phase domain.Phase, opts RestoreOptions, start time.Time, o domain.Outcome) domain.Outcome {
	elapsed := l.now().Sub(start)
	if o.Success() {
		o.State = domain.StateRestored
		logger.Lifecycle(l.logger, domain.MsgRestoreSucceeded, "image", o.Image, "duration", elapsed)
		l.metrics.ObserveRestore(o.Kind.String(), elapsed)
		l.record(ctx, storage.OpRestore, phase, o, start)
		return o
	}

	o.State = domain.StateRestoreFailed
	o.Expected = opts.ExpectFailure
	args := []any{"kind", o.Kind.String(), "exit_code", o.ExitCode(), "error", errString(o.Cause)}
	if o.Expected {
		l.logger.Info(domain.MsgRestoreFailed.String(), append(args, "expected", true)...)
	} else {
		logger.Lifecycle(l.logger, domain.MsgRestoreFailed, args...)
	}
	l.metrics.ObserveRestore(o.Kind.String(), elapsed)
	l.record(ctx, storage.OpRestore, phase, o, start)

	if l.disableRecovery {
		logger.Lifecycle(l.logger, domain.MsgRecoveryDisabled, "exit_code", o.ExitCode())
		return o
	}
	return l.recover(ctx, img, phase, o)
}

// recover discards the failed image and cold boots the server. A successful
// cold boot turns the failure into Recovered with exit code 0.
func (l *Launcher) recover(ctx context.Context, img *image.Image, phase domain.Phase, failed domain.Outcome) domain.Outcome {
	start := l.now()
	logger.Lifecycle(l.logger, domain.MsgRecovering, "image", failed.Image)

	if img != nil {
		l.discard(img.ID)
	}
	if err := domain.Transition(failed.State, domain.StateRecovered); err != nil {
		failed.Cause = multierror.Append(failed.Cause, err)
		return failed
	}
	if err := l.limiter.Wait(ctx); err != nil {
		failed.Cause = multierror.Append(failed.Cause, fmt.Errorf("recovery: %w", err))
		return failed
	}

	code, err := l.runner.Run(ctx, nil)
	if err == nil && code == domain.ExitSuccess {
		o := domain.Outcome{Kind: domain.KindSuccess, State: domain.StateRecovered, Image: failed.Image, Cause: failed.Cause}
		logger.Lifecycle(l.logger, domain.MsgRecovered)
		l.metrics.IncRecovery()
		l.record(ctx, storage.OpRecovery, phase, o, start)
		return o
	}

	if err == nil {
		err = fmt.Errorf("cold boot exited with code %d", code)
	}
	failed.Cause = multierror.Append(failed.Cause, fmt.Errorf("recovery: %w", err))
	l.logger.Error("recovery cold boot failed", "exit_code", code, "error", err)
	l.record(ctx, storage.OpRecovery, phase, failed, start)
	return failed
}

func (l *Launcher) discard(id string) {
	if err := l.images.Discard(id); err != nil && !errors.Is(err, image.ErrNotFound) {
		l.logger.Warn("discard image", "image", id, "error", err)
	}
}

// record appends a run to the journal. The journal is opened per run so the
// launcher never holds its lock while a server is running.
func (l *Launcher) record(ctx context.Context, op storage.Operation, phase domain.Phase, o domain.Outcome, start time.Time) {
	if l.journalDir == "" {
		return
	}
	j, err := storage.OpenJournal(l.journalDir, l.logger)
	if err != nil {
		l.logger.Warn("open journal", "error", err)
		return
	}
	defer j.Close()

	rec := storage.NewRunRecord(op, phase, o, start, l.now())
	if _, err := j.Append(ctx, rec); err != nil {
		l.logger.Warn("append journal record", "error", err)
	}
}
