package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/core/hook"
	"github.com/yndnr/warmstart/internal/core/reconcile"
	"github.com/yndnr/warmstart/internal/freeze"
	"github.com/yndnr/warmstart/internal/infra/confloader"
	"github.com/yndnr/warmstart/internal/storage/image"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
	"github.com/yndnr/warmstart/internal/telemetry/metric"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(t *testing.T) (logger.Logger, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	l, err := logger.New(logger.Config{Level: "debug", Format: "json", Output: out})
	if err != nil {
		t.Fatal(err)
	}
	return l, out
}

type fixture struct {
	dir     string
	images  *image.Store
	hooks   *hook.Registry
	freezer *freeze.Simulated
	metrics *metric.Registry
	log     *syncBuffer
	ctrl    *Controller
}

func newFixture(t *testing.T, opts ...ControllerOption) *fixture {
	return newFixtureWithFreezer(t, nil, opts...)
}

func newFixtureWithFreezer(t *testing.T, f freeze.Freezer, opts ...ControllerOption) *fixture {
	t.Helper()
	fx := &fixture{
		dir:     t.TempDir(),
		hooks:   hook.NewRegistry(hook.WithFanOutTimeout(time.Second)),
		freezer: freeze.NewSimulated(),
		metrics: metric.NewRegistry(),
	}
	if err := os.WriteFile(filepath.Join(fx.dir, confloader.ServerFile),
		[]byte("http:\n  port: 9080\nfeatures:\n  servlet: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	images, err := image.NewStore(image.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	fx.images = images

	l, out := newTestLogger(t)
	fx.log = out

	rec, err := reconcile.New(confloader.NewLayered(fx.dir), reconcile.WithLogger(l))
	if err != nil {
		t.Fatal(err)
	}
	if f == nil {
		f = fx.freezer
	}
	opts = append([]ControllerOption{WithControllerLogger(l), WithMetrics(fx.metrics)}, opts...)
	fx.ctrl, err = NewController(f, fx.hooks, rec, images, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return fx
}

func (fx *fixture) writeVar(t *testing.T, key, value string) {
	t.Helper()
	path := filepath.Join(fx.dir, confloader.VariablesDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		t.Fatal(err)
	}
}

func (fx *fixture) assertLogged(t *testing.T, codes ...domain.MessageCode) {
	t.Helper()
	out := fx.log.String()
	for _, c := range codes {
		if !strings.Contains(out, string(c)) {
			t.Errorf("log does not contain %s:\n%s", c, out)
		}
	}
}

func newRequest(t *testing.T, phase domain.Phase, opts ...domain.RequestOption) *domain.CheckpointRequest {
	t.Helper()
	req, err := domain.NewCheckpointRequest(phase, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

// Checkpoint at AFTER_APP_START without auto-restore, then restore later.
func TestController_CheckpointThenRestore(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.ctrl.Advance(domain.StageAppStarted)

	o := fx.ctrl.Checkpoint(ctx, newRequest(t, domain.PhaseAfterAppStart))
	if !o.Success() || o.ExitCode() != 0 {
		t.Fatalf("Checkpoint() = %+v", o)
	}
	if o.State != domain.StateCheckpointed || fx.ctrl.State() != domain.StateCheckpointed {
		t.Errorf("state = %s / %s, want Checkpointed", o.State, fx.ctrl.State())
	}
	img, err := fx.images.Open(o.Image)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", o.Image, err)
	}
	if !img.Complete {
		t.Error("image not committed")
	}
	if img.Manifest.Phase != "AFTER_APP_START" || img.Manifest.FeatureHash == "" {
		t.Errorf("manifest = %+v", img.Manifest)
	}
	fx.assertLogged(t, domain.MsgCheckpointRequested, domain.MsgCheckpointTaken)
	if len(fx.freezer.Resumed()) != 0 {
		t.Error("resumed without a restore")
	}

	o = fx.ctrl.Restore(ctx)
	if !o.Success() || o.ExitCode() != 0 || o.State != domain.StateRestored {
		t.Fatalf("Restore() = %+v", o)
	}
	fx.assertLogged(t, domain.MsgRestoreRequested, domain.MsgRestoreSucceeded)

	cond := fx.ctrl.Condition()
	if !cond.Restored || cond.Generation != 1 || cond.Phase != domain.PhaseAfterAppStart {
		t.Errorf("condition = %+v", cond)
	}

	if err := fx.ctrl.Running(); err != nil {
		t.Fatalf("Running() error = %v", err)
	}
	fx.assertLogged(t, domain.MsgRunning)

	if got := testutil.ToFloat64(fx.metrics.CheckpointsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("checkpoint success count = %v", got)
	}
	if got := testutil.ToFloat64(fx.metrics.RestoresTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("restore success count = %v", got)
	}
}

func TestController_AutoRestore(t *testing.T) {
	fx := newFixture(t)
	o := fx.ctrl.Checkpoint(context.Background(), newRequest(t, domain.PhaseBeforeAppStart, domain.WithAutoRestore()))
	if !o.Success() || o.State != domain.StateRestored {
		t.Fatalf("Checkpoint() = %+v", o)
	}
	if got := fx.freezer.Resumed(); len(got) != 1 || got[0] != o.Image {
		t.Errorf("Resumed() = %v, want [%s]", got, o.Image)
	}
}

// A process resumed from the image continues into Restore even without
// auto-restore.
func TestController_RestoredProcessContinues(t *testing.T) {
	fx := newFixture(t)
	fx.freezer.OnFreeze = func() {
		imgs, err := fx.images.List()
		if err != nil || len(imgs) != 1 {
			t.Errorf("List() = %v, %v", imgs, err)
			return
		}
		if _, err := fx.images.MarkRestored(imgs[0]); err != nil {
			t.Error(err)
		}
	}

	o := fx.ctrl.Checkpoint(context.Background(), newRequest(t, domain.PhaseBeforeAppStart))
	if !o.Success() || o.State != domain.StateRestored {
		t.Fatalf("Checkpoint() = %+v", o)
	}
}

// An out-of-range snapshot tool log level fails the freeze as unknown.
func TestController_InvalidCRIULogLevel(t *testing.T) {
	t.Setenv(freeze.LogLevelEnv, "100")

	tests := []struct {
		name     string
		expected bool
	}{
		{"unexpected", false},
		{"expected", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			criu := freeze.NewCRIU(freeze.WithSettings(image.CRIUSettings{
				BinaryPath: filepath.Join(t.TempDir(), "criu"),
			}))
			fx := newFixtureWithFreezer(t, checkedFreezer{criu})

			var opts []domain.RequestOption
			if tt.expected {
				opts = append(opts, domain.WithExpectedCheckpointFailure())
			}
			o := fx.ctrl.Checkpoint(context.Background(), newRequest(t, domain.PhaseBeforeAppStart, opts...))

			if o.Kind != domain.KindSnapshotUnknown || o.ExitCode() != 75 {
				t.Fatalf("Checkpoint() = %+v, want snapshot-failed-unknown (75)", o)
			}
			if o.State != domain.StateCheckpointFailed || fx.ctrl.State() != domain.StateCheckpointFailed {
				t.Errorf("state = %s", fx.ctrl.State())
			}
			if o.Expected != tt.expected {
				t.Errorf("Expected = %v", o.Expected)
			}
			if !strings.Contains(o.Cause.Error(), freeze.LogLevelEnv) {
				t.Errorf("cause %q does not name %s", o.Cause, freeze.LogLevelEnv)
			}
			fx.assertLogged(t, domain.MsgCheckpointFailed)
			if tt.expected && !strings.Contains(fx.log.String(), `"expected":true`) {
				t.Errorf("expected failure not marked:\n%s", fx.log.String())
			}

			imgs, err := fx.images.List()
			if err != nil || len(imgs) != 0 {
				t.Errorf("failed image kept: %v, %v", imgs, err)
			}
		})
	}
}

// checkedFreezer passes the platform check so the freeze itself runs.
type checkedFreezer struct {
	freeze.Freezer
}

func (checkedFreezer) Check(ctx context.Context) error { return nil }

// A var-dir override written between checkpoint and restore is what a hook
// sees after the restore.
func TestController_ReconcilesVarDirOverride(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.writeVar(t, "app/greeting", "hello")

	var seen string
	fx.hooks.MustRegister(hook.Hook{
		Name:   "read-greeting",
		Timing: hook.AfterRestore,
		Fn: func(ctx context.Context, cond domain.RunningCondition) error {
			seen, _ = cond.Config.Get("app.greeting")
			return nil
		},
	})

	if o := fx.ctrl.Checkpoint(ctx, newRequest(t, domain.PhaseBeforeAppStart)); !o.Success() {
		t.Fatalf("Checkpoint() = %+v", o)
	}
	fx.writeVar(t, "app/greeting", "bonjour")

	if o := fx.ctrl.Restore(ctx); !o.Success() {
		t.Fatalf("Restore() = %+v", o)
	}
	if seen != "bonjour" {
		t.Errorf("hook saw app.greeting = %q, want bonjour", seen)
	}
	fx.assertLogged(t, domain.MsgConfigChanged)
	if got := testutil.ToFloat64(fx.metrics.ConfigChangesTotal); got != 1 {
		t.Errorf("config changes = %v, want 1", got)
	}
}

func TestController_BeforeCheckpointHookFailsFast(t *testing.T) {
	fx := newFixture(t)
	var ran []string
	for i, name := range []string{"h1", "h2", "h3"} {
		fail := name == "h2"
		fx.hooks.MustRegister(hook.Hook{
			Name:   name,
			Timing: hook.BeforeCheckpoint,
			Rank:   i,
			Fn: func(ctx context.Context, cond domain.RunningCondition) error {
				ran = append(ran, name)
				if cond.Phase != domain.PhaseBeforeAppStart {
					t.Errorf("hook saw phase %s", cond.Phase)
				}
				if fail {
					return errors.New("cannot drain")
				}
				return nil
			},
		})
	}

	o := fx.ctrl.Checkpoint(context.Background(), newRequest(t, domain.PhaseBeforeAppStart))
	if o.Kind != domain.KindPrepareFailed || o.ExitCode() != 72 || o.Hook != "h2" {
		t.Fatalf("Checkpoint() = %+v", o)
	}
	if strings.Join(ran, ",") != "h1,h2" {
		t.Errorf("ran = %v, want h1,h2", ran)
	}
	if len(fx.freezer.Frozen()) != 0 {
		t.Error("freeze primitive invoked after a prepare failure")
	}
	fx.assertLogged(t, domain.MsgPrepareFailed)
}

func TestController_PreCheckpointFailure(t *testing.T) {
	fx := newFixture(t)
	req := newRequest(t, domain.PhaseBeforeAppStart,
		domain.WithPreCheckpoint(func(context.Context) error { return errors.New("no") }))

	o := fx.ctrl.Checkpoint(context.Background(), req)
	if o.Kind != domain.KindPrepareFailed || o.Hook != "pre-checkpoint" {
		t.Errorf("Checkpoint() = %+v", o)
	}
}

func TestController_AfterRestoreHookFailures(t *testing.T) {
	fx := newFixture(t)
	var mu sync.Mutex
	ran := map[string]bool{}
	for i, name := range []string{"h1", "h2", "h3"} {
		fail := name == "h2"
		fx.hooks.MustRegister(hook.Hook{
			Name:   name,
			Timing: hook.AfterRestore,
			Rank:   i,
			Layer:  hook.LayerApplication,
			Fn: func(ctx context.Context, cond domain.RunningCondition) error {
				mu.Lock()
				ran[name] = true
				mu.Unlock()
				if fail {
					return errors.New("warmup failed")
				}
				return nil
			},
		})
	}

	o := fx.ctrl.Checkpoint(context.Background(), newRequest(t, domain.PhaseBeforeAppStart, domain.WithAutoRestore()))
	if o.Kind != domain.KindRestoreApplication || o.ExitCode() != 82 || o.Hook != "h2" {
		t.Fatalf("Checkpoint() = %+v", o)
	}
	if o.State != domain.StateRestoreFailed || fx.ctrl.State() != domain.StateRestoreFailed {
		t.Errorf("state = %s", fx.ctrl.State())
	}
	if !ran["h1"] || !ran["h3"] {
		t.Errorf("ran = %v, want h1 and h3 to run", ran)
	}
	if len(fx.freezer.Frozen()) != 1 {
		t.Error("process frozen again after a restore failure")
	}
	fx.assertLogged(t, domain.MsgRestoreHookFail, domain.MsgRestoreFailed)
}

func TestController_CheckpointRejections(t *testing.T) {
	unsupported := &freeze.Error{Op: freeze.OpCheck, Layer: freeze.LayerSystem, Err: domain.ErrUnsupportedPlatform}

	tests := []struct {
		name     string
		opts     []ControllerOption
		checkErr error
		stage    domain.BootStage
		phase    domain.Phase
		wantKind domain.Kind
		wantCode int
		wantMsg  domain.MessageCode
	}{
		{
			name:     "disabled",
			opts:     []ControllerOption{WithEnabled(false)},
			phase:    domain.PhaseBeforeAppStart,
			wantKind: domain.KindDisabledInRuntime,
			wantCode: 71,
			wantMsg:  domain.MsgDisabled,
		},
		{
			name:     "unsupported platform",
			checkErr: unsupported,
			phase:    domain.PhaseBeforeAppStart,
			wantKind: domain.KindUnsupportedPlatform,
			wantCode: 70,
			wantMsg:  domain.MsgUnsupported,
		},
		{
			name:     "phase passed",
			stage:    domain.StageRunning,
			phase:    domain.PhaseBeforeAppStart,
			wantKind: domain.KindPrepareFailed,
			wantCode: 72,
			wantMsg:  domain.MsgCheckpointFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, tt.opts...)
			fx.freezer.CheckErr = tt.checkErr
			fx.ctrl.Advance(tt.stage)

			o := fx.ctrl.Checkpoint(context.Background(), newRequest(t, tt.phase))
			if o.Kind != tt.wantKind || o.ExitCode() != tt.wantCode {
				t.Fatalf("Checkpoint() = %+v, want %s (%d)", o, tt.wantKind, tt.wantCode)
			}
			if fx.ctrl.State() != domain.StateCheckpointFailed {
				t.Errorf("state = %s", fx.ctrl.State())
			}
			if len(fx.freezer.Frozen()) != 0 {
				t.Error("freeze primitive invoked")
			}
			fx.assertLogged(t, tt.wantMsg)
		})
	}
}

func TestController_SecondCheckpointRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if o := fx.ctrl.Checkpoint(ctx, newRequest(t, domain.PhaseBeforeAppStart)); !o.Success() {
		t.Fatalf("first Checkpoint() = %+v", o)
	}

	o := fx.ctrl.Checkpoint(ctx, newRequest(t, domain.PhaseAfterAppStart))
	if !errors.Is(o.Cause, domain.ErrCheckpointInProgress) {
		t.Errorf("second Checkpoint() cause = %v", o.Cause)
	}
	if fx.ctrl.State() != domain.StateCheckpointed {
		t.Errorf("state changed to %s", fx.ctrl.State())
	}
}

func TestController_ConsumedRequestRejected(t *testing.T) {
	req := newRequest(t, domain.PhaseBeforeAppStart)
	if o := newFixture(t).ctrl.Checkpoint(context.Background(), req); !o.Success() {
		t.Fatalf("Checkpoint() = %+v", o)
	}
	o := newFixture(t).ctrl.Checkpoint(context.Background(), req)
	if !errors.Is(o.Cause, domain.ErrRequestConsumed) {
		t.Errorf("reused request cause = %v", o.Cause)
	}
}

func TestController_FreezeFailure(t *testing.T) {
	fx := newFixture(t)
	fx.freezer.FreezeErr = &freeze.Error{Op: freeze.OpFreeze, Layer: freeze.LayerRuntime, Err: errors.New("tcp socket")}

	o := fx.ctrl.Checkpoint(context.Background(), newRequest(t, domain.PhaseBeforeAppStart))
	if o.Kind != domain.KindSnapshotRuntime || o.ExitCode() != 73 {
		t.Fatalf("Checkpoint() = %+v", o)
	}
	if _, err := fx.images.Open(o.Image); !errors.Is(err, image.ErrNotFound) {
		t.Errorf("failed image kept: %v", err)
	}
	if got := testutil.ToFloat64(fx.metrics.CheckpointsTotal.WithLabelValues("snapshot-failed-runtime")); got != 1 {
		t.Errorf("failure count = %v", got)
	}
}

func TestController_ResumeFailure(t *testing.T) {
	fx := newFixture(t)
	fx.freezer.ResumeErr = &freeze.Error{Op: freeze.OpResume, Layer: freeze.LayerSystem, Err: errors.New("pid taken")}

	o := fx.ctrl.Checkpoint(context.Background(), newRequest(t, domain.PhaseBeforeAppStart,
		domain.WithAutoRestore(), domain.WithExpectedRestoreFailure()))
	if o.Kind != domain.KindRestoreSystem || o.ExitCode() != 80 || !o.Expected {
		t.Fatalf("Checkpoint() = %+v", o)
	}
}

func TestController_RestoreWithoutCheckpoint(t *testing.T) {
	fx := newFixture(t)
	o := fx.ctrl.Restore(context.Background())
	if !errors.Is(o.Cause, domain.ErrNotCheckpointed) || o.Success() {
		t.Errorf("Restore() = %+v", o)
	}
	if fx.ctrl.State() != domain.StateNotStarted {
		t.Errorf("state = %s", fx.ctrl.State())
	}
}

func TestController_ImageID(t *testing.T) {
	id, err := domain.NewImageID()
	if err != nil {
		t.Fatal(err)
	}
	fx := newFixture(t, WithImageID(id))
	o := fx.ctrl.Checkpoint(context.Background(), newRequest(t, domain.PhaseBeforeAppStart))
	if o.Image != id {
		t.Errorf("Image = %q, want %q", o.Image, id)
	}

	if _, err := NewController(freeze.NewSimulated(), hook.NewRegistry(), nil, nil, WithImageID("bad")); err == nil {
		t.Error("NewController() with missing dependencies succeeded")
	}
}

// Timers scheduled before the checkpoint exclude the frozen interval.
func TestController_RearmsScheduler(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	sched := NewScheduler(WithSchedulerClock(clk))
	fx := newFixture(t, WithScheduler(sched))
	ctx := context.Background()

	fired := make(chan struct{}, 1)
	if err := sched.Schedule("flush", 10*time.Second, func(context.Context) { fired <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	clk.Step(4 * time.Second)

	if o := fx.ctrl.Checkpoint(ctx, newRequest(t, domain.PhaseBeforeAppStart)); !o.Success() {
		t.Fatalf("Checkpoint() = %+v", o)
	}
	clk.Step(time.Hour)
	select {
	case <-fired:
		t.Fatal("task fired while frozen")
	case <-time.After(50 * time.Millisecond):
	}

	if o := fx.ctrl.Restore(ctx); !o.Success() {
		t.Fatalf("Restore() = %+v", o)
	}
	fx.assertLogged(t, domain.MsgDeadlinesAdjusted)
	pending := sched.Pending()
	if len(pending) != 1 || pending[0].Delay != 6*time.Second {
		t.Fatalf("Pending() = %+v, want 6s left", pending)
	}

	clk.Step(6 * time.Second)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not fire after the remaining delay")
	}
}

func TestController_BootThenRefresh(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.ctrl.Boot(ctx, domain.PhaseUnknown); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if strings.Contains(fx.log.String(), string(domain.MsgConfigChanged)) {
		t.Errorf("Boot() logged config changes:\n%s", fx.log.String())
	}
	if got := fx.ctrl.Condition().Config.GetOr("http.port", ""); got != "9080" {
		t.Errorf("http.port = %q, want 9080", got)
	}

	changes, err := fx.ctrl.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("Refresh() without edits = %+v", changes)
	}

	fx.writeVar(t, "http/port", "9443")
	changes, err = fx.ctrl.Refresh(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Key != "http.port" || changes[0].New != "9443" {
		t.Fatalf("Refresh() = %+v", changes)
	}
	if got := fx.ctrl.Condition().Config.GetOr("http.port", ""); got != "9443" {
		t.Errorf("http.port after refresh = %q, want 9443", got)
	}
	fx.assertLogged(t, domain.MsgConfigChanged)
	if got := testutil.ToFloat64(fx.metrics.ConfigChangesTotal); got != 1 {
		t.Errorf("config changes = %v, want 1", got)
	}

	if err := fx.ctrl.Running(); err != nil {
		t.Fatalf("Running() error = %v", err)
	}
	if fx.ctrl.State() != domain.StateRunning {
		t.Errorf("State() = %v", fx.ctrl.State())
	}
}
