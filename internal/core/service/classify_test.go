package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/core/hook"
	"github.com/yndnr/warmstart/internal/freeze"
	"github.com/yndnr/warmstart/internal/storage/image"
)

func TestClassify(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name      string
		err       error
		wantKind  domain.Kind
		wantState domain.State
		wantHook  string
	}{
		{"nil", nil, domain.KindSuccess, domain.StateNotStarted, ""},
		{"invalid phase", &domain.InvalidPhaseError{Literal: "soon"}, domain.KindInvalidPhase, domain.StateCheckpointFailed, ""},
		{"disabled", domain.ErrCheckpointDisabled, domain.KindDisabledInRuntime, domain.StateCheckpointFailed, ""},
		{"unsupported", domain.ErrUnsupportedPlatform.WithDetails("darwin"), domain.KindUnsupportedPlatform, domain.StateCheckpointFailed, ""},
		{"phase passed", domain.ErrPhasePassed, domain.KindPrepareFailed, domain.StateCheckpointFailed, ""},
		{"check failure", &freeze.Error{Op: freeze.OpCheck, Layer: freeze.LayerSystem, Err: boom}, domain.KindUnsupportedPlatform, domain.StateCheckpointFailed, ""},
		{"freeze runtime", &freeze.Error{Op: freeze.OpFreeze, Layer: freeze.LayerRuntime, Err: boom}, domain.KindSnapshotRuntime, domain.StateCheckpointFailed, ""},
		{"freeze system", &freeze.Error{Op: freeze.OpFreeze, Layer: freeze.LayerSystem, Err: boom}, domain.KindSnapshotSystem, domain.StateCheckpointFailed, ""},
		{"freeze unknown", fmt.Errorf("wrapped: %w", &freeze.Error{Op: freeze.OpFreeze, Err: boom}), domain.KindSnapshotUnknown, domain.StateCheckpointFailed, ""},
		{"resume runtime", &freeze.Error{Op: freeze.OpResume, Layer: freeze.LayerRuntime, Err: boom}, domain.KindRestoreRuntime, domain.StateRestoreFailed, ""},
		{"resume system", &freeze.Error{Op: freeze.OpResume, Layer: freeze.LayerSystem, Err: boom}, domain.KindRestoreSystem, domain.StateRestoreFailed, ""},
		{"resume unknown", &freeze.Error{Op: freeze.OpResume, Err: boom}, domain.KindRestoreUnknown, domain.StateRestoreFailed, ""},
		{"restore tool", &freeze.Error{Op: freeze.OpRestore, Layer: freeze.LayerRuntime, Err: boom}, domain.KindRestoreTool, domain.StateRestoreFailed, ""},
		{"missing ids", fmt.Errorf("img-x: %w", image.ErrIncomplete), domain.KindRestoreTool, domain.StateRestoreFailed, ""},
		{"stale image", domain.ErrImageStale.WithDetails("features"), domain.KindRestoreTool, domain.StateRestoreFailed, ""},
		{"before hook", &hook.Failure{Hook: "drain", Timing: hook.BeforeCheckpoint, Layer: hook.LayerRuntime, Err: boom}, domain.KindPrepareFailed, domain.StateCheckpointFailed, "drain"},
		{"after hook application", &hook.Failure{Hook: "warm", Timing: hook.AfterRestore, Layer: hook.LayerApplication, Err: boom}, domain.KindRestoreApplication, domain.StateRestoreFailed, "warm"},
		{"after hook system", &hook.Failure{Hook: "mount", Timing: hook.AfterRestore, Layer: hook.LayerSystem, Err: boom}, domain.KindRestoreSystem, domain.StateRestoreFailed, "mount"},
		{"untyped", boom, domain.KindSnapshotUnknown, domain.StateCheckpointFailed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Classify(tt.err)
			if o.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", o.Kind, tt.wantKind)
			}
			if o.State != tt.wantState {
				t.Errorf("State = %s, want %s", o.State, tt.wantState)
			}
			if o.Hook != tt.wantHook {
				t.Errorf("Hook = %q, want %q", o.Hook, tt.wantHook)
			}
			if tt.err != nil && o.Cause != tt.err {
				t.Errorf("Cause = %v, want %v", o.Cause, tt.err)
			}
		})
	}
}

func TestClassifyRestore(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Kind
	}{
		{"untyped", errors.New("boom"), domain.KindRestoreUnknown},
		{"unsupported", domain.ErrUnsupportedPlatform, domain.KindRestoreSystem},
		{"not found", image.ErrNoImages, domain.KindRestoreTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRestore(tt.err).Kind; got != tt.want {
				t.Errorf("ClassifyRestore() = %s, want %s", got, tt.want)
			}
		})
	}
}

// The first failing after-restore hook decides the kind when failures are
// aggregated.
func TestClassify_AggregatedHookFailures(t *testing.T) {
	failures := []hook.Failure{
		{Hook: "cache", Timing: hook.AfterRestore, Layer: hook.LayerRuntime, Err: errors.New("cold")},
		{Hook: "app", Timing: hook.AfterRestore, Layer: hook.LayerApplication, Err: errors.New("broken")},
	}
	o := ClassifyRestore(hook.Errors(failures))
	if o.Kind != domain.KindRestoreRuntime || o.Hook != "cache" {
		t.Errorf("got kind %s hook %q, want restore-failed-runtime from cache", o.Kind, o.Hook)
	}
}
