package metric

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Observe(t *testing.T) {
	r := NewRegistry()

	r.ObserveCheckpoint("success", 2*time.Second)
	r.ObserveCheckpoint("prepare-failed", time.Second)
	r.ObserveCheckpoint("success", time.Second)
	r.ObserveRestore("restore-failed-tool", 10*time.Millisecond)
	r.IncRecovery()
	r.IncHookFailure("after-restore", "application")
	r.AddConfigChanges(3)
	r.AddConfigChanges(0)
	r.AddDeadlinesAdjusted(2)

	if got := testutil.ToFloat64(r.CheckpointsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("checkpoints{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.RestoresTotal.WithLabelValues("restore-failed-tool")); got != 1 {
		t.Errorf("restores{tool} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.RecoveriesTotal); got != 1 {
		t.Errorf("recoveries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.HookFailuresTotal.WithLabelValues("after-restore", "application")); got != 1 {
		t.Errorf("hook failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.ConfigChangesTotal); got != 3 {
		t.Errorf("config changes = %v, want 3", got)
	}
	if got := testutil.ToFloat64(r.DeadlinesAdjustedTotal); got != 2 {
		t.Errorf("deadlines adjusted = %v, want 2", got)
	}
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry

	r.ObserveCheckpoint("success", time.Second)
	r.ObserveRestore("success", time.Second)
	r.IncRecovery()
	r.IncHookFailure("before-checkpoint", "runtime")
	r.AddConfigChanges(1)
	r.AddDeadlinesAdjusted(1)
	r.MustRegister()

	if r.Prometheus() != nil {
		t.Error("nil registry should expose no prometheus registry")
	}
	if r.Handler() == nil {
		t.Error("Handler() should never be nil")
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ObserveCheckpoint("success", time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `warmstart_checkpoint_attempts_total{kind="success"} 1`) {
		t.Errorf("metrics output missing checkpoint counter:\n%s", rec.Body.String())
	}
}

func TestStateCollector(t *testing.T) {
	state := "Checkpointed"
	c := NewStateCollector([]string{"NotStarted", "Checkpointed", "Running"}, func() (string, int) {
		return state, 2
	})

	if n := testutil.CollectAndCount(c); n != 4 {
		t.Errorf("CollectAndCount() = %d, want 4", n)
	}

	expected := `
# HELP warmstart_lifecycle_restore_generation Number of restores of this process image.
# TYPE warmstart_lifecycle_restore_generation gauge
warmstart_lifecycle_restore_generation 2
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "warmstart_lifecycle_restore_generation"); err != nil {
		t.Errorf("CollectAndCompare() error = %v", err)
	}

	r := NewRegistry()
	r.MustRegister(c)
	state = "Running"
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `warmstart_lifecycle_state{state="Running"} 1`) {
		t.Errorf("state gauge missing:\n%s", rec.Body.String())
	}
}
