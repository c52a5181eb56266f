package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/warmstart/internal/infra/confloader"
)

type failingResolver struct{}

func (failingResolver) Resolve() (*confloader.Resolution, error) {
	return nil, errors.New("disk gone")
}

func setup(t *testing.T) (string, *Reconciler) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, confloader.ServerFile),
		[]byte("http:\n  port: 9080\napp:\n  greeting: hello\nfeatures:\n  servlet: true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r, err := New(confloader.NewLayered(dir), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatal(err)
	}
	return dir, r
}

func writeVar(t *testing.T, dir, key, value string) string {
	t.Helper()
	path := filepath.Join(dir, confloader.VariablesDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReconcile_Changes(t *testing.T) {
	dir, r := setup(t)
	ctx := context.Background()

	removed := writeVar(t, dir, "app.farewell", "bye")
	snap, err := r.Capture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.TakenAt.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("TakenAt = %v", snap.TakenAt)
	}

	writeVar(t, dir, "http.port", "9443")
	writeVar(t, dir, "app.extra", "new")
	if err := os.Remove(removed); err != nil {
		t.Fatal(err)
	}

	view, changes, err := r.Reconcile(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]ChangeKind{
		"app.extra":    Added,
		"app.farewell": Removed,
		"http.port":    Modified,
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %+v", changes)
	}
	for _, c := range changes {
		if kind, ok := want[c.Key]; !ok || kind != c.Kind {
			t.Errorf("unexpected change %+v", c)
		}
	}
	if changes[0].Key != "app.extra" || changes[2].Key != "http.port" {
		t.Errorf("changes not sorted: %+v", changes)
	}

	port := changes[2]
	if port.Old != "9080" || port.New != "9443" {
		t.Errorf("http.port change = %+v", port)
	}
	if port.OldSource != confloader.SourceDefault || port.NewSource != confloader.SourceVarDir {
		t.Errorf("sources = %s -> %s", port.OldSource, port.NewSource)
	}
	if changes[1].NewSource != confloader.SourceNone {
		t.Errorf("removed key source = %s", changes[1].NewSource)
	}

	if v, _ := view.Config.Get("http.port"); v != "9443" {
		t.Errorf("view http.port = %q", v)
	}
	if _, ok := view.Config.Get("app.farewell"); ok {
		t.Error("removed key still in view")
	}
}

// Deleting a var file falls back to the next-highest source and is reported
// as a change back to that value.
func TestReconcile_VarFileDeletionFallsBack(t *testing.T) {
	dir, r := setup(t)
	ctx := context.Background()

	path := writeVar(t, dir, "app/greeting", "bonjour")
	snap, err := r.Capture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := snap.Get("app.greeting"); v.Display != "bonjour" {
		t.Fatalf("captured app.greeting = %+v", v)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	_, changes, err := r.Reconcile(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 {
		t.Fatalf("changes = %+v", changes)
	}
	c := changes[0]
	if c.Kind != Modified || c.Old != "bonjour" || c.New != "hello" || c.NewSource != confloader.SourceDefault {
		t.Errorf("change = %+v", c)
	}
}

func TestReconcile_SourceMoveWithoutValueChange(t *testing.T) {
	dir, r := setup(t)
	ctx := context.Background()

	snap, _ := r.Capture(ctx)
	writeVar(t, dir, "app.greeting", "hello")

	_, changes, err := r.Reconcile(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("same value from another source reported as %+v", changes)
	}
}

func TestReconcile_FeatureHash(t *testing.T) {
	dir, r := setup(t)
	ctx := context.Background()

	snap, _ := r.Capture(ctx)
	writeVar(t, dir, "app.greeting", "changed")
	same, _ := r.Capture(ctx)
	if snap.FeatureHash != same.FeatureHash {
		t.Error("non-feature change altered the feature hash")
	}

	writeVar(t, dir, "features.jdbc", "true")
	changed, _ := r.Capture(ctx)
	if snap.FeatureHash == changed.FeatureHash {
		t.Error("feature change did not alter the feature hash")
	}
}

func TestFeatureHash_OrderIndependent(t *testing.T) {
	a := FeatureHash(map[string]string{"features.a": "true", "features.b": "false", "x": "1"})
	b := FeatureHash(map[string]string{"features.b": "false", "features.a": "true", "x": "2"})
	if a != b {
		t.Errorf("FeatureHash differs: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("FeatureHash length = %d, want 32 hex chars", len(a))
	}
}

func TestReconcile_Errors(t *testing.T) {
	r, err := New(failingResolver{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Capture(context.Background()); err == nil {
		t.Error("Capture() should fail when the resolver fails")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := r.Reconcile(ctx, Snapshot{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Reconcile() error = %v, want context.Canceled", err)
	}
}

func TestSnapshot_Values(t *testing.T) {
	_, r := setup(t)
	snap, err := r.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	values := snap.Values()
	if len(values) != snap.Len() {
		t.Fatalf("Values() len = %d, Len() = %d", len(values), snap.Len())
	}
	for i := 1; i < len(values); i++ {
		if values[i-1].Key > values[i].Key {
			t.Errorf("Values() not sorted at %d", i)
		}
	}
}
