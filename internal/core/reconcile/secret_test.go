package reconcile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/warmstart/internal/infra/confloader"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

func TestFingerprinter(t *testing.T) {
	a, err := NewFingerprinter([]byte("seed-a"))
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := NewFingerprinter([]byte("seed-a"))
	b, _ := NewFingerprinter([]byte("seed-b"))

	fp := a.Fingerprint("db.password", "hunter2")
	if fp != a2.Fingerprint("db.password", "hunter2") {
		t.Error("same seed must give the same fingerprint")
	}
	if fp == b.Fingerprint("db.password", "hunter2") {
		t.Error("different seeds must give different fingerprints")
	}
	if fp == a.Fingerprint("db.user", "hunter2") {
		t.Error("fingerprint must be bound to the key")
	}
	if strings.Contains(fp, "hunter2") {
		t.Error("fingerprint leaks plaintext")
	}

	if _, err := NewFingerprinter(nil); err == nil {
		t.Error("empty seed should be rejected")
	}
}

func TestMarker_FixedLength(t *testing.T) {
	fp, _ := NewFingerprinter([]byte("seed"))
	want := len(Marker(fp.Fingerprint("k", "")))
	for _, v := range []string{"x", "short", strings.Repeat("long-secret-", 100)} {
		m := Marker(fp.Fingerprint("k", v))
		if len(m) != want {
			t.Errorf("Marker length = %d, want %d", len(m), want)
		}
		if !strings.HasPrefix(m, logger.MarkerPrefix) || !strings.HasSuffix(m, "]") {
			t.Errorf("Marker = %q", m)
		}
	}
	if got := Marker("abc"); got != "[redacted:abc]" {
		t.Errorf("Marker(short) = %q", got)
	}
}

func TestIsSecret(t *testing.T) {
	listed := map[string]bool{"app.license": true}
	tests := []struct {
		key  string
		want bool
	}{
		{"app.license", true},
		{"db.password", true},
		{"oauth.client_secret", true},
		{"http.port", false},
		{"app.name", false},
	}
	for _, tt := range tests {
		if got := IsSecret(tt.key, listed); got != tt.want {
			t.Errorf("IsSecret(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

// A rotated secret is reported as changed, its markers differ between
// restores, and the plaintext never reaches a Change, a Snapshot or the log.
func TestReconcile_SecretRotation(t *testing.T) {
	dir := t.TempDir()
	pwFile := filepath.Join(dir, confloader.VariablesDir, "db", "password")
	licFile := filepath.Join(dir, confloader.VariablesDir, "app", "license")
	write := func(path, v string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(v), 0600); err != nil {
			t.Fatal(err)
		}
	}
	write(pwFile, "first-plaintext-pw")
	write(licFile, "LIC-AAAA-1111")
	write(filepath.Join(dir, confloader.ServerFile), "secrets: app.license\n")

	var buf bytes.Buffer
	l, err := logger.New(logger.Config{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	fp, _ := NewFingerprinter([]byte("process-seed"))
	r, err := New(confloader.NewLayered(dir), WithLogger(l), WithFingerprinter(fp))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	snap, err := r.Capture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := snap.Get("db.password")
	if !first.Secret || strings.Contains(first.Display, "first-plaintext-pw") {
		t.Fatalf("captured secret = %+v", first)
	}

	write(pwFile, "second-plaintext-pw")
	write(licFile, "LIC-BBBB-2222")

	view, changes, err := r.Reconcile(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %+v, want 2", changes)
	}
	for _, c := range changes {
		if !c.Secret || c.Kind != Modified {
			t.Errorf("change = %+v", c)
		}
		if c.Old == c.New {
			t.Errorf("%s: markers must differ after rotation", c.Key)
		}
		if len(c.Old) != len(c.New) {
			t.Errorf("%s: markers must have a fixed length", c.Key)
		}
	}

	// Hooks see the plaintext through the view.
	if v, _ := view.Config.Get("db.password"); v != "second-plaintext-pw" {
		t.Errorf("view db.password = %q", v)
	}

	out := buf.String()
	for _, plain := range []string{"first-plaintext-pw", "second-plaintext-pw", "LIC-AAAA-1111", "LIC-BBBB-2222"} {
		if strings.Contains(out, plain) {
			t.Errorf("log contains plaintext %q:\n%s", plain, out)
		}
	}
	if strings.Count(out, "WSCR0130I") != 2 {
		t.Errorf("want one WSCR0130I per changed key:\n%s", out)
	}

	// Unchanged secret: no change on a second pass.
	_, again, err := r.Reconcile(ctx, view.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("unchanged config reported %+v", again)
	}
}

func TestDiff_SecretFlagFlip(t *testing.T) {
	old := Snapshot{values: map[string]Value{
		"app.key": {Key: "app.key", Display: "visible-before", Source: confloader.SourceDefault},
	}}
	cur := Snapshot{values: map[string]Value{
		"app.key": {Key: "app.key", Display: "[redacted:0123456789ab]", Source: confloader.SourceDefault, Secret: true, fingerprint: "0123456789abcdef"},
	}}

	changes := Diff(old, cur)
	if len(changes) != 1 {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].Old == "visible-before" || changes[0].Old != hiddenMarker {
		t.Errorf("Old = %q, plaintext side must be hidden", changes[0].Old)
	}
}
