package confloader

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

func newTestWatcher(t *testing.T, opts ...WatcherOption) *Watcher {
	t.Helper()
	opts = append([]WatcherOption{
		WithWatcherLogger(logger.Discard()),
		WithCoalesceInterval(10 * time.Millisecond),
	}, opts...)
	w, err := NewWatcher(opts...)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	return w
}

func TestNewWatcher(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if w.watcher == nil {
		t.Error("NewWatcher() watcher is nil")
	}
	if w.done == nil {
		t.Error("NewWatcher() done channel is nil")
	}
	if w.logger == nil {
		t.Error("NewWatcher() logger is nil")
	}
	if w.limiter == nil {
		t.Error("NewWatcher() limiter is nil")
	}
}

func TestWatcher_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, ServerFile)
	if err := os.WriteFile(configFile, []byte("key: value"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w := newTestWatcher(t)
	defer w.Stop()

	if err := w.Watch(configFile); err != nil {
		t.Errorf("Watch() error = %v", err)
	}
	if err := w.Watch("/nonexistent/path/server.yaml"); err == nil {
		t.Error("Watch() expected error for nonexistent directory")
	}
	if err := w.WatchDir(filepath.Join(tmpDir, "missing")); err != nil {
		t.Errorf("WatchDir() on missing dir error = %v", err)
	}
}

func TestWatcher_OnChange(t *testing.T) {
	w := newTestWatcher(t)
	defer w.Stop()

	var count int
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		w.OnChange(func(paths []string) {
			mu.Lock()
			count += len(paths)
			mu.Unlock()
		})
	}

	w.notifyCallbacks([]string{"/a", "/b"})

	mu.Lock()
	defer mu.Unlock()
	if count != 6 {
		t.Errorf("count = %d, want 6", count)
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	w := newTestWatcher(t)
	w.StartAsync()
	time.Sleep(20 * time.Millisecond)

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func waitPaths(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case paths := <-ch:
		return paths
	case <-time.After(3 * time.Second):
		t.Fatal("OnChange() callback was not triggered within timeout")
		return nil
	}
}

func TestWatcher_FileChange(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, ServerFile)
	if err := os.WriteFile(configFile, []byte("key: value1"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w := newTestWatcher(t)
	if err := w.Watch(configFile); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	changed := make(chan []string, 10)
	w.OnChange(func(paths []string) { changed <- paths })

	w.StartAsync()
	defer w.Stop()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("key: value2"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	paths := waitPaths(t, changed)
	if len(paths) == 0 {
		t.Error("OnChange() callback received no paths")
	}
}

func TestWatcher_VarDirRemove(t *testing.T) {
	root := t.TempDir()
	varFile := filepath.Join(root, "app", "color")
	writeFile(t, varFile, "red")

	w := newTestWatcher(t)
	if err := w.WatchDir(root); err != nil {
		t.Fatalf("WatchDir() error = %v", err)
	}

	changed := make(chan []string, 10)
	w.OnChange(func(paths []string) { changed <- paths })

	w.StartAsync()
	defer w.Stop()
	time.Sleep(100 * time.Millisecond)

	if err := os.Remove(varFile); err != nil {
		t.Fatal(err)
	}

	found := false
	deadline := time.After(3 * time.Second)
	for !found {
		select {
		case paths := <-changed:
			for _, p := range paths {
				if p == varFile {
					found = true
				}
			}
		case <-deadline:
			t.Fatal("removal of a variable file was not reported")
		}
	}
}

func TestWatcher_CoalescesBurst(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, WithCoalesceInterval(300*time.Millisecond))
	if err := w.WatchDir(tmpDir); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var calls [][]string
	w.OnChange(func(paths []string) {
		mu.Lock()
		calls = append(calls, paths)
		mu.Unlock()
	})

	w.StartAsync()
	defer w.Stop()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 20; i++ {
		name := filepath.Join(tmpDir, "f"+string(rune('a'+i)))
		if err := os.WriteFile(name, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(1200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) == 0 {
		t.Fatal("no notification delivered")
	}
	if len(calls) > 5 {
		t.Errorf("burst of 20 writes produced %d notifications", len(calls))
	}
	seen := map[string]bool{}
	for _, c := range calls {
		for _, p := range c {
			seen[p] = true
		}
	}
	if len(seen) != 20 {
		t.Errorf("delivered %d distinct paths, want 20", len(seen))
	}
}
