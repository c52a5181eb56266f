package repl

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewHistory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	h := NewHistory()
	if h.maxSize != DefaultHistorySize {
		t.Errorf("maxSize = %d, want %d", h.maxSize, DefaultHistorySize)
	}
	if want := filepath.Join(home, ".warmstart", "history"); h.file != want {
		t.Errorf("file = %q, want %q", h.file, want)
	}
}

func TestHistory_Add_MaxSize(t *testing.T) {
	h := NewFileHistory("")
	h.maxSize = 3

	for _, cmd := range []string{"cmd1", "cmd2", "cmd3", "cmd4"} {
		h.Add(cmd)
	}

	if h.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", h.Len())
	}
	if h.Get(2) != "cmd2" {
		t.Errorf("oldest = %q, want cmd2", h.Get(2))
	}
}

func TestHistory_Get(t *testing.T) {
	h := NewFileHistory("")
	h.Add("first")
	h.Add("second")
	h.Add("third")

	tests := []struct {
		index int
		want  string
	}{
		{0, "third"},
		{1, "second"},
		{2, "first"},
		{3, ""},
		{-1, ""},
	}
	for _, tt := range tests {
		if got := h.Get(tt.index); got != tt.want {
			t.Errorf("Get(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

func TestHistory_SaveLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sub", "history")

	h := NewFileHistory(file)
	h.Add("images list")
	h.Add("restore latest")
	if err := h.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(file)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	loaded := NewFileHistory(file)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Len() != 2 || loaded.Get(0) != "restore latest" || loaded.Get(1) != "images list" {
		t.Errorf("loaded = %d entries, [%q %q]", loaded.Len(), loaded.Get(0), loaded.Get(1))
	}
}

func TestHistory_LoadMissing(t *testing.T) {
	h := NewFileHistory(filepath.Join(t.TempDir(), "missing"))
	if err := h.Load(); err != nil {
		t.Errorf("Load() error = %v", err)
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}
