package domain

import (
	"sort"
	"time"
)

// RunningCondition describes the run a hook executes in. It is passed to every
// hook invocation by value; hooks never read it from shared state.
type RunningCondition struct {
	// Phase is the checkpoint phase of this run, PhaseUnknown on a plain boot.
	Phase Phase
	// Restored is true when the process was resumed from a snapshot image.
	Restored bool
	// RestoredAt is the wall-clock time the resume primitive returned.
	RestoredAt time.Time
	// Generation counts restores of this process image; 0 on first boot.
	Generation int
	// Config is the configuration view in effect for this run.
	Config ConfigView
}

// FirstBoot reports whether the hook runs during the original boot.
func (c RunningCondition) FirstBoot() bool {
	return !c.Restored
}

// ConfigView is an immutable snapshot of resolved configuration values.
type ConfigView struct {
	values map[string]string
}

// NewConfigView copies values into a new view.
func NewConfigView(values map[string]string) ConfigView {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[k] = v
	}
	return ConfigView{values: m}
}

// Get returns the value for key.
func (v ConfigView) Get(key string) (string, bool) {
	val, ok := v.values[key]
	return val, ok
}

// GetOr returns the value for key or def when unset.
func (v ConfigView) GetOr(key, def string) string {
	if val, ok := v.values[key]; ok {
		return val
	}
	return def
}

// Keys returns the sorted keys of the view.
func (v ConfigView) Keys() []string {
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (v ConfigView) Len() int {
	return len(v.values)
}
