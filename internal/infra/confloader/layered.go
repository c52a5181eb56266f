package confloader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/v2"
)

// Files and directories of a server configuration directory.
const (
	ServerFile   = "server.yaml"
	EnvFile      = "server.env"
	VariablesDir = "variables"
	DropinsDir   = "configDropins/overrides"
)

// Source identifies the tier that supplied a value. Higher values win.
type Source int

const (
	SourceNone Source = iota
	SourceDefault
	SourceEnv
	SourceVarDir
	SourceDropin
)

func (s Source) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceEnv:
		return "env"
	case SourceVarDir:
		return "var-dir"
	case SourceDropin:
		return "dropin"
	default:
		return "none"
	}
}

// Entry is a resolved value with the tier it came from.
type Entry struct {
	Value  string
	Source Source
}

// Layered resolves configuration from the tiers of a server directory.
type Layered struct {
	dir       string
	defaults  map[string]any
	envPrefix string
}

// LayeredOption configures a Layered resolver.
type LayeredOption func(*Layered)

// WithDefaults sets built-in values below server.yaml. Keys may be dotted.
func WithDefaults(defaults map[string]any) LayeredOption {
	return func(l *Layered) {
		l.defaults = defaults
	}
}

// WithLayeredEnvPrefix sets the environment variable prefix.
func WithLayeredEnvPrefix(prefix string) LayeredOption {
	return func(l *Layered) {
		l.envPrefix = prefix
	}
}

// NewLayered creates a resolver over the server directory dir.
func NewLayered(dir string, opts ...LayeredOption) *Layered {
	l := &Layered{
		dir:       dir,
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the server directory.
func (l *Layered) Dir() string { return l.dir }

// Paths returns the files and directories the resolver reads, for watching.
func (l *Layered) Paths() []string {
	return []string{
		filepath.Join(l.dir, ServerFile),
		filepath.Join(l.dir, EnvFile),
		filepath.Join(l.dir, VariablesDir),
		filepath.Join(l.dir, DropinsDir),
	}
}

// Resolve reads every tier from scratch and merges them by precedence.
func (l *Layered) Resolve() (*Resolution, error) {
	res := &Resolution{
		entries: make(map[string]Entry),
		k:       koanf.New("."),
		env:     environ(),
	}

	defaults := NewLoader()
	if len(l.defaults) > 0 {
		if err := defaults.LoadMap(l.defaults); err != nil {
			return nil, err
		}
	}
	if err := defaults.LoadFile(filepath.Join(l.dir, ServerFile)); err != nil {
		return nil, err
	}

	envTier := NewLoader(WithEnvPrefix(l.envPrefix))
	if err := envTier.LoadEnv(); err != nil {
		return nil, err
	}
	envPath := filepath.Join(l.dir, EnvFile)
	if err := envTier.LoadEnvFile(envPath); err != nil {
		return nil, err
	}
	fileVars, err := ReadEnvFile(envPath)
	if err != nil {
		return nil, err
	}
	for k, v := range fileVars {
		res.env[k] = v
	}

	varTier := NewLoader()
	if err := varTier.LoadProvider(VarDir(filepath.Join(l.dir, VariablesDir))); err != nil {
		return nil, fmt.Errorf("load variable dir: %w", err)
	}

	dropinTier := NewLoader()
	dropins, err := filepath.Glob(filepath.Join(l.dir, DropinsDir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(dropins)
	for _, path := range dropins {
		if err := dropinTier.LoadFile(path); err != nil {
			return nil, fmt.Errorf("load dropin %s: %w", filepath.Base(path), err)
		}
	}

	tiers := []struct {
		loader *Loader
		source Source
	}{
		{defaults, SourceDefault},
		{envTier, SourceEnv},
		{varTier, SourceVarDir},
		{dropinTier, SourceDropin},
	}
	for _, tier := range tiers {
		for key, v := range tier.loader.All() {
			res.entries[key] = Entry{Value: stringify(v), Source: tier.source}
		}
		if err := res.k.Merge(tier.loader.k); err != nil {
			return nil, fmt.Errorf("merge %s tier: %w", tier.source, err)
		}
	}

	return res, nil
}

func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// Resolution is the immutable result of one Resolve call.
type Resolution struct {
	entries map[string]Entry
	k       *koanf.Koanf
	env     map[string]string
}

// Get returns the resolved entry for key.
func (r *Resolution) Get(key string) (Entry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

// Entries returns a copy of every resolved entry.
func (r *Resolution) Entries() map[string]Entry {
	out := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Values returns key -> value for every resolved entry.
func (r *Resolution) Values() map[string]string {
	out := make(map[string]string, len(r.entries))
	for k, e := range r.entries {
		out[k] = e.Value
	}
	return out
}

// Keys returns the sorted resolved keys.
func (r *Resolution) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unmarshal decodes the merged configuration into target.
func (r *Resolution) Unmarshal(target any) error {
	return r.k.Unmarshal("", target)
}

// Env returns a raw environment variable, with server.env overriding the
// process environment.
func (r *Resolution) Env(name string) (string, bool) {
	v, ok := r.env[name]
	return v, ok
}
