package confloader

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "WARMSTART_"

// Loader loads one configuration tier into its own koanf instance. Later
// loads into the same Loader override earlier ones.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoadFile loads configuration from a YAML file. An empty path or a
// missing file is not an error.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	provider := file.Provider(path)
	if err := l.k.Load(provider, yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}

	return nil
}

// EnvKey converts an environment variable name to a configuration key.
// The prefix is removed, single underscores become dots and double
// underscores become a literal underscore:
//
//	WARMSTART_HTTP_PORT             -> http.port
//	WARMSTART_CHECKPOINT_IMAGES__DIR -> checkpoint.images_dir
func EnvKey(prefix, name string) string {
	s := strings.TrimPrefix(name, prefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "__", "\x00")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "\x00", "_")
}

// LoadEnv loads configuration from process environment variables.
func (l *Loader) LoadEnv() error {
	provider := env.Provider(l.envPrefix, ".", func(s string) string {
		return EnvKey(l.envPrefix, s)
	})
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	return nil
}

// LoadEnvFile loads prefixed KEY=VALUE lines from a dotenv file such as
// server.env. A missing file is not an error.
func (l *Loader) LoadEnvFile(path string) error {
	vars, err := ReadEnvFile(path)
	if err != nil {
		return err
	}

	flat := make(map[string]any)
	for name, value := range vars {
		if !strings.HasPrefix(name, l.envPrefix) {
			continue
		}
		flat[EnvKey(l.envPrefix, name)] = value
	}
	return l.LoadMap(flat)
}

// ReadEnvFile parses a dotenv file into raw variables. A missing file yields
// an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}

	parsed, err := dotenv.Parser().Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", path, err)
	}

	out := make(map[string]string, len(parsed))
	for k, v := range parsed {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

// LoadMap loads configuration from a map of built-in values.
// Dotted keys are expanded into nested maps.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(maps.Unflatten(data, ".")), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// LoadProvider loads a tier that has no file format of its own, such as the
// variables directory.
func (l *Loader) LoadProvider(p koanf.Provider) error {
	return l.k.Load(p, nil)
}

// All returns the loaded configuration as a flat map.
func (l *Loader) All() map[string]any {
	return l.k.All()
}
