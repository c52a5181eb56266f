package freeze

import (
	"os"
	"strings"

	"github.com/yndnr/warmstart/internal/storage/image"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// MinCRIUVersion is the oldest CRIU accepted by Check, as reported by
// GetCriuVersion (major*10000 + minor*100 + sublevel).
const MinCRIUVersion = 31500

// CRIU freezes and restores processes with CRIU.
type CRIU struct {
	settings image.CRIUSettings
	lookup   EnvFunc
	logger   logger.Logger
}

// CRIUOption configures a CRIU freezer.
type CRIUOption func(*CRIU)

// WithSettings sets the dump options. The log level is overridden by
// WARMSTART_CRIU_LOG_LEVEL when set.
func WithSettings(s image.CRIUSettings) CRIUOption {
	return func(c *CRIU) { c.settings = s }
}

// WithEnv sets how environment variables are looked up. The default is the
// process environment.
func WithEnv(fn EnvFunc) CRIUOption {
	return func(c *CRIU) {
		if fn != nil {
			c.lookup = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) CRIUOption {
	return func(c *CRIU) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCRIU creates a CRIU freezer.
func NewCRIU(opts ...CRIUOption) *CRIU {
	c := &CRIU{
		settings: image.CRIUSettings{LogLevel: DefaultLogLevel},
		lookup:   os.LookupEnv,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Settings returns the dump options with the log level resolved from the
// environment. An invalid level is an error of the unknown layer.
func (c *CRIU) Settings(op Op) (image.CRIUSettings, error) {
	s := c.settings
	if raw, ok := c.lookup(LogLevelEnv); ok {
		level, err := ParseLogLevel(raw)
		if err != nil {
			return s, &Error{Op: op, Layer: LayerUnknown, Err: err}
		}
		s.LogLevel = level
	}
	return s, nil
}

// ConfContent returns the criu.conf content for options that cannot be
// passed over RPC.
func ConfContent(s image.CRIUSettings) string {
	var b strings.Builder
	if s.LibDir != "" {
		b.WriteString("libdir " + s.LibDir + "\n")
	}
	if s.FileLocks {
		b.WriteString("file-locks\n")
	}
	return b.String()
}

// LogSummary returns the error lines of a CRIU log, at most limit of them,
// followed by its last line.
func LogSummary(path string, limit int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	var (
		lines []string
		last  string
	)
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		last = trimmed
		lower := strings.ToLower(trimmed)
		if len(lines) < limit && (strings.Contains(lower, "error") || strings.Contains(lower, "fail")) {
			lines = append(lines, trimmed)
		}
	}
	if last != "" && (len(lines) == 0 || lines[len(lines)-1] != last) {
		lines = append(lines, last)
	}
	return strings.Join(lines, "\n")
}
