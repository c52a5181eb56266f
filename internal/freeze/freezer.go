package freeze

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yndnr/warmstart/internal/storage/image"
)

// Freezer is the snapshot primitive used by the controller.
type Freezer interface {
	// Check reports whether the platform can take checkpoints.
	Check(ctx context.Context) error
	// Freeze snapshots the process into img. It returns once the process
	// runs again, either left running or restored from img.
	Freeze(ctx context.Context, img *image.Image) error
	// Resume completes the resume of a process frozen into img.
	Resume(ctx context.Context, img *image.Image) error
}

// Process is a process tree restored from an image.
type Process interface {
	Pid() int
	// Wait blocks until the process exits and returns its exit code.
	Wait() (int, error)
}

// Op names the primitive operation that failed.
type Op string

const (
	OpCheck   Op = "check"
	OpFreeze  Op = "freeze"
	OpResume  Op = "resume"
	OpRestore Op = "restore"
)

// Layer attributes a failure.
type Layer int

const (
	LayerUnknown Layer = iota
	LayerRuntime
	LayerSystem
)

func (l Layer) String() string {
	switch l {
	case LayerRuntime:
		return "runtime"
	case LayerSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Error is a failure of the snapshot primitive.
type Error struct {
	Op    Op
	Layer Layer
	Err   error
	// Log holds the relevant lines of the CRIU log, if any.
	Log string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Layer, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// LogLevelEnv selects the CRIU log verbosity at freeze time.
const LogLevelEnv = "WARMSTART_CRIU_LOG_LEVEL"

// Bounds of the CRIU log level.
const (
	MinLogLevel     = 0
	MaxLogLevel     = 4
	DefaultLogLevel = 2
)

// ParseLogLevel parses a CRIU log level. An empty value gives the default.
func ParseLogLevel(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultLogLevel, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: not a number", LogLevelEnv, raw)
	}
	if n < MinLogLevel || n > MaxLogLevel {
		return 0, fmt.Errorf("invalid %s %d: must be between %d and %d", LogLevelEnv, n, MinLogLevel, MaxLogLevel)
	}
	return n, nil
}

// EnvFunc looks up an environment variable.
type EnvFunc func(name string) (string, bool)
