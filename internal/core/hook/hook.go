package hook

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/yndnr/warmstart/internal/core/domain"
)

// Timing selects when a hook runs relative to the freeze boundary.
type Timing int

const (
	// BeforeCheckpoint hooks run after the requested phase is reached and
	// before the freeze primitive is invoked.
	BeforeCheckpoint Timing = iota + 1
	// AfterRestore hooks run after the resume primitive returns.
	AfterRestore
)

func (t Timing) String() string {
	switch t {
	case BeforeCheckpoint:
		return "before-checkpoint"
	case AfterRestore:
		return "after-restore"
	default:
		return fmt.Sprintf("timing(%d)", int(t))
	}
}

// Mode selects sequential or concurrent execution.
type Mode int

const (
	// Ordered hooks run one at a time in rank order.
	Ordered Mode = iota
	// FanOut hooks run concurrently after all ordered hooks. Only valid for
	// AfterRestore.
	FanOut
)

func (m Mode) String() string {
	switch m {
	case Ordered:
		return "ordered"
	case FanOut:
		return "fan-out"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Layer names the owner of a hook. It sub-classifies restore failures.
type Layer int

const (
	LayerApplication Layer = iota
	LayerRuntime
	LayerSystem
)

func (l Layer) String() string {
	switch l {
	case LayerApplication:
		return "application"
	case LayerRuntime:
		return "runtime"
	case LayerSystem:
		return "system"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// Func is a hook body. The RunningCondition is the only run context a hook
// may rely on.
type Func func(ctx context.Context, cond domain.RunningCondition) error

// Hook is a unit of work executed at a lifecycle transition.
type Hook struct {
	Name   string
	Timing Timing
	Mode   Mode
	// Rank orders hooks of the same timing and mode, ascending. Ties break by
	// registration order.
	Rank  int
	Layer Layer
	Fn    Func
}

// Status is the tagged result of one hook invocation.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result records one hook invocation.
type Result struct {
	Hook     string
	Timing   Timing
	Layer    Layer
	Status   Status
	Err      error
	Duration time.Duration
}

// Failure is a failed or timed-out hook invocation.
type Failure struct {
	Hook     string
	Timing   Timing
	Layer    Layer
	Err      error
	TimedOut bool
}

func (f *Failure) Error() string {
	if f.TimedOut {
		return fmt.Sprintf("%s hook %q timed out", f.Timing, f.Hook)
	}
	return fmt.Sprintf("%s hook %q failed: %v", f.Timing, f.Hook, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func failureOf(r Result) *Failure {
	if r.Status == StatusSuccess {
		return nil
	}
	return &Failure{
		Hook:     r.Hook,
		Timing:   r.Timing,
		Layer:    r.Layer,
		Err:      r.Err,
		TimedOut: r.Status == StatusTimedOut,
	}
}

// Errors joins failures into a single error, nil when there are none.
func Errors(failures []Failure) error {
	var result *multierror.Error
	for i := range failures {
		result = multierror.Append(result, &failures[i])
	}
	return result.ErrorOrNil()
}
