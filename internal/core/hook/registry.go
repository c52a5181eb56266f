package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// DefaultFanOutTimeout bounds the wait for concurrent after-restore hooks.
const DefaultFanOutTimeout = 30 * time.Second

type entry struct {
	Hook
	seq int
}

// Registry holds lifecycle hooks in execution order.
// Hooks are never removed; registration is safe while a run is in progress,
// but a run only sees hooks registered before it started.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	nextSeq int

	fanOutTimeout time.Duration
	logger        logger.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFanOutTimeout sets how long RunAfterRestore waits for fan-out hooks.
func WithFanOutTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.fanOutTimeout = d
		}
	}
}

// WithLogger sets the logger used for per-hook debug output.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		fanOutTimeout: DefaultFanOutTimeout,
		logger:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates h and inserts it in stable rank order.
func (r *Registry) Register(h Hook) error {
	if err := validate(h); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.Timing == h.Timing && e.Name == h.Name {
			return domain.ErrDuplicateHook.WithDetails(fmt.Sprintf("%s %q", h.Timing, h.Name))
		}
	}

	r.entries = append(r.entries, entry{Hook: h, seq: r.nextSeq})
	r.nextSeq++
	sort.SliceStable(r.entries, func(i, j int) bool {
		return less(r.entries[i], r.entries[j])
	})
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(h Hook) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

func validate(h Hook) error {
	switch {
	case h.Name == "":
		return domain.ErrInvalidHook.WithDetails("name is required")
	case h.Fn == nil:
		return domain.ErrInvalidHook.WithDetails(fmt.Sprintf("hook %q has no function", h.Name))
	case h.Timing != BeforeCheckpoint && h.Timing != AfterRestore:
		return domain.ErrInvalidHook.WithDetails(fmt.Sprintf("hook %q has unknown timing %s", h.Name, h.Timing))
	case h.Mode != Ordered && h.Mode != FanOut:
		return domain.ErrInvalidHook.WithDetails(fmt.Sprintf("hook %q has unknown mode %s", h.Name, h.Mode))
	case h.Timing == BeforeCheckpoint && h.Mode == FanOut:
		return domain.ErrInvalidHook.WithDetails(fmt.Sprintf("hook %q: before-checkpoint hooks must be ordered", h.Name))
	case h.Layer < LayerApplication || h.Layer > LayerSystem:
		return domain.ErrInvalidHook.WithDetails(fmt.Sprintf("hook %q has unknown layer %s", h.Name, h.Layer))
	}
	return nil
}

// less orders by timing, then ordered before fan-out, then rank, then
// registration order.
func less(a, b entry) bool {
	if a.Timing != b.Timing {
		return a.Timing < b.Timing
	}
	if a.Mode != b.Mode {
		return a.Mode < b.Mode
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.seq < b.seq
}

// Hooks returns the hooks of the given timing in execution order.
func (r *Registry) Hooks(timing Timing) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Hook
	for _, e := range r.entries {
		if e.Timing == timing {
			out = append(out, e.Hook)
		}
	}
	return out
}

// Len returns the number of registered hooks of the given timing.
func (r *Registry) Len(timing Timing) int {
	return len(r.Hooks(timing))
}

// RunBeforeCheckpoint runs before-checkpoint hooks one at a time in rank
// order. It stops at the first failure and returns it; nil means every hook
// succeeded.
func (r *Registry) RunBeforeCheckpoint(ctx context.Context, cond domain.RunningCondition) *Failure {
	for _, h := range r.Hooks(BeforeCheckpoint) {
		if err := ctx.Err(); err != nil {
			return &Failure{Hook: h.Name, Timing: h.Timing, Layer: h.Layer, Err: err}
		}
		if f := failureOf(r.invoke(ctx, h, cond)); f != nil {
			return f
		}
	}
	return nil
}

// RunAfterRestore runs ordered after-restore hooks sequentially, then fan-out
// hooks concurrently, and returns every failure in execution order. Fan-out
// hooks still running when the fan-out timeout elapses are reported as timed
// out; they are not waited for.
func (r *Registry) RunAfterRestore(ctx context.Context, cond domain.RunningCondition) []Failure {
	results := r.RunAfterRestoreResults(ctx, cond)

	var failures []Failure
	for _, res := range results {
		if f := failureOf(res); f != nil {
			failures = append(failures, *f)
		}
	}
	return failures
}

// RunAfterRestoreResults is RunAfterRestore returning every result, including
// successes.
func (r *Registry) RunAfterRestoreResults(ctx context.Context, cond domain.RunningCondition) []Result {
	var ordered, fanOut []Hook
	for _, h := range r.Hooks(AfterRestore) {
		if h.Mode == FanOut {
			fanOut = append(fanOut, h)
		} else {
			ordered = append(ordered, h)
		}
	}

	results := make([]Result, 0, len(ordered)+len(fanOut))
	for _, h := range ordered {
		results = append(results, r.invoke(ctx, h, cond))
	}
	return append(results, r.runFanOut(ctx, fanOut, cond)...)
}

func (r *Registry) runFanOut(ctx context.Context, hooks []Hook, cond domain.RunningCondition) []Result {
	if len(hooks) == 0 {
		return nil
	}

	fctx, cancel := context.WithTimeout(ctx, r.fanOutTimeout)
	defer cancel()

	results := make([]Result, len(hooks))
	var g errgroup.Group
	for i, h := range hooks {
		g.Go(func() error {
			start := time.Now()
			done := make(chan Result, 1)
			go func() { done <- r.invoke(fctx, h, cond) }()

			select {
			case res := <-done:
				results[i] = res
			case <-fctx.Done():
				select {
				case res := <-done:
					results[i] = res
				default:
					results[i] = Result{
						Hook:     h.Name,
						Timing:   h.Timing,
						Layer:    h.Layer,
						Status:   StatusTimedOut,
						Err:      fctx.Err(),
						Duration: time.Since(start),
					}
					return fmt.Errorf("hook %s: %w", h.Name, fctx.Err())
				}
			}
			return nil
		})
	}
	// Wait reports the first hook left running; the others are in results.
	if err := g.Wait(); err != nil {
		r.logger.Warn("fan-out hooks abandoned", "timeout", r.fanOutTimeout, "error", err)
	}

	return results
}

func (r *Registry) invoke(ctx context.Context, h Hook, cond domain.RunningCondition) (res Result) {
	res = Result{Hook: h.Name, Timing: h.Timing, Layer: h.Layer}
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("hook panicked: %v", p)
		}
		res.Duration = time.Since(start)
		r.logger.Debug("hook finished",
			"hook", h.Name,
			"timing", h.Timing.String(),
			"status", res.Status.String(),
			"duration", res.Duration,
		)
	}()

	if err := h.Fn(ctx, cond); err != nil {
		res.Status = StatusFailed
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			res.Status = StatusTimedOut
		}
		res.Err = err
	}
	return res
}
