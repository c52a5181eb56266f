package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/core/hook"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// TimersHookName is the name of the before-checkpoint hook that disarms the
// scheduler.
const TimersHookName = "timers"

// Scheduler runs delayed and repeating tasks. Deadlines are relative to the
// time they were scheduled; time spent frozen by a checkpoint does not count
// toward them.
//
// @design DS-0106
type Scheduler struct {
	mu       sync.Mutex
	clock    clock.WithDelayedExecution
	logger   logger.Logger
	tasks    map[string]*task
	frozen   bool
	frozenAt time.Time
}

type task struct {
	id          string
	fn          func(ctx context.Context)
	scheduledAt time.Time
	delay       time.Duration
	interval    time.Duration
	wallClock   bool
	timer       clock.Timer
	// gen invalidates callbacks of timers that were stopped but already fired.
	gen int
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock sets the clock. Tests pass a fake clock.
func WithSchedulerClock(c clock.WithDelayedExecution) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l logger.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates a scheduler on the real clock.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		clock:  clock.RealClock{},
		logger: logger.Discard(),
		tasks:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule runs fn once after delay.
func (s *Scheduler) Schedule(id string, delay time.Duration, fn func(ctx context.Context)) error {
	return s.add(id, delay, 0, false, fn)
}

// ScheduleExpiry runs fn once when delay of real time has passed. Unlike
// Schedule, time spent frozen counts, so an expiry that passed during the
// freeze fires right after Rearm.
func (s *Scheduler) ScheduleExpiry(id string, delay time.Duration, fn func(ctx context.Context)) error {
	return s.add(id, delay, 0, true, fn)
}

// ScheduleRepeating runs fn after delay and then every interval.
func (s *Scheduler) ScheduleRepeating(id string, delay, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %q: interval must be positive", id)
	}
	return s.add(id, delay, interval, false, fn)
}

func (s *Scheduler) add(id string, delay, interval time.Duration, wallClock bool, fn func(ctx context.Context)) error {
	if id == "" {
		return fmt.Errorf("scheduler: task id is required")
	}
	if fn == nil {
		return fmt.Errorf("scheduler: task %q has no function", id)
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		return fmt.Errorf("scheduler: task %q already scheduled", id)
	}
	t := &task{
		id:          id,
		fn:          fn,
		scheduledAt: s.clock.Now(),
		delay:       delay,
		interval:    interval,
		wallClock:   wallClock,
	}
	s.tasks[id] = t
	if !s.frozen {
		s.armLocked(t, delay)
	}
	return nil
}

// Cancel stops and removes a task. It reports whether the task existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	s.disarmLocked(t)
	delete(s.tasks, id)
	return true
}

// Pending returns the deadline of every scheduled task, sorted by ID.
func (s *Scheduler) Pending() []domain.Deadline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Scheduler) pendingLocked() []domain.Deadline {
	out := make([]domain.Deadline, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, domain.Deadline{
			ID:          t.id,
			ScheduledAt: t.scheduledAt,
			Delay:       t.delay,
			Interval:    t.interval,
			WallClock:   t.wallClock,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Freeze disarms every timer and records the freeze time. Tasks scheduled
// while frozen are armed by Rearm.
func (s *Scheduler) Freeze() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return s.frozenAt
	}
	s.frozen = true
	s.frozenAt = s.clock.Now()
	for _, t := range s.tasks {
		s.disarmLocked(t)
	}
	s.logger.Debug("scheduler frozen", "tasks", len(s.tasks))
	return s.frozenAt
}

// Rearm recomputes every deadline excluding the frozen interval, except for
// expiries, and arms the timers again. It returns the adjusted deadlines; nil when not frozen.
func (s *Scheduler) Rearm() []domain.Adjusted {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.frozen {
		return nil
	}
	resumedAt := s.clock.Now()
	adjusted := domain.AdjustDeadlines(s.frozenAt, resumedAt, s.pendingLocked())
	for _, a := range adjusted {
		t := s.tasks[a.ID]
		// The countdown restarts at resume with what was left at the freeze.
		t.scheduledAt = resumedAt
		t.delay = a.Remaining
		s.armLocked(t, a.Remaining)
		if a.Skipped > 0 {
			s.logger.Debug("scheduler collapsed missed intervals", "task", a.ID, "skipped", a.Skipped)
		}
	}
	s.frozen = false
	return adjusted
}

// FrozenFor returns how long the scheduler has been frozen, 0 when it is
// not.
func (s *Scheduler) FrozenFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen {
		return 0
	}
	return s.clock.Since(s.frozenAt)
}

// Hook returns the before-checkpoint hook that freezes the scheduler. It is
// ranked after every other hook so application hooks may still schedule or
// cancel work.
func (s *Scheduler) Hook() hook.Hook {
	return hook.Hook{
		Name:   TimersHookName,
		Timing: hook.BeforeCheckpoint,
		Mode:   hook.Ordered,
		Rank:   math.MaxInt32,
		Layer:  hook.LayerRuntime,
		Fn: func(ctx context.Context, _ domain.RunningCondition) error {
			s.Freeze()
			return nil
		},
	}
}

// Stop disarms every timer and removes all tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		s.disarmLocked(t)
		delete(s.tasks, id)
	}
}

func (s *Scheduler) armLocked(t *task, after time.Duration) {
	t.gen++
	gen := t.gen
	// The callback must not call back into the clock synchronously.
	t.timer = s.clock.AfterFunc(after, func() { go s.fire(t.id, gen) })
}

func (s *Scheduler) disarmLocked(t *task) {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (s *Scheduler) fire(id string, gen int) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.gen != gen || s.frozen {
		s.mu.Unlock()
		return
	}
	fn := t.fn
	if t.interval > 0 {
		t.scheduledAt = s.clock.Now()
		t.delay = t.interval
		s.armLocked(t, t.interval)
	} else {
		t.timer = nil
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task", id, "panic", r)
		}
	}()
	fn(context.Background())
}
