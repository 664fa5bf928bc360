// Package scheduler owns every periodic background task in the process:
// telemetry collection, alert evaluation, report polling, retention pruning.
// Each task runs in its own loop on a fixed interval; an invocation that
// overruns its interval causes skipped ticks, never reentrancy. Repeated
// failure disables the task and fires the disabled hook.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/metrics"
)

// TaskFunc is one unit of periodic work. It must observe ctx cancellation at
// its suspension points.
type TaskFunc func(ctx context.Context) error

// DisabledHook is invoked once when a task exceeds the failure limit and is
// taken out of rotation (e.g. to raise a task_disabled alert).
type DisabledHook func(task string, lastErr error)

// task tracks one registered periodic loop.
type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	mu       sync.Mutex
	lastErr  error
	lastRun  time.Time
	failures int
	disabled bool
}

// LastError returns the most recent error, or nil.
func (t *task) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// TaskStatus is a point-in-time view of a registered task.
type TaskStatus struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run"`
	LastErr  string        `json:"last_error,omitempty"`
	Failures int           `json:"failures"`
	Disabled bool          `json:"disabled"`
}

// Scheduler runs registered tasks until Shutdown. Register tasks with Every
// before calling Start.
type Scheduler struct {
	clk          clock.Clock
	logger       *slog.Logger
	failureLimit int
	onDisabled   DisabledHook

	mu       sync.Mutex
	tasks    []*task
	started  bool
	shutdown bool
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// New creates a scheduler. failureLimit is the number of consecutive task
// failures tolerated before the task is disabled; 0 means never disable.
func New(clk clock.Clock, failureLimit int, onDisabled DisabledHook, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clk:          clk,
		logger:       logger,
		failureLimit: failureLimit,
		onDisabled:   onDisabled,
	}
}

// Every registers fn to run on a fixed interval once Start is called.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{name: name, interval: interval, fn: fn})
}

// Start launches every registered task loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, runCtx = errgroup.WithContext(runCtx)
	for _, t := range s.tasks {
		t := t
		s.group.Go(func() error {
			s.runLoop(runCtx, t)
			return nil
		})
	}
}

// runLoop drives one task. time.Ticker drops ticks while the handler runs,
// which gives the skip-on-overrun guarantee for free.
func (s *Scheduler) runLoop(ctx context.Context, t *task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
			if t.isDisabled() {
				return
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked", "task", t.name, "panic", r)
			s.recordFailure(t, &panicError{value: r})
		}
	}()

	err := t.fn(ctx)
	t.mu.Lock()
	t.lastRun = s.clk.Now()
	t.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return // shutdown, not a task fault
		}
		s.logger.Warn("scheduler task failed", "task", t.name, "err", err)
		metrics.TaskFailuresTotal.WithLabelValues(t.name).Inc()
		s.recordFailure(t, err)
		return
	}
	t.mu.Lock()
	t.lastErr = nil
	t.failures = 0
	t.mu.Unlock()
}

func (s *Scheduler) recordFailure(t *task, err error) {
	t.mu.Lock()
	t.lastErr = err
	t.failures++
	hitLimit := s.failureLimit > 0 && t.failures >= s.failureLimit && !t.disabled
	if hitLimit {
		t.disabled = true
	}
	t.mu.Unlock()

	if hitLimit {
		s.logger.Error("scheduler task disabled after repeated failures",
			"task", t.name, "failures", s.failureLimit, "err", err)
		if s.onDisabled != nil {
			s.onDisabled(t.name, err)
		}
	}
}

func (t *task) isDisabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disabled
}

// Shutdown cancels all task loops and waits for in-flight invocations to
// drain, bounded by grace. After Shutdown, IsShuttingDown reports true.
func (s *Scheduler) Shutdown(grace time.Duration) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	cancel := s.cancel
	group := s.group
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("scheduler shutdown grace period elapsed with tasks still running")
	}
}

// IsShuttingDown reports whether Shutdown has begun. Ingestion and appends
// consult this to fail fast with ShuttingDown.
func (s *Scheduler) IsShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Status lists every registered task with its last run and error.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	tasks := make([]*task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		st := TaskStatus{
			Name:     t.name,
			Interval: t.interval,
			LastRun:  t.lastRun,
			Failures: t.failures,
			Disabled: t.disabled,
		}
		if t.lastErr != nil {
			st.LastErr = t.lastErr.Error()
		}
		t.mu.Unlock()
		out = append(out, st)
	}
	return out
}

type panicError struct{ value interface{} }

func (p *panicError) Error() string { return fmt.Sprintf("task panic: %v", p.value) }
