package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunsTaskOnInterval(t *testing.T) {
	s := scheduler.New(clock.NewSystem(), 0, nil, discardLogger())
	var runs atomic.Int64
	s.Every("tick", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown(time.Second)

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestDisablesTaskAfterRepeatedFailures(t *testing.T) {
	var disabledTask atomic.Value
	hook := func(task string, lastErr error) { disabledTask.Store(task) }
	s := scheduler.New(clock.NewSystem(), 3, hook, discardLogger())
	s.Every("flaky", 5*time.Millisecond, func(ctx context.Context) error {
		return errors.New("backend unavailable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown(time.Second)

	require.Eventually(t, func() bool { return disabledTask.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "flaky", disabledTask.Load())

	status := s.Status()
	require.Len(t, status, 1)
	assert.True(t, status[0].Disabled)
	assert.Equal(t, 3, status[0].Failures)
	assert.Equal(t, "backend unavailable", status[0].LastErr)
}

func TestPanicIsRecoveredAndRecorded(t *testing.T) {
	s := scheduler.New(clock.NewSystem(), 1, nil, discardLogger())
	s.Every("explosive", 5*time.Millisecond, func(ctx context.Context) error {
		panic("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown(time.Second)

	require.Eventually(t, func() bool {
		st := s.Status()
		return len(st) == 1 && st[0].Disabled
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, s.Status()[0].LastErr, "task panic")
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	var calls atomic.Int64
	s := scheduler.New(clock.NewSystem(), 3, nil, discardLogger())
	s.Every("recovering", 5*time.Millisecond, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("cold start")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Shutdown(time.Second)

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		st := s.Status()
		return len(st) == 1 && st[0].Failures == 0 && st[0].LastErr == ""
	}, time.Second, 5*time.Millisecond)
	assert.False(t, s.Status()[0].Disabled)
}

func TestShutdownStopsTasksAndFlagsDraining(t *testing.T) {
	s := scheduler.New(clock.NewSystem(), 0, nil, discardLogger())
	var runs atomic.Int64
	s.Every("tick", 5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.IsShuttingDown())
	s.Shutdown(time.Second)
	assert.True(t, s.IsShuttingDown())

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())

	// idempotent
	s.Shutdown(time.Second)
}
