package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsAndCancels(t *testing.T) {
	s := NewScheduler(nil)
	var runs int32

	s.Schedule("a1", 10*time.Millisecond, true, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, 5*time.Millisecond)

	assert.True(t, s.Has("a1"))
	assert.True(t, s.Cancel("a1"))
	assert.False(t, s.Has("a1"))

	after := atomic.LoadInt32(&runs)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs), "no ticks after cancel")

	assert.False(t, s.Cancel("a1"))
}

func TestSchedulerRescheduleReplacesTask(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var first, second int32
	s.Schedule("a1", 5*time.Millisecond, false, func(ctx context.Context) error { atomic.AddInt32(&first, 1); return nil })
	time.Sleep(20 * time.Millisecond)

	s.Schedule("a1", 5*time.Millisecond, false, func(ctx context.Context) error { atomic.AddInt32(&second, 1); return nil })
	firstAfter := atomic.LoadInt32(&first)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&second) >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, firstAfter, atomic.LoadInt32(&first), "old task must be stopped")
	assert.Equal(t, 1, s.Len())
}

func TestSchedulerCancelWaitsForInFlightTick(t *testing.T) {
	s := NewScheduler(nil)

	started := make(chan struct{})
	var finished int32
	s.Schedule("slow", time.Hour, true, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return nil
	})
	<-started

	s.Cancel("slow")
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestSchedulerSurvivesPanic(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var runs int32
	s.Schedule("p", 5*time.Millisecond, true, func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("boom")
		}
		return nil
	})
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, 5*time.Millisecond)

	info, ok := s.Info("p")
	require.True(t, ok)
	assert.GreaterOrEqual(t, info.Runs, int64(2))
}

func TestSchedulerStopAll(t *testing.T) {
	s := NewScheduler(nil)
	for _, k := range []string{"a", "b", "c"} {
		s.Schedule(k, time.Hour, false, func(ctx context.Context) error { return nil })
	}
	assert.Equal(t, 3, s.Len())
	s.Stop()
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerTaskStopsItself(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	var runs int32
	s.Schedule("gone", 5*time.Millisecond, true, func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 3 {
			return ErrStopTask
		}
		return nil
	})
	require.Eventually(t, func() bool { return !s.Has("gone") }, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&runs))
	assert.False(t, s.Cancel("gone"))
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerSelfStopKeepsReplacement(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()

	release := make(chan struct{})
	entered := make(chan struct{})
	s.Schedule("k", time.Hour, true, func(ctx context.Context) error {
		close(entered)
		<-release
		return ErrStopTask
	})
	<-entered

	// Schedule ждет завершения старого тика, поэтому отпускаем его параллельно
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	var runs int32
	s.Schedule("k", 5*time.Millisecond, false, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Has("k"))
}
