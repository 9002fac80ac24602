package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafguard/leafguard-go/internal/conf"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newTestQueue(t *testing.T, clock Clock) *Queue {
	t.Helper()
	q := NewQueue(clock)
	q.SetProcessingInterval(time.Millisecond)
	q.Start(testContext(t))
	t.Cleanup(func() { _ = q.Stop(time.Second) })
	return q
}

// waitFor polls until cond holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Fail(t, msg)
}

func TestScheduleFiresAfterClockAdvance(t *testing.T) {
	clock := NewFakeClock(time.Now())
	q := newTestQueue(t, clock)

	var fired atomic.Bool
	_, err := q.Schedule("delayed", time.Hour, func(context.Context) { fired.Store(true) })
	require.NoError(t, err)

	// Wall time passes, clock time does not: nothing fires.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())

	clock.Advance(time.Hour + time.Second)
	waitFor(t, time.Second, fired.Load, "task did not fire after clock advance")
}

func TestCancelPreventsExecution(t *testing.T) {
	clock := NewFakeClock(time.Now())
	q := newTestQueue(t, clock)

	var fired atomic.Bool
	task, err := q.Schedule("doomed", time.Minute, func(context.Context) { fired.Store(true) })
	require.NoError(t, err)

	q.Cancel(task)
	assert.Equal(t, TaskStatusCancelled, task.Status())

	clock.Advance(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.Zero(t, q.PendingCount())
}

func TestEveryReschedules(t *testing.T) {
	clock := NewFakeClock(time.Now())
	q := newTestQueue(t, clock)

	var runs atomic.Int32
	_, err := q.Every("periodic", time.Minute, func(context.Context) { runs.Add(1) })
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 }, "first periodic run missing")

	clock.Advance(time.Minute + time.Second)
	waitFor(t, time.Second, func() bool { return runs.Load() == 2 }, "second periodic run missing")

	assert.Equal(t, 1, q.PendingCount(), "periodic task stays scheduled")
}

func TestWaitReturnsOnClockAdvance(t *testing.T) {
	clock := NewFakeClock(time.Now())
	q := newTestQueue(t, clock)

	done := make(chan error, 1)
	go func() { done <- q.Wait(testContext(t), "backoff", 30*time.Second) }()

	select {
	case <-done:
		t.Fatal("Wait returned before clock advanced")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(31 * time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after clock advance")
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	clock := NewFakeClock(time.Now())
	q := newTestQueue(t, clock)

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan error, 1)
	go func() { done <- q.Wait(ctx, "backoff", time.Hour) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not observe cancellation")
	}
	assert.Zero(t, q.PendingCount(), "cancelled wait must not leak its task")
}

func TestScheduleOnStoppedQueue(t *testing.T) {
	q := NewQueue(nil)
	_, err := q.Schedule("x", time.Second, func(context.Context) {})
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestScheduleNilAction(t *testing.T) {
	clock := NewFakeClock(time.Now())
	q := newTestQueue(t, clock)
	_, err := q.Schedule("x", time.Second, nil)
	assert.ErrorIs(t, err, ErrNilAction)
}

func TestBackoffGrowthAndCap(t *testing.T) {
	cfg := conf.RetrySettings{
		MaxRetries:   8,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
	b := NewBackoff(cfg)

	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing (attempt %d)", attempt)
		assert.LessOrEqual(t, d, cfg.MaxDelay, "delay must never exceed the cap")
		prev = d
	}

	// Deep into the sequence the cap is pinned exactly.
	assert.Equal(t, cfg.MaxDelay, b.Delay(20))
}

func TestPeriodicTaskStatusWithOverlappingRuns(t *testing.T) {
	q := newTestQueue(t, RealClock{})

	// Action outlives the interval, so consecutive firings overlap and both
	// touch the task's status concurrently.
	task, err := q.Every("slow-periodic", 2*time.Millisecond, func(context.Context) {
		time.Sleep(10 * time.Millisecond)
	})
	require.NoError(t, err)

	var runs atomic.Int32
	_, err = q.Every("fast-reader", time.Millisecond, func(context.Context) {
		_ = task.Status()
		runs.Add(1)
	})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return runs.Load() >= 20 }, "overlapping periodic runs did not accumulate")
	assert.Contains(t,
		[]TaskStatus{TaskStatusPending, TaskStatusRunning},
		task.Status())
}

func TestBackoffJitterSpreadsDelays(t *testing.T) {
	cfg := conf.RetrySettings{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
	b := NewBackoff(cfg)

	seen := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		seen[b.Delay(2)] = true
	}
	assert.Greater(t, len(seen), 1, "jitter should vary the delay")

	for d := range seen {
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, time.Duration(float64(4*time.Second)*1.1))
	}
}
