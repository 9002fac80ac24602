// Package scheduler provides a delayed-task queue so backoff waits,
// periodic maintenance and their cancellation are explicit and
// deterministic under test instead of being tied to ad hoc timers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leafguard/leafguard-go/internal/logging"
)

// Common errors returned by queue operations.
var (
	ErrNilAction    = fmt.Errorf("cannot schedule nil action")
	ErrQueueStopped = fmt.Errorf("task queue has been stopped")
)

// TaskStatus represents the current status of a scheduled task.
type TaskStatus int

const (
	// TaskStatusPending indicates the task is waiting for its run time.
	TaskStatusPending TaskStatus = iota
	// TaskStatusRunning indicates the task is currently executing.
	TaskStatusRunning
	// TaskStatusCompleted indicates the task has completed.
	TaskStatusCompleted
	// TaskStatusCancelled indicates the task was cancelled before running.
	TaskStatusCancelled
)

// Task is one unit of delayed work.
type Task struct {
	ID       string
	Name     string
	RunAt    time.Time
	Interval time.Duration // non-zero for periodic tasks
	status   atomic.Int32
	action   func(ctx context.Context)
}

// Status reports the task's current lifecycle state. For a periodic task
// whose action outlives its interval the next firing may already have
// flipped it back to running.
func (t *Task) Status() TaskStatus {
	return TaskStatus(t.status.Load())
}

func (t *Task) setStatus(s TaskStatus) {
	t.status.Store(int32(s))
}

// Queue manages delayed and periodic tasks against an injectable clock.
type Queue struct {
	mu                 sync.Mutex
	tasks              []*Task
	taskCounter        int
	clock              Clock
	isRunning          bool
	stopCh             chan struct{}
	runningTasks       sync.WaitGroup
	processCancel      context.CancelFunc
	processingInterval time.Duration
	logger             *slog.Logger
}

// NewQueue creates a queue reading time from the given clock. A nil clock
// means the system clock.
func NewQueue(clock Clock) *Queue {
	if clock == nil {
		clock = RealClock{}
	}
	return &Queue{
		clock:              clock,
		processingInterval: 100 * time.Millisecond,
		logger:             logging.ForService("scheduler"),
	}
}

// SetProcessingInterval adjusts how often the queue scans for due tasks.
// Tests lower it to keep fake-clock fast-forwarding responsive.
func (q *Queue) SetProcessingInterval(interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processingInterval = interval
}

// Start begins task processing. Starting a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	q.stopCh = make(chan struct{})

	processCtx, cancel := context.WithCancel(ctx)
	q.processCancel = cancel
	q.mu.Unlock()

	go q.process(processCtx)
}

// Stop halts processing and waits for running tasks up to the timeout.
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	if q.processCancel != nil {
		q.processCancel()
		q.processCancel = nil
	}
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.runningTasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for tasks to complete after %v", timeout)
	}
}

// Schedule runs action once after delay (in clock time).
func (q *Queue) Schedule(name string, delay time.Duration, action func(ctx context.Context)) (*Task, error) {
	return q.add(name, delay, 0, action)
}

// Every runs action periodically with the given interval, first firing one
// interval from now.
func (q *Queue) Every(name string, interval time.Duration, action func(ctx context.Context)) (*Task, error) {
	return q.add(name, interval, interval, action)
}

func (q *Queue) add(name string, delay, interval time.Duration, action func(ctx context.Context)) (*Task, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.isRunning {
		return nil, ErrQueueStopped
	}

	q.taskCounter++
	task := &Task{
		ID:       fmt.Sprintf("task-%d", q.taskCounter),
		Name:     name,
		RunAt:    q.clock.Now().Add(delay),
		Interval: interval,
		action:   action,
	}
	task.setStatus(TaskStatusPending)
	q.tasks = append(q.tasks, task)
	return task, nil
}

// Cancel removes a pending task. Cancelling a completed, running or unknown
// task is a no-op.
func (q *Queue) Cancel(task *Task) {
	if task == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i] == task {
			task.setStatus(TaskStatusCancelled)
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// Wait blocks until delay has elapsed in clock time or ctx is cancelled.
// It is the primitive behind backoff waits: with a FakeClock a test advances
// time instead of sleeping.
func (q *Queue) Wait(ctx context.Context, name string, delay time.Duration) error {
	done := make(chan struct{})
	task, err := q.Schedule(name, delay, func(context.Context) { close(done) })
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.Cancel(task)
		return ctx.Err()
	}
}

// PendingCount returns the number of tasks waiting to run.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// process is the main scan loop: every processingInterval it runs the tasks
// whose RunAt has passed according to the clock.
func (q *Queue) process(ctx context.Context) {
	q.mu.Lock()
	interval := q.processingInterval
	stopCh := q.stopCh
	q.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.runDue(ctx)
		}
	}
}

func (q *Queue) runDue(ctx context.Context) {
	now := q.clock.Now()

	q.mu.Lock()
	var due []*Task
	remaining := q.tasks[:0]
	for _, task := range q.tasks {
		if !task.RunAt.After(now) {
			due = append(due, task)
			if task.Interval > 0 {
				// Periodic tasks are rescheduled, not removed, so their
				// handle stays valid for Cancel.
				task.RunAt = now.Add(task.Interval)
				remaining = append(remaining, task)
			}
		} else {
			remaining = append(remaining, task)
		}
	}
	q.tasks = remaining
	q.mu.Unlock()

	for _, task := range due {
		task.setStatus(TaskStatusRunning)
		q.runningTasks.Add(1)
		go func(t *Task) {
			defer q.runningTasks.Done()
			defer func() {
				if r := recover(); r != nil {
					q.logger.Error("scheduled task panicked", "task", t.Name, "panic", r)
				}
			}()
			t.action(ctx)
			if t.Interval == 0 {
				t.setStatus(TaskStatusCompleted)
			} else {
				t.setStatus(TaskStatusPending)
			}
		}(task)
	}
}
