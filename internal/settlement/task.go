package settlement

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of a settlement task
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// EventType classifies the messages a running task emits
type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is one message from a settlement task. TaskID lets consumers drop
// stale messages from a task that has since been replaced.
type Event struct {
	TaskID  string    `json:"task_id"`
	Type    EventType `json:"type"`
	Percent float64   `json:"percent"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Task is one submitted settlement aggregation. It resolves exactly once,
// into completed, failed or cancelled; Wait blocks until then.
type Task struct {
	id        string
	cancelled atomic.Bool
	done      chan struct{}

	mu     sync.Mutex
	state  TaskState
	result *Result
	err    error
}

// ID returns the task's unique identifier
func (t *Task) ID() string {
	return t.id
}

// State returns the task's current lifecycle state
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Cancel requests cooperative cancellation. The task keeps running until
// the aggregator reaches its next checkpoint; resolution arrives through
// Wait and the event stream. Cancelling a resolved task is a no-op.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

// Wait blocks until the task resolves or the context is done. A cancelled
// task resolves with a task-cancelled error, not a silent nil result.
func (t *Task) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolved reports whether the task has reached a terminal state
func (t *Task) resolved() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Task) setState(state TaskState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// resolve records the task's final outcome and releases waiters
func (t *Task) resolve(state TaskState, result *Result, err error) {
	t.mu.Lock()
	t.state = state
	t.result = result
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// Runner owns at most one in-flight settlement task at a time. Submitting
// while a task is running cancels the running task and replaces it; events
// from the replaced task are discarded once its identifier is no longer
// the active one.
type Runner struct {
	aggregator *Aggregator
	logger     logger.Logger

	mu     sync.Mutex
	active *Task

	events chan Event
}

// NewRunner creates a task runner around the given aggregator
func NewRunner(aggregator *Aggregator) *Runner {
	return &Runner{
		aggregator: aggregator,
		logger:     logger.GetGlobalLogger().WithComponent("settlement_runner"),
		events:     make(chan Event, 64),
	}
}

// Events returns the runner's event stream. Events are dropped rather than
// blocking the worker when the consumer falls behind; the authoritative
// outcome is always available through Task.Wait.
func (r *Runner) Events() <-chan Event {
	return r.events
}

// Active returns the most recently submitted task, or nil
func (r *Runner) Active() *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Submit starts a settlement aggregation over the given rows and returns
// its task. The rows are deep-copied before the worker starts, so the
// caller may keep mutating its slice. A previously running task is
// cancelled and replaced.
func (r *Runner) Submit(rows []models.RawRow) *Task {
	task := &Task{
		id:    uuid.New().String(),
		state: TaskStatePending,
		done:  make(chan struct{}),
	}

	snapshot := models.CloneRows(rows)

	r.mu.Lock()
	if r.active != nil && !r.active.resolved() {
		r.logger.WithFields(logger.Fields{
			"replaced_task": r.active.id,
			"new_task":      task.id,
		}).Info("Cancelling running task in favor of new submission")
		r.active.Cancel()
	}
	r.active = task
	r.mu.Unlock()

	go r.run(task, snapshot)

	return task
}

// Cancel cancels the active task, if any
func (r *Runner) Cancel() {
	r.mu.Lock()
	task := r.active
	r.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
}

// run executes one task to resolution on its own goroutine
func (r *Runner) run(task *Task, rows []models.RawRow) {
	task.setState(TaskStateRunning)

	r.logger.WithFields(logger.Fields{
		"task_id": task.id,
		"rows":    len(rows),
	}).Info("Settlement task started")

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "settlement_aggregation",
		Total:     int64(len(rows)),
		Logger:    r.logger,
	})

	checkpoint := func(processed, total int) error {
		if task.cancelled.Load() {
			return errors.TaskCancelledError(task.id)
		}

		tracker.Update(int64(processed))

		percent := 100.0
		if total > 0 {
			percent = float64(processed) / float64(total) * 100
		}
		r.emit(task, Event{
			TaskID:  task.id,
			Type:    EventProgress,
			Percent: percent,
			Message: fmt.Sprintf("processed %d/%d rows", processed, total),
		})
		return nil
	}

	result, err := r.aggregator.aggregate(rows, checkpoint)

	switch {
	case err != nil && errors.IsTaskCancelled(err):
		tracker.CompleteWithError(err)
		task.resolve(TaskStateCancelled, nil, err)
		r.emit(task, Event{
			TaskID:  task.id,
			Type:    EventCancelled,
			Message: "settlement task cancelled",
			Err:     err,
		})
		r.logger.WithField("task_id", task.id).Info("Settlement task cancelled")

	case err != nil:
		tracker.CompleteWithError(err)
		task.resolve(TaskStateFailed, nil, err)
		r.emit(task, Event{
			TaskID:  task.id,
			Type:    EventFailed,
			Message: err.Error(),
			Err:     err,
		})
		r.logger.WithFields(logger.Fields{
			"task_id": task.id,
			"error":   err.Error(),
		}).Error("Settlement task failed")

	default:
		tracker.Complete()
		task.resolve(TaskStateCompleted, result, nil)
		r.emit(task, Event{
			TaskID:  task.id,
			Type:    EventCompleted,
			Percent: 100,
			Message: result.Stats.String(),
		})
		r.logger.WithFields(logger.Fields{
			"task_id":    task.id,
			"aggregates": len(result.Aggregates),
		}).Info("Settlement task completed")
	}
}

// emit publishes an event unless the task has been replaced. Terminal
// events always pass; progress from a superseded task is stale and dropped.
func (r *Runner) emit(task *Task, event Event) {
	if event.Type == EventProgress {
		r.mu.Lock()
		stale := r.active == nil || r.active.id != task.id
		r.mu.Unlock()
		if stale {
			r.logger.WithField("task_id", task.id).Debug("Discarding progress event from replaced task")
			return
		}
	}

	select {
	case r.events <- event:
	default:
		r.logger.WithFields(logger.Fields{
			"task_id": task.id,
			"type":    event.Type,
		}).Debug("Event channel full; dropping event")
	}
}
