// Package registry owns the lifecycle of speculative tasks for one session:
// creation, the at-most-one-per-intent invariant, cancellation propagation,
// and TTL eviction of finished work.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/aria-voice/aria-core/core/intents"
)

var (
	// ErrDuplicateIntent means Trigger was called while a non-terminal task
	// already exists for the intent. Reachable only when the confidence
	// gate's cancel decision was not applied first, so it is a
	// programming-error class fault.
	ErrDuplicateIntent = errors.New("non-terminal speculative task already exists for intent")
	// ErrNotFound means the task id is unknown (or already evicted).
	ErrNotFound = errors.New("speculative task not found")
	// ErrTooManySpeculations means the per-session concurrency ceiling was
	// reached; the trigger is declined, not queued.
	ErrTooManySpeculations = errors.New("too many concurrent speculative tasks")
	// ErrNotRunnable means Start was called on a task that is no longer
	// pending, typically because it was cancelled before dispatch began.
	ErrNotRunnable = errors.New("speculative task is not runnable")
)

// Registry tracks the speculative tasks of a single session. All operations
// on it are linearizable: one mutex guards the session's task table, and
// registries are per-session so there is no cross-session contention.
type Registry struct {
	sessionID string
	ttl       time.Duration
	maxActive int
	now       func() time.Time

	mu     sync.Mutex
	tasks  map[string]*Task
	active map[string]string // intent -> non-terminal task id
}

// Option configures a registry.
type Option func(*Registry)

// WithEvictionTTL overrides how long terminal tasks are retained.
func WithEvictionTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithMaxActive overrides the per-session concurrent speculation ceiling.
func WithMaxActive(limit int) Option {
	return func(r *Registry) { r.maxActive = limit }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry for the session.
func New(sessionID string, opts ...Option) *Registry {
	r := &Registry{
		sessionID: sessionID,
		ttl:       10 * time.Minute,
		maxActive: 10,
		now:       time.Now,
		tasks:     map[string]*Task{},
		active:    map[string]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trigger creates a pending task for the intent. The task's cancellation
// context derives from ctx, so closing the session cancels every task.
func (r *Registry) Trigger(ctx context.Context, intent string, slots intents.Slots, budget time.Duration) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	if _, exists := r.active[intent]; exists {
		return Snapshot{}, ErrDuplicateIntent
	}
	if len(r.active) >= r.maxActive {
		return Snapshot{}, ErrTooManySpeculations
	}

	taskCtx, cancel := context.WithCancelCause(ctx)
	now := r.now()
	task := &Task{
		ID:        uuid.NewString(),
		SessionID: r.sessionID,
		Intent:    intent,
		Slots:     slots.Clone(),
		State:     StatePending,
		StartedAt: now,
		Deadline:  now.Add(budget),

		ctx:    taskCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.tasks[task.ID] = task
	r.active[intent] = task.ID

	return snapshotOf(task), nil
}

// Start transitions a pending task to running and hands the dispatcher the
// task's cancellation context and deadline.
func (r *Registry) Start(id string) (context.Context, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	if task.State != StatePending {
		return nil, time.Time{}, ErrNotRunnable
	}
	task.State = StateRunning
	return task.ctx, task.Deadline, nil
}

// Cancel transitions a pending or running task to canceled and aborts its
// context. Cancelling an already-terminal task is a no-op, not an error.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	r.cancelLocked(task)
	return nil
}

func (r *Registry) cancelLocked(task *Task) {
	if task.State.IsTerminal() {
		return
	}
	task.State = StateCanceled
	task.EndedAt = r.now()
	task.cancel(context.Canceled)
	close(task.done)
	delete(r.active, task.Intent)
}

// Complete transitions a running task to completed and stores the result. A
// completion arriving after cancellation is logged and dropped: a late
// result from a cancelled task must never be surfaced.
func (r *Registry) Complete(id string, result any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if task.State.IsTerminal() {
		logger.Warn("dropping late completion for terminal speculative task",
			"task_id", id, "intent", task.Intent, "state", task.State.String())
		return nil
	}
	task.State = StateCompleted
	task.Result = result
	task.EndedAt = r.now()
	close(task.done)
	delete(r.active, task.Intent)
	return nil
}

// Fail transitions a pending or running task to failed with the given cause.
// Like Complete, it is silently dropped when the task was already cancelled.
func (r *Registry) Fail(id string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if task.State.IsTerminal() {
		return nil
	}
	task.State = StateFailed
	task.Err = cause
	task.EndedAt = r.now()
	task.cancel(cause)
	close(task.done)
	delete(r.active, task.Intent)
	return nil
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snapshotOf(task), nil
}

// Lookup returns the freshest task for the intent: the non-terminal one if
// present, otherwise the most recently finished one.
func (r *Registry) Lookup(intent string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[intent]; ok {
		return snapshotOf(r.tasks[id]), true
	}

	var newest *Task
	for _, task := range r.tasks {
		if task.Intent != intent {
			continue
		}
		if newest == nil || task.EndedAt.After(newest.EndedAt) {
			newest = task
		}
	}
	if newest == nil {
		return Snapshot{}, false
	}
	return snapshotOf(newest), true
}

// Await blocks until the task reaches a terminal state, the wait elapses, or
// ctx is done, and returns the task snapshot as of that moment.
func (r *Registry) Await(ctx context.Context, id string, wait time.Duration) (Snapshot, error) {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return Snapshot{}, ErrNotFound
	}
	done := task.done
	r.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}
	return r.Get(id)
}

// CancelAll cancels every non-terminal task except the listed ids. Used on
// reconciliation hits (other speculations are moot) and on session close.
func (r *Registry) CancelAll(except ...string) {
	keep := map[string]struct{}{}
	for _, id := range except {
		keep[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.active {
		if _, ok := keep[id]; ok {
			continue
		}
		r.cancelLocked(r.tasks[id])
	}
}

// ActiveCount returns the number of non-terminal tasks.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Active returns snapshots of all non-terminal tasks.
func (r *Registry) Active() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(r.active))
	for _, id := range r.active {
		snapshots = append(snapshots, snapshotOf(r.tasks[id]))
	}
	return snapshots
}

// Evict removes terminal tasks whose retention TTL has elapsed and returns
// how many were removed. Trigger also sweeps lazily, so callers only need
// Evict for explicit maintenance passes.
func (r *Registry) Evict() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

func (r *Registry) sweepLocked() int {
	cutoff := r.now().Add(-r.ttl)
	evicted := 0
	for id, task := range r.tasks {
		if task.State.IsTerminal() && task.EndedAt.Before(cutoff) {
			delete(r.tasks, id)
			evicted++
		}
	}
	return evicted
}

func snapshotOf(task *Task) Snapshot {
	snapshot := Snapshot{}
	// copier matches the exported data fields; the task's context plumbing
	// stays private to the registry.
	copier.Copy(&snapshot, task)
	snapshot.Slots = task.Slots.Clone()
	return snapshot
}
