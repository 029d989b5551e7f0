package registry

import (
	"context"
	"time"

	"github.com/aria-voice/aria-core/core/intents"
)

// State is the lifecycle state of a speculative task.
type State int

const (
	// StatePending - task created, dispatch not yet running.
	StatePending State = iota
	// StateRunning - dispatcher is executing the task.
	StateRunning
	// StateCompleted - task finished and holds a usable result.
	StateCompleted
	// StateCanceled - task was cancelled before completing.
	StateCanceled
	// StateFailed - task finished with a terminal failure.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCanceled || s == StateFailed
}

// Task is the registry's record of one speculative operation. Exported
// fields are data; lifecycle transitions go through the owning registry so
// per-session operations stay linearizable.
type Task struct {
	ID        string
	SessionID string
	Intent    string
	Slots     intents.Slots
	State     State
	Result    any
	Err       error
	StartedAt time.Time
	Deadline  time.Time
	EndedAt   time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Snapshot is a point-in-time copy of a task handed to callers.
type Snapshot struct {
	ID        string
	SessionID string
	Intent    string
	Slots     intents.Slots
	State     State
	Result    any
	Err       error
	StartedAt time.Time
	Deadline  time.Time
	EndedAt   time.Time
}
