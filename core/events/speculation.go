package events

const (
	// KindSpeculationTriggered identifies a confidence gate trigger.
	KindSpeculationTriggered Kind = "speculation.triggered"
	// KindSpeculationCancelled identifies a cancelled speculative task.
	KindSpeculationCancelled Kind = "speculation.cancelled"
	// KindSpeculationCompleted identifies a speculative task that finished in budget.
	KindSpeculationCompleted Kind = "speculation.completed"
	// KindSpeculationFailed identifies a speculative task that failed or overran.
	KindSpeculationFailed Kind = "speculation.failed"
	// KindSpeculationShed identifies a trigger suppressed by load shedding.
	KindSpeculationShed Kind = "speculation.shed"
)

// SpeculationTriggered marks the registration of a speculative task for a
// sustained high-confidence intent.
type SpeculationTriggered struct {
	Base
	TaskID string
	Intent string
}

// NewSpeculationTriggered creates a speculation triggered event.
func NewSpeculationTriggered(taskID, intent string) SpeculationTriggered {
	return SpeculationTriggered{Base: NewBase(KindSpeculationTriggered), TaskID: taskID, Intent: intent}
}

// SpeculationCancelled marks the cancellation of a speculative task before it
// finished.
type SpeculationCancelled struct {
	Base
	TaskID string
	Intent string
}

// NewSpeculationCancelled creates a speculation cancelled event.
func NewSpeculationCancelled(taskID, intent string) SpeculationCancelled {
	return SpeculationCancelled{Base: NewBase(KindSpeculationCancelled), TaskID: taskID, Intent: intent}
}

// SpeculationCompleted marks a speculative task finishing inside its budget.
type SpeculationCompleted struct {
	Base
	TaskID string
	Intent string
}

// NewSpeculationCompleted creates a speculation completed event.
func NewSpeculationCompleted(taskID, intent string) SpeculationCompleted {
	return SpeculationCompleted{Base: NewBase(KindSpeculationCompleted), TaskID: taskID, Intent: intent}
}

// SpeculationFailed marks a speculative task failing or overrunning its
// budget. The failure stays internal; reconciliation falls back instead.
type SpeculationFailed struct {
	Base
	TaskID string
	Intent string
	Reason string
}

// NewSpeculationFailed creates a speculation failed event.
func NewSpeculationFailed(taskID, intent, reason string) SpeculationFailed {
	return SpeculationFailed{Base: NewBase(KindSpeculationFailed), TaskID: taskID, Intent: intent, Reason: reason}
}

// SpeculationShed marks a gate trigger suppressed because the process was
// above its load shedding threshold.
type SpeculationShed struct {
	Base
	Intent string
}

// NewSpeculationShed creates a speculation shed event.
func NewSpeculationShed(intent string) SpeculationShed {
	return SpeculationShed{Base: NewBase(KindSpeculationShed), Intent: intent}
}
