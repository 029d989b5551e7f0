package events

const (
	// KindReconciliationHit identifies a speculative result reused verbatim.
	KindReconciliationHit Kind = "reconciliation.hit"
	// KindReconciliationMiss identifies a fallback fresh computation.
	KindReconciliationMiss Kind = "reconciliation.miss"
)

// ReconciliationHit marks the finalized utterance matching a speculative
// result exactly.
type ReconciliationHit struct {
	Base
	TaskID string
	Intent string
}

// NewReconciliationHit creates a reconciliation hit event.
func NewReconciliationHit(taskID, intent string) ReconciliationHit {
	return ReconciliationHit{Base: NewBase(KindReconciliationHit), TaskID: taskID, Intent: intent}
}

// ReconciliationMiss marks reconciliation taking the fallback path because no
// usable speculation existed.
type ReconciliationMiss struct {
	Base
	Intent string
}

// NewReconciliationMiss creates a reconciliation miss event.
func NewReconciliationMiss(intent string) ReconciliationMiss {
	return ReconciliationMiss{Base: NewBase(KindReconciliationMiss), Intent: intent}
}
