package events

import "time"

// Kind names an event type, namespaced as documented in the package comment
// (user_input.*, speculation.*, reconciliation.*, session.*).
type Kind string

// Event is the contract every orchestration event satisfies. Events are
// immutable once constructed; handlers receive them by value.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the kind and creation time shared by every event. Concrete
// events embed it and add their own payload fields.
type Base struct {
	kind      Kind
	timestamp time.Time
}

// NewBase stamps a new event base with the current time.
func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}
