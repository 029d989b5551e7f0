package dispatch

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current disposition toward the
// gateway.
type BreakerState int

const (
	// BreakerClosed - calls flow normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen - calls are refused until the reset timeout elapses.
	BreakerOpen
	// BreakerHalfOpen - one probe call is allowed through; its outcome
	// closes or re-opens the circuit.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker shields the orchestrator from a misbehaving gateway: after enough
// consecutive failures it refuses calls outright instead of burning budget
// on a collaborator that is down.
type Breaker struct {
	threshold  int
	resetAfter time.Duration
	now        func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker that opens after threshold consecutive
// failures and probes again resetAfter later.
func NewBreaker(threshold int, resetAfter time.Duration) *Breaker {
	return &Breaker{
		threshold:  threshold,
		resetAfter: resetAfter,
		now:        time.Now,
	}
}

// Allow reports whether a call may proceed right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.resetAfter {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// Success records a successful call and closes the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = BreakerClosed
}

// Failure records a failed call, opening the circuit at the threshold or on
// a failed half-open probe.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
