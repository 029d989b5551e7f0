// Package gate decides when a stream of intent guesses is trustworthy enough
// to launch speculative work, and when a triggered intent has flipped and the
// speculation must be cancelled.
//
// The gate holds only its own sliding window; it never mutates the task
// registry. Callers apply the returned decision, which keeps the gate
// testable as a function of (window state, new guess).
package gate

import (
	"errors"
	"time"

	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/load"
)

// ErrOrderingViolation is returned when a guess arrives with a sequence
// number below one already observed. Equal sequence numbers are in order:
// several guesses can derive from the same partial transcript. The guess is
// dropped; the session keeps running.
var ErrOrderingViolation = errors.New("intent guess out of sequence order")

// windowCapacity bounds the sliding window; guesses arrive every few tens of
// milliseconds so 32 entries comfortably cover any reasonable dwell window.
const windowCapacity = 32

// Config holds the gate thresholds.
type Config struct {
	// Threshold is the minimum probability a guess must exceed to trigger.
	Threshold float64
	// DwellWindow is how long the same intent must stay on top before it is
	// trusted.
	DwellWindow time.Duration
	// Cooldown is the minimum pause after a cancellation before the same
	// intent may trigger again.
	Cooldown time.Duration
	// ShedThreshold is the utilization above which no triggers fire.
	ShedThreshold float64
	// ShedCooldownFactor multiplies the cooldown for cancellations that
	// happen while the host is shedding load.
	ShedCooldownFactor int
}

// DefaultConfig returns the documented gate defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:          0.75,
		DwellWindow:        120 * time.Millisecond,
		Cooldown:           800 * time.Millisecond,
		ShedThreshold:      0.85,
		ShedCooldownFactor: 2,
	}
}

// Action is what the caller should do with the current speculation state.
type Action int

const (
	// ActionNone leaves any existing speculation untouched.
	ActionNone Action = iota
	// ActionTrigger launches a new speculation for Decision.Intent.
	ActionTrigger
	// ActionCancel cancels the speculation previously triggered for
	// Decision.Intent because the top guess moved away from it.
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionTrigger:
		return "trigger"
	case ActionCancel:
		return "cancel"
	default:
		return "none"
	}
}

// Decision is the gate's verdict for a single observed guess.
type Decision struct {
	Action Action
	Intent string
	Slots  intents.Slots
}

type windowEntry struct {
	intent      string
	probability float64
	at          time.Time
}

type cancelRecord struct {
	at        time.Time
	whileShed bool
}

// Gate tracks one session's guess window and trigger state.
type Gate struct {
	config  Config
	monitor load.Monitor

	window [windowCapacity]windowEntry
	head   int
	count  int

	lastSeq   uint64
	seenGuess bool

	triggered   string
	lastCancels map[string]cancelRecord
}

// New creates a gate with the given thresholds. A nil monitor disables load
// shedding.
func New(config Config, monitor load.Monitor) *Gate {
	if monitor == nil {
		monitor = load.None
	}
	return &Gate{
		config:      config,
		monitor:     monitor,
		lastCancels: map[string]cancelRecord{},
	}
}

// Observe feeds one guess into the window and returns the gate's decision.
// now is passed explicitly so dwell and cooldown arithmetic is deterministic
// under test.
func (g *Gate) Observe(now time.Time, guess intents.Guess) (Decision, error) {
	if g.seenGuess && guess.Seq < g.lastSeq {
		return Decision{}, ErrOrderingViolation
	}
	g.lastSeq = guess.Seq
	g.seenGuess = true

	g.push(windowEntry{intent: guess.Intent, probability: guess.Probability, at: now})

	// An intent flip cancels immediately, before dwell or cooldown are even
	// consulted.
	if g.triggered != "" && guess.Intent != g.triggered {
		previous := g.triggered
		g.triggered = ""
		shedding := g.shedding()
		g.lastCancels[previous] = cancelRecord{at: now, whileShed: shedding}
		return Decision{Action: ActionCancel, Intent: previous}, nil
	}

	if g.triggered == guess.Intent && g.triggered != "" {
		return Decision{}, nil
	}

	if g.shedding() {
		return Decision{}, nil
	}

	if guess.Probability <= g.config.Threshold {
		return Decision{}, nil
	}

	if !g.sustained(now, guess.Intent) {
		return Decision{}, nil
	}

	if record, ok := g.lastCancels[guess.Intent]; ok {
		cooldown := g.config.Cooldown
		if record.whileShed && g.config.ShedCooldownFactor > 1 {
			cooldown *= time.Duration(g.config.ShedCooldownFactor)
		}
		if now.Sub(record.at) < cooldown {
			return Decision{}, nil
		}
	}

	g.triggered = guess.Intent
	return Decision{Action: ActionTrigger, Intent: guess.Intent, Slots: guess.Slots.Clone()}, nil
}

// Reset clears the window and trigger state for a new utterance. Cooldown
// records survive so a flip right before finalization still pays its pause.
func (g *Gate) Reset() {
	g.head = 0
	g.count = 0
	g.triggered = ""
}

// Triggered returns the intent the gate last fired for, if any.
func (g *Gate) Triggered() string { return g.triggered }

func (g *Gate) shedding() bool {
	return g.config.ShedThreshold > 0 && g.monitor.Utilization() >= g.config.ShedThreshold
}

// sustained reports whether intent has been the top guess continuously for at
// least the dwell window ending at now.
func (g *Gate) sustained(now time.Time, intent string) bool {
	if g.count == 0 {
		return false
	}

	runStart := time.Time{}
	for i := 0; i < g.count; i++ {
		entry := g.at(g.count - 1 - i)
		if entry.intent != intent {
			break
		}
		runStart = entry.at
	}
	if runStart.IsZero() {
		return false
	}
	return now.Sub(runStart) >= g.config.DwellWindow
}

func (g *Gate) push(entry windowEntry) {
	index := (g.head + g.count) % windowCapacity
	g.window[index] = entry
	if g.count < windowCapacity {
		g.count++
	} else {
		g.head = (g.head + 1) % windowCapacity
	}
}

// at returns the i-th oldest entry in the window.
func (g *Gate) at(i int) windowEntry {
	return g.window[(g.head+i)%windowCapacity]
}
