package gate

import (
	"errors"
	"testing"
	"time"

	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/load"
)

func observeAll(t *testing.T, g *Gate, start time.Time, step time.Duration, guesses []intents.Guess) []Decision {
	t.Helper()

	decisions := []Decision{}
	for i, guess := range guesses {
		decision, err := g.Observe(start.Add(time.Duration(i)*step), guess)
		if err != nil {
			t.Fatalf("expected guess %d to be accepted, got %v", i, err)
		}
		decisions = append(decisions, decision)
	}
	return decisions
}

func TestSustainedIntentTriggersExactlyOnce(t *testing.T) {
	g := New(DefaultConfig(), nil)
	start := time.Now()

	guesses := []intents.Guess{}
	for seq := uint64(1); seq <= 6; seq++ {
		guesses = append(guesses, intents.Guess{
			Intent:      "weather",
			Probability: 0.83,
			Slots:       intents.Slots{"city": "Dhulikhel"},
			Seq:         seq,
		})
	}

	// 6 guesses 30ms apart: the run spans 150ms, past the 120ms dwell.
	decisions := observeAll(t, g, start, 30*time.Millisecond, guesses)

	triggers := 0
	for _, decision := range decisions {
		if decision.Action == ActionTrigger {
			triggers++
			if decision.Intent != "weather" {
				t.Fatalf("expected trigger for weather, got %q", decision.Intent)
			}
			if decision.Slots["city"] != "Dhulikhel" {
				t.Fatalf("expected slot snapshot to carry city, got %v", decision.Slots)
			}
		}
	}
	if triggers != 1 {
		t.Fatalf("expected exactly one trigger for a sustained intent, got %d", triggers)
	}
}

func TestLowProbabilityNeverTriggers(t *testing.T) {
	g := New(DefaultConfig(), nil)
	start := time.Now()

	guesses := []intents.Guess{}
	for seq := uint64(1); seq <= 10; seq++ {
		guesses = append(guesses, intents.Guess{Intent: "weather", Probability: 0.5, Seq: seq})
	}

	for _, decision := range observeAll(t, g, start, 30*time.Millisecond, guesses) {
		if decision.Action != ActionNone {
			t.Fatalf("expected no decision below threshold, got %v", decision.Action)
		}
	}
}

func TestIntentFlipCancelsBeforeAnyNewTrigger(t *testing.T) {
	g := New(DefaultConfig(), nil)
	start := time.Now()

	seq := uint64(0)
	next := func(intent string, p float64) intents.Guess {
		seq++
		return intents.Guess{Intent: intent, Probability: p, Seq: seq}
	}

	now := start
	sawTrigger := false
	for i := 0; i < 6; i++ {
		decision, err := g.Observe(now, next("weather", 0.80))
		if err != nil {
			t.Fatalf("expected guess to be accepted, got %v", err)
		}
		if decision.Action == ActionTrigger {
			sawTrigger = true
		}
		now = now.Add(30 * time.Millisecond)
	}
	if !sawTrigger {
		t.Fatalf("expected weather to trigger after sustained dwell")
	}

	decision, err := g.Observe(now, next("reminder", 0.90))
	if err != nil {
		t.Fatalf("expected flip guess to be accepted, got %v", err)
	}
	if decision.Action != ActionCancel || decision.Intent != "weather" {
		t.Fatalf("expected immediate cancel of weather on flip, got %v for %q", decision.Action, decision.Intent)
	}
	if g.Triggered() != "" {
		t.Fatalf("expected no triggered intent after cancel, got %q", g.Triggered())
	}
}

func TestFlipBeforeDwellNeverTriggersFirstIntent(t *testing.T) {
	g := New(DefaultConfig(), nil)
	start := time.Now()

	// Two weather guesses 30ms apart: well inside the 120ms dwell window.
	decisions := observeAll(t, g, start, 30*time.Millisecond, []intents.Guess{
		{Intent: "weather", Probability: 0.80, Seq: 1},
		{Intent: "weather", Probability: 0.80, Seq: 2},
	})
	for _, decision := range decisions {
		if decision.Action != ActionNone {
			t.Fatalf("expected no decision before dwell elapses, got %v", decision.Action)
		}
	}

	// The flip arrives before dwell: weather must never have triggered, and
	// reminder triggers once its own dwell is satisfied.
	now := start.Add(60 * time.Millisecond)
	seq := uint64(3)
	triggered := ""
	for i := 0; i < 6; i++ {
		decision, err := g.Observe(now, intents.Guess{Intent: "reminder", Probability: 0.90, Seq: seq})
		if err != nil {
			t.Fatalf("expected guess to be accepted, got %v", err)
		}
		if decision.Action == ActionCancel {
			t.Fatalf("expected no cancel for an intent that never triggered")
		}
		if decision.Action == ActionTrigger {
			triggered = decision.Intent
		}
		seq++
		now = now.Add(30 * time.Millisecond)
	}
	if triggered != "reminder" {
		t.Fatalf("expected reminder to trigger, got %q", triggered)
	}
}

func TestCooldownHoldsAfterCancellation(t *testing.T) {
	g := New(DefaultConfig(), nil)
	start := time.Now()

	seq := uint64(0)
	observe := func(now time.Time, intent string, p float64) Decision {
		t.Helper()
		seq++
		decision, err := g.Observe(now, intents.Guess{Intent: intent, Probability: p, Seq: seq})
		if err != nil {
			t.Fatalf("expected guess to be accepted, got %v", err)
		}
		return decision
	}

	now := start
	for i := 0; i < 6; i++ {
		observe(now, "weather", 0.80)
		now = now.Add(30 * time.Millisecond)
	}
	if decision := observe(now, "reminder", 0.90); decision.Action != ActionCancel {
		t.Fatalf("expected cancel on flip, got %v", decision.Action)
	}

	// Weather comes back sustained, but within the 800ms cooldown.
	for i := 0; i < 6; i++ {
		now = now.Add(30 * time.Millisecond)
		if decision := observe(now, "weather", 0.85); decision.Action == ActionTrigger {
			t.Fatalf("expected cooldown to suppress re-trigger at %v after cancel", now.Sub(start))
		}
	}

	// After the cooldown it may fire again once dwell is re-satisfied.
	now = now.Add(900 * time.Millisecond)
	sawTrigger := false
	for i := 0; i < 6; i++ {
		if decision := observe(now, "weather", 0.85); decision.Action == ActionTrigger {
			sawTrigger = true
		}
		now = now.Add(30 * time.Millisecond)
	}
	if !sawTrigger {
		t.Fatalf("expected weather to re-trigger after cooldown elapsed")
	}
}

func TestOutOfOrderGuessIsRejected(t *testing.T) {
	g := New(DefaultConfig(), nil)
	now := time.Now()

	if _, err := g.Observe(now, intents.Guess{Intent: "weather", Probability: 0.9, Seq: 5}); err != nil {
		t.Fatalf("expected first guess to be accepted, got %v", err)
	}
	_, err := g.Observe(now.Add(30*time.Millisecond), intents.Guess{Intent: "weather", Probability: 0.9, Seq: 4})
	if !errors.Is(err, ErrOrderingViolation) {
		t.Fatalf("expected ErrOrderingViolation for stale sequence number, got %v", err)
	}

	// The session keeps going: the next in-order guess is accepted.
	if _, err := g.Observe(now.Add(60*time.Millisecond), intents.Guess{Intent: "weather", Probability: 0.9, Seq: 6}); err != nil {
		t.Fatalf("expected in-order guess after violation to be accepted, got %v", err)
	}
}

func TestEqualSequenceNumberIsInOrder(t *testing.T) {
	g := New(DefaultConfig(), nil)
	now := time.Now()

	// Two guesses classified from the same partial transcript share its
	// sequence number; non-decreasing order accepts both.
	if _, err := g.Observe(now, intents.Guess{Intent: "weather", Probability: 0.9, Seq: 3}); err != nil {
		t.Fatalf("expected first guess to be accepted, got %v", err)
	}
	if _, err := g.Observe(now.Add(10*time.Millisecond), intents.Guess{Intent: "weather", Probability: 0.92, Seq: 3}); err != nil {
		t.Fatalf("expected guess with an equal sequence number to be accepted, got %v", err)
	}
}

func TestSheddingSuppressesTriggersUntilLoadDrops(t *testing.T) {
	utilization := 0.95
	monitor := load.MonitorFunc(func() float64 { return utilization })
	g := New(DefaultConfig(), monitor)
	start := time.Now()

	seq := uint64(0)
	now := start
	for i := 0; i < 10; i++ {
		seq++
		decision, err := g.Observe(now, intents.Guess{Intent: "weather", Probability: 0.95, Seq: seq})
		if err != nil {
			t.Fatalf("expected guess to be accepted, got %v", err)
		}
		if decision.Action == ActionTrigger {
			t.Fatalf("expected no triggers while utilization is %.2f", utilization)
		}
		now = now.Add(30 * time.Millisecond)
	}

	utilization = 0.40
	sawTrigger := false
	for i := 0; i < 6; i++ {
		seq++
		decision, err := g.Observe(now, intents.Guess{Intent: "weather", Probability: 0.95, Seq: seq})
		if err != nil {
			t.Fatalf("expected guess to be accepted, got %v", err)
		}
		if decision.Action == ActionTrigger {
			sawTrigger = true
		}
		now = now.Add(30 * time.Millisecond)
	}
	if !sawTrigger {
		t.Fatalf("expected triggers to resume once utilization dropped below threshold")
	}
}

func TestCancelDuringSheddingExtendsCooldown(t *testing.T) {
	utilization := 0.0
	monitor := load.MonitorFunc(func() float64 { return utilization })
	g := New(DefaultConfig(), monitor)
	start := time.Now()

	seq := uint64(0)
	observe := func(now time.Time, intent string, p float64) Decision {
		t.Helper()
		seq++
		decision, err := g.Observe(now, intents.Guess{Intent: intent, Probability: p, Seq: seq})
		if err != nil {
			t.Fatalf("expected guess to be accepted, got %v", err)
		}
		return decision
	}

	now := start
	for i := 0; i < 6; i++ {
		observe(now, "weather", 0.85)
		now = now.Add(30 * time.Millisecond)
	}

	// The flip lands while the host is overloaded, so the cancellation
	// records an extended cooldown.
	utilization = 0.95
	if decision := observe(now, "reminder", 0.90); decision.Action != ActionCancel {
		t.Fatalf("expected cancel on flip, got %v", decision.Action)
	}
	utilization = 0.0

	// 1s past the cancel: past the plain 800ms cooldown but inside the
	// doubled one.
	now = now.Add(time.Second)
	for i := 0; i < 6; i++ {
		if decision := observe(now, "weather", 0.85); decision.Action == ActionTrigger {
			t.Fatalf("expected extended cooldown to still suppress the trigger")
		}
		now = now.Add(30 * time.Millisecond)
	}

	// Past the doubled cooldown the trigger goes through.
	now = now.Add(time.Second)
	sawTrigger := false
	for i := 0; i < 6; i++ {
		if decision := observe(now, "weather", 0.85); decision.Action == ActionTrigger {
			sawTrigger = true
		}
		now = now.Add(30 * time.Millisecond)
	}
	if !sawTrigger {
		t.Fatalf("expected trigger after the extended cooldown elapsed")
	}
}
