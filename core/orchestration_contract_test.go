package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aria-voice/aria-core/core/cache"
	"github.com/aria-voice/aria-core/core/events"
	"github.com/aria-voice/aria-core/core/gate"
	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/load"
	"github.com/aria-voice/aria-core/core/metrics"
	"github.com/aria-voice/aria-core/core/reconcile"
	"github.com/aria-voice/aria-core/core/transcripts"
)

type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{at: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.at = c.at.Add(d)
	c.mu.Unlock()
}

type eventRecorder struct {
	mu       sync.Mutex
	recorded []events.Event
}

func (r *eventRecorder) record(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, event)
}

func (r *eventRecorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, event := range r.recorded {
		if event.Kind() == kind {
			count++
		}
	}
	return count
}

func (r *eventRecorder) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var transitions []string
	for _, event := range r.recorded {
		if changed, ok := event.(events.SessionStateChanged); ok {
			transitions = append(transitions, changed.To)
		}
	}
	return transitions
}

func await(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

type countingGateway struct {
	fetch func(ctx context.Context, intent string, slots intents.Slots) (any, error)
	calls atomic.Int64
}

func (g *countingGateway) Fetch(ctx context.Context, intent string, slots intents.Slots) (any, error) {
	g.calls.Add(1)
	if g.fetch != nil {
		return g.fetch(ctx, intent, slots)
	}
	return "sunny, 24C", nil
}

type blockingSynthesizer struct {
	started chan struct{}
	err     error
}

func (s *blockingSynthesizer) Speak(ctx context.Context, language string, result *reconcile.Result) error {
	close(s.started)
	<-ctx.Done()
	s.err = ctx.Err()
	return ctx.Err()
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func weatherGuess(seq uint64, probability float64) intents.Guess {
	return intents.Guess{
		Intent:      "weather_query",
		Probability: probability,
		Slots:       intents.Slots{"city": "Dhulikhel"},
		Seq:         seq,
	}
}

func weatherFinal(seq uint64) transcripts.PartialTranscript {
	return transcripts.New(seq, true,
		transcripts.Token{Word: "what's", Start: 0, End: 200 * time.Millisecond, Confidence: 0.95},
		transcripts.Token{Word: "the", Start: 200 * time.Millisecond, End: 300 * time.Millisecond, Confidence: 0.97},
		transcripts.Token{Word: "weather", Start: 300 * time.Millisecond, End: 600 * time.Millisecond, Confidence: 0.94},
		transcripts.Token{Word: "in", Start: 600 * time.Millisecond, End: 700 * time.Millisecond, Confidence: 0.96},
		transcripts.Token{Word: "Dhulikhel", Start: 700 * time.Millisecond, End: 1200 * time.Millisecond, Confidence: 0.89},
	)
}

func TestSustainedWeatherIntentIsServedFromSpeculation(t *testing.T) {
	clock := newFakeClock()
	gateway := &countingGateway{}
	recorder := &eventRecorder{}
	orchestrator := NewOrchestrator(
		WithGateway(gateway),
		WithClock(clock.Now),
		WithMetrics(testMetrics()),
		WithEventHandler(recorder.record),
	)
	defer orchestrator.Close()

	session := orchestrator.OpenSession(WithLanguage("en"), WithConsent(true, true))

	partial := transcripts.New(1, false,
		transcripts.Token{Word: "what's", Start: 0, End: 200 * time.Millisecond, Confidence: 0.95},
		transcripts.Token{Word: "the", Start: 200 * time.Millisecond, End: 300 * time.Millisecond, Confidence: 0.97},
		transcripts.Token{Word: "weath", Start: 300 * time.Millisecond, End: 500 * time.Millisecond, Confidence: 0.62},
	)
	if err := session.IngestPartial(context.Background(), partial); err != nil {
		t.Fatalf("failed to ingest partial: %v", err)
	}

	for i, step := range []time.Duration{0, 80 * time.Millisecond, 70 * time.Millisecond} {
		clock.Advance(step)
		if err := session.IngestGuess(context.Background(), weatherGuess(uint64(i+1), 0.83)); err != nil {
			t.Fatalf("failed to ingest guess %d: %v", i+1, err)
		}
	}

	if got := recorder.count(events.KindSpeculationTriggered); got != 1 {
		t.Fatalf("expected exactly one trigger for the sustained intent, got %d", got)
	}
	await(t, time.Second, func() bool {
		return recorder.count(events.KindSpeculationCompleted) == 1
	})

	result, err := session.Finalize(context.Background(), weatherFinal(9), &intents.Guess{
		Intent: "weather_query",
		Slots:  intents.Slots{"city": "Dhulikhel"},
	})
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	if result.Source != reconcile.SourceSpeculativeHit {
		t.Fatalf("expected the speculative result to be reused, got %q", result.Source)
	}
	if result.Payload != "sunny, 24C" {
		t.Fatalf("expected the speculative payload, got %v", result.Payload)
	}
	if calls := gateway.calls.Load(); calls != 1 {
		t.Fatalf("expected exactly one gateway call, got %d", calls)
	}
	if state := session.State(); state != StateIdle {
		t.Fatalf("expected the session back at idle, got %v", state)
	}
}

func TestSessionWalksTheLifecycleStates(t *testing.T) {
	clock := newFakeClock()
	recorder := &eventRecorder{}
	synthesizer := &blockingSynthesizer{started: make(chan struct{})}
	orchestrator := NewOrchestrator(
		WithGateway(&countingGateway{}),
		WithClock(clock.Now),
		WithMetrics(testMetrics()),
		WithEventHandler(recorder.record),
		WithResponseSynthesizer(synthesizer),
	)
	defer orchestrator.Close()

	session := orchestrator.OpenSession()

	if err := session.IngestPartial(context.Background(), transcripts.New(1, false,
		transcripts.Token{Word: "what's", Start: 0, End: 200 * time.Millisecond, Confidence: 0.9})); err != nil {
		t.Fatalf("failed to ingest partial: %v", err)
	}
	for i, step := range []time.Duration{0, 130 * time.Millisecond} {
		clock.Advance(step)
		if err := session.IngestGuess(context.Background(), weatherGuess(uint64(i+1), 0.83)); err != nil {
			t.Fatalf("failed to ingest guess: %v", err)
		}
	}
	await(t, time.Second, func() bool {
		return recorder.count(events.KindSpeculationCompleted) == 1
	})
	if _, err := session.Finalize(context.Background(), weatherFinal(9), &intents.Guess{
		Intent: "weather_query",
		Slots:  intents.Slots{"city": "Dhulikhel"},
	}); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	<-synthesizer.started
	session.BargeIn()

	expected := []string{"listening", "speculating", "finalizing", "responding", "listening"}
	transitions := recorder.transitions()
	if len(transitions) != len(expected) {
		t.Fatalf("expected transitions %v, got %v", expected, transitions)
	}
	for i, state := range expected {
		if transitions[i] != state {
			t.Fatalf("expected transitions %v, got %v", expected, transitions)
		}
	}
}

func TestIntentFlipBeforeDwellNeverSpeculatesOnFirstIntent(t *testing.T) {
	clock := newFakeClock()
	recorder := &eventRecorder{}
	orchestrator := NewOrchestrator(
		WithGateway(&countingGateway{}),
		WithClock(clock.Now),
		WithMetrics(testMetrics()),
		WithEventHandler(recorder.record),
	)
	defer orchestrator.Close()

	session := orchestrator.OpenSession()

	reminder := func(seq uint64) intents.Guess {
		return intents.Guess{Intent: "reminder_set", Probability: 0.9, Slots: intents.Slots{"when": "9am"}, Seq: seq}
	}

	if err := session.IngestGuess(context.Background(), weatherGuess(1, 0.80)); err != nil {
		t.Fatalf("failed to ingest guess: %v", err)
	}
	clock.Advance(60 * time.Millisecond)
	if err := session.IngestGuess(context.Background(), weatherGuess(2, 0.80)); err != nil {
		t.Fatalf("failed to ingest guess: %v", err)
	}

	clock.Advance(40 * time.Millisecond)
	for i, step := range []time.Duration{0, 70 * time.Millisecond, 60 * time.Millisecond} {
		clock.Advance(step)
		if err := session.IngestGuess(context.Background(), reminder(uint64(i+3))); err != nil {
			t.Fatalf("failed to ingest reminder guess: %v", err)
		}
	}

	await(t, time.Second, func() bool {
		return recorder.count(events.KindSpeculationTriggered) == 1
	})
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	for _, event := range recorder.recorded {
		if triggered, ok := event.(events.SpeculationTriggered); ok {
			if triggered.Intent != "reminder_set" {
				t.Fatalf("expected only the reminder intent to speculate, got %q", triggered.Intent)
			}
		}
	}
}

func TestBudgetOverrunFallsBackWithoutUserVisibleError(t *testing.T) {
	clock := newFakeClock()
	var speculativeCall atomic.Bool
	gateway := &countingGateway{
		fetch: func(ctx context.Context, intent string, slots intents.Slots) (any, error) {
			if speculativeCall.CompareAndSwap(false, true) {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return "cloudy, 19C", nil
		},
	}
	recorder := &eventRecorder{}

	config := DefaultConfig()
	config.SpeculationBudget = 40 * time.Millisecond
	orchestrator := NewOrchestrator(
		WithConfig(config),
		WithGateway(gateway),
		WithClock(clock.Now),
		WithMetrics(testMetrics()),
		WithEventHandler(recorder.record),
	)
	defer orchestrator.Close()

	session := orchestrator.OpenSession()
	for i, step := range []time.Duration{0, 130 * time.Millisecond} {
		clock.Advance(step)
		if err := session.IngestGuess(context.Background(), weatherGuess(uint64(i+1), 0.83)); err != nil {
			t.Fatalf("failed to ingest guess: %v", err)
		}
	}

	await(t, time.Second, func() bool {
		return recorder.count(events.KindSpeculationFailed) == 1
	})

	result, err := session.Finalize(context.Background(), weatherFinal(9), &intents.Guess{
		Intent: "weather_query",
		Slots:  intents.Slots{"city": "Dhulikhel"},
	})
	if err != nil {
		t.Fatalf("a budget overrun must stay invisible to the user, got error: %v", err)
	}
	if result.Source != reconcile.SourceFreshComputed {
		t.Fatalf("expected the fresh fallback after the overrun, got %q", result.Source)
	}
	if result.Payload != "cloudy, 19C" {
		t.Fatalf("expected the fallback payload, got %v", result.Payload)
	}
}

func TestLoadSheddingSuppressesTriggersUntilLoadDrops(t *testing.T) {
	clock := newFakeClock()
	recorder := &eventRecorder{}
	var utilization atomic.Uint64
	utilization.Store(90)
	monitor := load.MonitorFunc(func() float64 {
		return float64(utilization.Load()) / 100
	})

	orchestrator := NewOrchestrator(
		WithGateway(&countingGateway{}),
		WithClock(clock.Now),
		WithMetrics(testMetrics()),
		WithLoadMonitor(monitor),
		WithEventHandler(recorder.record),
	)
	defer orchestrator.Close()

	session := orchestrator.OpenSession()
	for i, step := range []time.Duration{0, 70 * time.Millisecond, 80 * time.Millisecond} {
		clock.Advance(step)
		if err := session.IngestGuess(context.Background(), weatherGuess(uint64(i+1), 0.95)); err != nil {
			t.Fatalf("failed to ingest guess: %v", err)
		}
	}

	if got := recorder.count(events.KindSpeculationTriggered); got != 0 {
		t.Fatalf("expected no triggers while shedding, got %d", got)
	}
	if got := recorder.count(events.KindSpeculationShed); got == 0 {
		t.Fatal("expected shed events while utilization is above threshold")
	}

	utilization.Store(40)
	clock.Advance(50 * time.Millisecond)
	if err := session.IngestGuess(context.Background(), weatherGuess(4, 0.95)); err != nil {
		t.Fatalf("failed to ingest guess: %v", err)
	}
	if got := recorder.count(events.KindSpeculationTriggered); got != 1 {
		t.Fatalf("expected the trigger once load dropped, got %d", got)
	}
}

func TestBargeInCancelsResponseAndSpeculations(t *testing.T) {
	clock := newFakeClock()
	recorder := &eventRecorder{}
	synthesizer := &blockingSynthesizer{started: make(chan struct{})}
	orchestrator := NewOrchestrator(
		WithGateway(&countingGateway{}),
		WithClock(clock.Now),
		WithMetrics(testMetrics()),
		WithEventHandler(recorder.record),
		WithResponseSynthesizer(synthesizer),
	)
	defer orchestrator.Close()

	session := orchestrator.OpenSession()
	for i, step := range []time.Duration{0, 130 * time.Millisecond} {
		clock.Advance(step)
		if err := session.IngestGuess(context.Background(), weatherGuess(uint64(i+1), 0.83)); err != nil {
			t.Fatalf("failed to ingest guess: %v", err)
		}
	}
	await(t, time.Second, func() bool {
		return recorder.count(events.KindSpeculationCompleted) == 1
	})
	if _, err := session.Finalize(context.Background(), weatherFinal(9), &intents.Guess{
		Intent: "weather_query",
		Slots:  intents.Slots{"city": "Dhulikhel"},
	}); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	<-synthesizer.started

	if err := session.IngestPartial(context.Background(), transcripts.New(10, false,
		transcripts.Token{Word: "actually", Start: 0, End: 300 * time.Millisecond, Confidence: 0.9})); err != nil {
		t.Fatalf("failed to ingest barge-in partial: %v", err)
	}

	if state := session.State(); state != StateListening {
		t.Fatalf("expected the session listening after barge-in, got %v", state)
	}
	await(t, time.Second, func() bool {
		return recorder.count(events.KindSessionBargeIn) == 1 &&
			recorder.count(events.KindResponseEnded) == 1
	})
	if !errors.Is(synthesizer.err, context.Canceled) {
		t.Fatalf("expected the synthesizer context to be cancelled, got %v", synthesizer.err)
	}
}

func TestOutOfOrderGuessIsDroppedAndSessionContinues(t *testing.T) {
	clock := newFakeClock()
	orchestrator := NewOrchestrator(
		WithGateway(&countingGateway{}),
		WithClock(clock.Now),
		WithMetrics(testMetrics()),
	)
	defer orchestrator.Close()

	session := orchestrator.OpenSession()
	if err := session.IngestGuess(context.Background(), weatherGuess(5, 0.83)); err != nil {
		t.Fatalf("failed to ingest guess: %v", err)
	}
	if err := session.IngestGuess(context.Background(), weatherGuess(4, 0.83)); !errors.Is(err, gate.ErrOrderingViolation) {
		t.Fatalf("expected an ordering violation, got %v", err)
	}
	if err := session.IngestGuess(context.Background(), weatherGuess(6, 0.83)); err != nil {
		t.Fatalf("expected the session to keep accepting guesses, got %v", err)
	}
}

func TestCachedResultShortCircuitsDispatch(t *testing.T) {
	clock := newFakeClock()
	gateway := &countingGateway{}
	recorder := &eventRecorder{}
	store := cache.NewSharded(cache.DefaultConfig())
	orchestrator := NewOrchestrator(
		WithGateway(gateway),
		WithClock(clock.Now),
		WithMetrics(testMetrics()),
		WithResultCache(store),
		WithEventHandler(recorder.record),
	)
	defer orchestrator.Close()

	session := orchestrator.OpenSession()
	store.Put(intents.CacheKey("weather_query", intents.Slots{"city": "Dhulikhel"}, session.ID), "sunny, 24C")

	for i, step := range []time.Duration{0, 130 * time.Millisecond} {
		clock.Advance(step)
		if err := session.IngestGuess(context.Background(), weatherGuess(uint64(i+1), 0.83)); err != nil {
			t.Fatalf("failed to ingest guess: %v", err)
		}
	}

	await(t, time.Second, func() bool {
		return recorder.count(events.KindSpeculationCompleted) == 1
	})
	if calls := gateway.calls.Load(); calls != 0 {
		t.Fatalf("expected the cache to satisfy the speculation, gateway was called %d times", calls)
	}
}

func TestClosedSessionRejectsIngestion(t *testing.T) {
	orchestrator := NewOrchestrator(WithMetrics(testMetrics()))
	defer orchestrator.Close()

	session := orchestrator.OpenSession()
	session.Close()
	session.Close()

	if err := session.IngestGuess(context.Background(), weatherGuess(1, 0.9)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := orchestrator.Session(session.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected the session to be forgotten, got %v", err)
	}
}

type restartingSynthesizer struct {
	started chan struct{}

	mu   sync.Mutex
	errs []error
}

func (s *restartingSynthesizer) Speak(ctx context.Context, language string, result *reconcile.Result) error {
	s.started <- struct{}{}
	<-ctx.Done()
	s.mu.Lock()
	s.errs = append(s.errs, ctx.Err())
	s.mu.Unlock()
	return ctx.Err()
}

func (s *restartingSynthesizer) settled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func TestFinalDuringResponseCutsDeliveryShort(t *testing.T) {
	clock := newFakeClock()
	recorder := &eventRecorder{}
	synthesizer := &restartingSynthesizer{started: make(chan struct{}, 2)}
	orchestrator := NewOrchestrator(
		WithGateway(&countingGateway{}),
		WithClock(clock.Now),
		WithMetrics(testMetrics()),
		WithEventHandler(recorder.record),
		WithResponseSynthesizer(synthesizer),
	)
	defer orchestrator.Close()

	session := orchestrator.OpenSession()
	guess := &intents.Guess{Intent: "weather_query", Slots: intents.Slots{"city": "Dhulikhel"}}
	if _, err := session.Finalize(context.Background(), weatherFinal(1), guess); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	<-synthesizer.started

	// The next final lands straight on the playing response, with no partial
	// in between to barge in first.
	if _, err := session.Finalize(context.Background(), weatherFinal(2), guess); err != nil {
		t.Fatalf("failed to finalize over a playing response: %v", err)
	}

	await(t, time.Second, func() bool { return synthesizer.settled() == 1 })
	synthesizer.mu.Lock()
	firstErr := synthesizer.errs[0]
	synthesizer.mu.Unlock()
	if !errors.Is(firstErr, context.Canceled) {
		t.Fatalf("expected the first delivery to be cancelled, got %v", firstErr)
	}

	<-synthesizer.started
	if state := session.State(); state != StateResponding {
		t.Fatalf("expected the second response to be playing, got %v", state)
	}
	await(t, time.Second, func() bool {
		return recorder.count(events.KindResponseStarted) == 2
	})
}
