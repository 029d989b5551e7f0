package orchestration

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aria-voice/aria-core/core/dispatch"
	"github.com/aria-voice/aria-core/core/events"
	"github.com/aria-voice/aria-core/core/gate"
	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/reconcile"
	"github.com/aria-voice/aria-core/core/registry"
	"github.com/aria-voice/aria-core/core/transcripts"
)

// SessionState is one step in a session's lifecycle.
type SessionState int

const (
	// StateIdle - no utterance in progress.
	StateIdle SessionState = iota
	// StateListening - partial transcripts are arriving.
	StateListening
	// StateSpeculating - at least one speculative task is in flight.
	StateSpeculating
	// StateFinalizing - the final transcript arrived, reconciliation runs.
	StateFinalizing
	// StateResponding - a reconciled payload is being delivered.
	StateResponding
)

// String returns the state's wire name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeculating:
		return "speculating"
	case StateFinalizing:
		return "finalizing"
	case StateResponding:
		return "responding"
	default:
		return "unknown"
	}
}

// Session is one conversation's mutable state. It is owned exclusively by
// the orchestrator that opened it; transcript and guess ingestion is a
// single ordered stream, while speculative dispatches run on their own
// goroutines and never block ingestion.
type Session struct {
	ID           string
	Language     string
	ConsentAudio bool
	ConsentText  bool
	CreatedAt    time.Time

	orchestrator *Orchestrator
	gate         *gate.Gate
	registry     *registry.Registry
	engine       *reconcile.Engine

	mu            sync.Mutex
	state         SessionState
	lastActivity  time.Time
	closed        bool
	respondCtx    context.Context
	respondCancel context.CancelFunc
	cancelReasons map[string]string
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transitionLocked moves the session to a new state and emits the change.
// Callers hold s.mu.
func (s *Session) transitionLocked(to SessionState) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.orchestrator.emit(events.NewSessionStateChanged(s.ID, from.String(), to.String()))
}

func (s *Session) touchLocked() {
	s.lastActivity = s.orchestrator.now()
}

// IngestPartial feeds one non-final partial transcript into the session.
// Final transcripts go through Finalize instead.
func (s *Session) IngestPartial(ctx context.Context, transcript transcripts.PartialTranscript) error {
	if transcript.Final {
		return errors.New("final transcripts must be finalized, not ingested as partials")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.touchLocked()
	if s.state == StateResponding {
		s.bargeInLocked()
	}
	if s.state == StateIdle {
		s.transitionLocked(StateListening)
		s.orchestrator.emit(events.NewUserSpeechStarted())
	}
	s.mu.Unlock()

	s.orchestrator.emit(events.NewUserTranscriptPartial(transcript.Text(), transcript.Seq))
	return nil
}

// IngestGuess feeds one classifier guess into the confidence gate and acts
// on its decision: triggering a speculative dispatch, or cancelling the live
// one after an intent flip. Out-of-order guesses are dropped with
// ErrOrderingViolation; the session keeps running.
func (s *Session) IngestGuess(ctx context.Context, guess intents.Guess) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.touchLocked()
	if s.state == StateFinalizing {
		// The utterance is already being reconciled; a straggling guess
		// has nothing left to speculate on.
		s.mu.Unlock()
		return nil
	}

	now := s.orchestrator.now()
	if s.orchestrator.sheddingFor(guess) {
		s.orchestrator.metrics.RecordShed()
		s.orchestrator.emit(events.NewSpeculationShed(guess.Intent))
	}

	decision, err := s.gate.Observe(now, guess)
	if err != nil {
		s.mu.Unlock()
		logger.Warn("dropping out-of-order intent guess",
			"session_id", s.ID, "seq", guess.Seq, "intent", guess.Intent)
		return err
	}

	switch decision.Action {
	case gate.ActionCancel:
		s.cancelIntentLocked(decision.Intent, "intent_flip")
		if s.registry.ActiveCount() == 0 && s.state == StateSpeculating {
			s.transitionLocked(StateListening)
		}
		s.mu.Unlock()
	case gate.ActionTrigger:
		s.mu.Unlock()
		s.speculate(ctx, decision.Intent, decision.Slots)
	default:
		s.mu.Unlock()
	}
	return nil
}

// cancelIntentLocked cancels the live task for intent, tagging the
// cancellation reason for the task watcher. Callers hold s.mu.
func (s *Session) cancelIntentLocked(intent, reason string) {
	snapshot, ok := s.registry.Lookup(intent)
	if !ok || snapshot.State.IsTerminal() {
		return
	}
	s.cancelReasons[snapshot.ID] = reason
	if err := s.registry.Cancel(snapshot.ID); err != nil {
		logger.Warn("failed to cancel speculative task",
			"session_id", s.ID, "task_id", snapshot.ID, "error", err)
	}
}

// speculate registers a task for the triggered intent and dispatches it,
// short-circuiting through the shared result cache when a fresh enough
// payload is already known.
func (s *Session) speculate(ctx context.Context, intent string, slots intents.Slots) {
	ctx, span := tracer.Start(ctx, "speculate on intent")
	defer span.End()
	span.SetAttributes(attribute.String("speculation.intent", intent))

	snapshot, err := s.registry.Trigger(ctx, intent, slots, s.orchestrator.config.SpeculationBudget)
	switch {
	case errors.Is(err, registry.ErrDuplicateIntent):
		// The gate cancels before retriggering, so this is a caller bug.
		logger.Error("speculation triggered over a live predecessor",
			"session_id", s.ID, "intent", intent)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	case errors.Is(err, registry.ErrTooManySpeculations):
		logger.Info("declining speculation, session at its concurrency ceiling",
			"session_id", s.ID, "intent", intent)
		return
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	s.orchestrator.metrics.RecordTrigger()
	s.orchestrator.emit(events.NewSpeculationTriggered(snapshot.ID, intent))

	s.mu.Lock()
	if s.state == StateIdle || s.state == StateListening {
		s.transitionLocked(StateSpeculating)
	}
	s.mu.Unlock()

	key := intents.CacheKey(intent, slots, s.ID)
	if payload, ok := s.orchestrator.cache.Get(key); ok {
		s.orchestrator.metrics.RecordCacheLookup(true)
		if _, _, err := s.registry.Start(snapshot.ID); err == nil {
			_ = s.registry.Complete(snapshot.ID, payload)
		}
	} else {
		s.orchestrator.metrics.RecordCacheLookup(false)
		s.orchestrator.dispatcher.Dispatch(s.registry, snapshot.ID)
	}

	go s.watch(snapshot.ID, intent)
}

// watch waits for the task to reach a terminal state and emits the matching
// event and metric exactly once per task.
func (s *Session) watch(taskID, intent string) {
	wait := s.orchestrator.config.SpeculationBudget + 100*time.Millisecond
	snapshot, err := s.registry.Await(context.Background(), taskID, wait)
	if err != nil {
		return
	}

	switch snapshot.State {
	case registry.StateCompleted:
		s.orchestrator.metrics.RecordCompletion(snapshot.EndedAt.Sub(snapshot.StartedAt).Seconds())
		s.orchestrator.emit(events.NewSpeculationCompleted(taskID, intent))
		s.orchestrator.cache.Put(intents.CacheKey(intent, snapshot.Slots, s.ID), snapshot.Result)
	case registry.StateCanceled:
		s.mu.Lock()
		reason, ok := s.cancelReasons[taskID]
		delete(s.cancelReasons, taskID)
		s.mu.Unlock()
		if !ok {
			reason = "superseded"
		}
		s.orchestrator.metrics.RecordCancellation(reason)
		s.orchestrator.emit(events.NewSpeculationCancelled(taskID, intent))
	case registry.StateFailed:
		reason := "downstream_error"
		if errors.Is(snapshot.Err, dispatch.ErrBudgetExceeded) {
			reason = "budget_exceeded"
		}
		s.orchestrator.metrics.RecordFailure(reason)
		s.orchestrator.emit(events.NewSpeculationFailed(taskID, intent, reason))
	}
}

// Finalize reconciles the finalized utterance against any speculative work
// and hands the payload to response synthesis. guess may carry the
// classifier's output for the final transcript; when nil the engine
// classifies synchronously. The returned error is a fallback-path failure
// and is the only user-visible error class.
func (s *Session) Finalize(ctx context.Context, final transcripts.PartialTranscript, guess *intents.Guess) (*reconcile.Result, error) {
	ctx, span := tracer.Start(ctx, "finalize utterance")
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.touchLocked()
	// A final landing straight on a playing response cuts it off; delivery
	// never overlaps the next utterance's synthesis.
	if s.respondCancel != nil {
		s.respondCancel()
		s.respondCtx = nil
		s.respondCancel = nil
	}
	s.transitionLocked(StateFinalizing)
	s.mu.Unlock()

	s.orchestrator.emit(events.NewUserSpeechEnded())
	s.orchestrator.emit(events.NewUserTranscriptFinal(final.Text(), final.Seq))

	result, err := s.engine.Reconcile(ctx, final, guess)
	s.gate.Reset()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.mu.Lock()
		s.transitionLocked(StateIdle)
		s.mu.Unlock()
		return nil, err
	}

	hit := result.Source == reconcile.SourceSpeculativeHit
	s.orchestrator.metrics.RecordReconciliation(string(result.Source), hit,
		result.TimeToDecision.Seconds(), result.TimeToFirstAudio.Seconds())
	if hit {
		s.orchestrator.emit(events.NewReconciliationHit(result.TaskID, result.Intent))
	} else {
		s.orchestrator.emit(events.NewReconciliationMiss(result.Intent))
		s.orchestrator.cache.Put(intents.CacheKey(result.Intent, result.Slots, s.ID), result.Payload)
	}

	// Text consent gates exporting utterance-derived payloads off box.
	if s.orchestrator.analytics != nil && s.ConsentText {
		go func() {
			if err := s.orchestrator.analytics.PublishReconciliation(context.Background(), s.ID, result); err != nil {
				logger.Warn("failed to publish reconciliation to analytics",
					"session_id", s.ID, "error", err)
			}
		}()
	}

	s.respond(ctx, result)
	return result, nil
}

// respond hands the result to the synthesizer on its own goroutine so a
// barge-in can cut delivery short.
func (s *Session) respond(ctx context.Context, result *reconcile.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orchestrator.synthesizer == nil {
		s.transitionLocked(StateIdle)
		return
	}

	s.transitionLocked(StateResponding)
	respondCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.respondCtx = respondCtx
	s.respondCancel = cancel
	s.orchestrator.emit(events.NewResponseStarted(s.ID, string(result.Source)))

	go func() {
		err := s.orchestrator.synthesizer.Speak(respondCtx, s.Language, result)
		interrupted := respondCtx.Err() != nil
		if err != nil && !interrupted {
			logger.Warn("response synthesis failed",
				"session_id", s.ID, "error", err)
		}
		s.orchestrator.emit(events.NewResponseEnded(s.ID, interrupted))

		s.mu.Lock()
		defer s.mu.Unlock()
		// A cancelled response may already have been replaced; only the
		// response that still owns the slot clears it.
		if s.respondCtx == respondCtx {
			s.respondCtx = nil
			s.respondCancel = nil
			if s.state == StateResponding {
				s.transitionLocked(StateIdle)
			}
		}
	}()
}

// BargeIn signals the user speaking over a playing response: delivery is
// cancelled and the session returns to listening.
func (s *Session) BargeIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateResponding {
		return
	}
	s.bargeInLocked()
}

func (s *Session) bargeInLocked() {
	s.orchestrator.metrics.RecordBargeIn()
	s.orchestrator.emit(events.NewSessionBargeIn(s.ID))
	if s.respondCancel != nil {
		s.respondCancel()
		s.respondCtx = nil
		s.respondCancel = nil
	}
	for _, snapshot := range s.registry.Active() {
		s.cancelReasons[snapshot.ID] = "barge_in"
	}
	s.registry.CancelAll()
	s.transitionLocked(StateListening)
}

// Close cancels all speculative work and removes the session from its
// orchestrator. Closing twice is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.respondCancel != nil {
		s.respondCancel()
		s.respondCtx = nil
		s.respondCancel = nil
	}
	s.transitionLocked(StateIdle)
	s.mu.Unlock()

	s.registry.CancelAll()
	s.orchestrator.metrics.RecordSessionClosed()
	s.orchestrator.forget(s.ID)
}

func (s *Session) idleExpired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateIdle && now.Sub(s.lastActivity) > ttl
}
