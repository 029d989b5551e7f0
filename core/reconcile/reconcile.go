// Package reconcile matches a finalized utterance against in-flight and
// completed speculative work and decides hit versus miss. On a miss it runs
// the fresh, non-speculative fetch under the end-to-end latency ceiling.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aria-voice/aria-core/core/dispatch"
	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/registry"
	"github.com/aria-voice/aria-core/core/transcripts"
)

// Source records which path produced the reconciled payload.
type Source string

const (
	// SourceSpeculativeHit - a completed speculative task matched exactly.
	SourceSpeculativeHit Source = "speculative-hit"
	// SourceFreshComputed - no usable speculation; the payload was computed
	// fresh on the fallback path.
	SourceFreshComputed Source = "fresh-computed"
)

// Result is the immutable outcome of reconciling one finalized utterance.
type Result struct {
	Intent  string
	Slots   intents.Slots
	Payload any
	Source  Source
	// TaskID is the speculative task that produced the payload; empty on the
	// fresh path.
	TaskID string
	// TimeToDecision is the time from receiving the final transcript to
	// knowing hit or miss.
	TimeToDecision time.Duration
	// TimeToFirstAudio is this engine's contribution to TTFA: decision time
	// plus, on a miss, the fallback fetch.
	TimeToFirstAudio time.Duration
}

// Config holds the reconciliation timing knobs.
type Config struct {
	// ClassifyTimeout bounds the synchronous classification of the final
	// transcript when no guess was supplied.
	ClassifyTimeout time.Duration
	// Ceiling is the end-to-end budget from end of speech to first audio
	// that the fallback path must fit inside.
	Ceiling time.Duration
	// Equality is the slot comparison policy.
	Equality intents.EqualityPolicy
}

// DefaultConfig returns the documented reconciliation defaults.
func DefaultConfig() Config {
	return Config{
		ClassifyTimeout: 500 * time.Millisecond,
		Ceiling:         2500 * time.Millisecond,
		Equality:        intents.EqualityFoldCase,
	}
}

// Engine reconciles finalized utterances for one session.
type Engine struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	classifier intents.Classifier
	config     Config
	now        func() time.Time
}

// Option configures an engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine bound to the session's registry and the shared
// dispatcher.
func New(reg *registry.Registry, dispatcher *dispatch.Dispatcher, classifier intents.Classifier, config Config, opts ...Option) *Engine {
	e := &Engine{
		registry:   reg,
		dispatcher: dispatcher,
		classifier: classifier,
		config:     config,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile resolves the finalized utterance to a payload. guess may carry
// the classifier output if the caller already has it; otherwise the final
// transcript is classified synchronously under ClassifyTimeout.
//
// A returned error is a fallback-path failure and is the only reconciliation
// outcome that may become user visible.
func (e *Engine) Reconcile(ctx context.Context, final transcripts.PartialTranscript, guess *intents.Guess) (*Result, error) {
	start := e.now()

	ctx, span := tracer.Start(ctx, "reconcile final utterance")
	defer span.End()

	if guess == nil {
		classifyCtx, cancel := context.WithTimeout(ctx, e.config.ClassifyTimeout)
		classified, err := e.classifier.Classify(classifyCtx, final.Text())
		cancel()
		if err != nil {
			err = fmt.Errorf("failed to classify final transcript: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		guess = classified
	}
	span.SetAttributes(attribute.String("reconcile.intent", guess.Intent))

	matched, ok := e.match(ctx, guess.Intent, guess.Slots, start)
	decisionAt := e.now()

	if ok {
		span.SetAttributes(attribute.String("reconcile.source", string(SourceSpeculativeHit)))
		// Every other in-flight speculation is moot now.
		e.registry.CancelAll(matched.ID)
		return &Result{
			Intent:           guess.Intent,
			Slots:            guess.Slots.Clone(),
			Payload:          matched.Result,
			Source:           SourceSpeculativeHit,
			TaskID:           matched.ID,
			TimeToDecision:   decisionAt.Sub(start),
			TimeToFirstAudio: decisionAt.Sub(start),
		}, nil
	}

	span.SetAttributes(attribute.String("reconcile.source", string(SourceFreshComputed)))
	e.registry.CancelAll()

	remaining := e.config.Ceiling - e.now().Sub(start)
	if remaining <= 0 {
		err := fmt.Errorf("latency ceiling exhausted before fallback dispatch")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	payload, err := e.dispatcher.Fetch(ctx, guess.Intent, guess.Slots, remaining)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fallback path failed: %w", err)
	}

	return &Result{
		Intent:           guess.Intent,
		Slots:            guess.Slots.Clone(),
		Payload:          payload,
		Source:           SourceFreshComputed,
		TimeToDecision:   decisionAt.Sub(start),
		TimeToFirstAudio: e.now().Sub(start),
	}, nil
}

// match finds a speculative task usable for the final (intent, slots). A
// completed exact match is a hit; a still-running match inside its deadline
// is awaited for the smaller of its remaining deadline and the remaining
// ceiling, never indefinitely.
func (e *Engine) match(ctx context.Context, intent string, slots intents.Slots, start time.Time) (registry.Snapshot, bool) {
	candidate, ok := e.registry.Lookup(intent)
	if !ok {
		return registry.Snapshot{}, false
	}
	if !e.config.Equality.Match(candidate.Slots, slots) {
		logger.Info("speculative slots mismatch final utterance",
			"intent", intent, "task_id", candidate.ID)
		return registry.Snapshot{}, false
	}

	if candidate.State == registry.StateCompleted {
		return candidate, true
	}
	if candidate.State.IsTerminal() {
		return registry.Snapshot{}, false
	}

	now := e.now()
	if !now.Before(candidate.Deadline) {
		return registry.Snapshot{}, false
	}
	wait := candidate.Deadline.Sub(now)
	if ceilingLeft := e.config.Ceiling - now.Sub(start); ceilingLeft < wait {
		wait = ceilingLeft
	}
	if wait <= 0 {
		return registry.Snapshot{}, false
	}

	awaited, err := e.registry.Await(ctx, candidate.ID, wait)
	if err != nil || awaited.State != registry.StateCompleted {
		return registry.Snapshot{}, false
	}
	return awaited, true
}
