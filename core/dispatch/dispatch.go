// Package dispatch executes speculative work against the retrieval/tool
// gateway under a hard time budget, cooperating with cancellation.
//
// Speculative outcomes are delivered exclusively through the task registry
// (Complete/Fail); nothing escapes the dispatch boundary as a panic or a
// returned error, so a failed speculation cannot crash the orchestrator.
// Only the synchronous fallback path, Fetch, returns errors to its caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/registry"
)

var (
	// ErrBudgetExceeded means the gateway did not respond within the budget.
	// Recorded as a terminal task failure, never surfaced as a user error.
	ErrBudgetExceeded = errors.New("dispatch budget exceeded")
	// ErrCircuitOpen means the gateway breaker is refusing calls.
	ErrCircuitOpen = errors.New("gateway circuit open")
)

// Gateway is the retrieval/tool collaborator. Fetch must observe ctx
// cancellation and abort its underlying call rather than run to completion.
type Gateway interface {
	Fetch(ctx context.Context, intent string, slots intents.Slots) (any, error)
}

// Dispatcher runs gateway calls for speculative tasks and fallbacks.
type Dispatcher struct {
	gateway Gateway
	breaker *Breaker
}

// Option configures a dispatcher.
type Option func(*Dispatcher)

// WithBreaker overrides the default circuit breaker.
func WithBreaker(breaker *Breaker) Option {
	return func(d *Dispatcher) { d.breaker = breaker }
}

// New creates a dispatcher for the gateway.
func New(gateway Gateway, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gateway: gateway,
		breaker: NewBreaker(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch claims the task from its registry and runs the gateway call on
// its own goroutine. The caller's control flow is never blocked and never
// sees an error: outcomes land in the registry.
func (d *Dispatcher) Dispatch(reg *registry.Registry, taskID string) {
	go d.run(reg, taskID)
}

func (d *Dispatcher) run(reg *registry.Registry, taskID string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			reg.Fail(taskID, fmt.Errorf("gateway panicked: %v", recovered))
		}
	}()

	taskCtx, deadline, err := reg.Start(taskID)
	if err != nil {
		// Cancelled (or evicted) before dispatch began; nothing to run.
		return
	}
	task, err := reg.Get(taskID)
	if err != nil {
		return
	}

	ctx, span := tracer.Start(taskCtx, "speculative dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("speculation.task_id", taskID),
		attribute.String("speculation.intent", task.Intent),
	)

	if !d.breaker.Allow() {
		span.AddEvent("circuit open, refusing dispatch")
		reg.Fail(taskID, ErrCircuitOpen)
		return
	}

	ctx, cancel := context.WithDeadlineCause(ctx, deadline, ErrBudgetExceeded)
	defer cancel()

	result, err := d.call(ctx, task.Intent, task.Slots)
	switch {
	case err == nil:
		d.breaker.Success()
		reg.Complete(taskID, result)
	case errors.Is(err, ErrBudgetExceeded):
		d.breaker.Failure()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reg.Fail(taskID, ErrBudgetExceeded)
	case taskCtx.Err() != nil:
		// External cancellation won the race; the registry already holds the
		// terminal state and the result must not be written.
		span.AddEvent("dispatch aborted by cancellation")
	default:
		d.breaker.Failure()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reg.Fail(taskID, err)
	}
}

// Fetch is the synchronous non-speculative path used by reconciliation
// fallbacks. It enforces the same budget and breaker, but errors return to
// the caller.
func (d *Dispatcher) Fetch(ctx context.Context, intent string, slots intents.Slots, budget time.Duration) (any, error) {
	ctx, span := tracer.Start(ctx, "fallback fetch")
	defer span.End()
	span.SetAttributes(attribute.String("speculation.intent", intent))

	if !d.breaker.Allow() {
		span.RecordError(ErrCircuitOpen)
		span.SetStatus(codes.Error, ErrCircuitOpen.Error())
		return nil, ErrCircuitOpen
	}

	ctx, cancel := context.WithTimeoutCause(ctx, budget, ErrBudgetExceeded)
	defer cancel()

	result, err := d.call(ctx, intent, slots)
	if err != nil {
		d.breaker.Failure()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fallback fetch failed: %w", err)
	}
	d.breaker.Success()
	return result, nil
}

type callOutcome struct {
	result any
	err    error
}

// call runs the gateway fetch but never waits past ctx: a gateway that
// ignores cancellation is abandoned, not waited on.
func (d *Dispatcher) call(ctx context.Context, intent string, slots intents.Slots) (any, error) {
	outcomes := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				outcomes <- callOutcome{err: fmt.Errorf("gateway panicked: %v", recovered)}
			}
		}()
		result, err := d.gateway.Fetch(ctx, intent, slots)
		outcomes <- callOutcome{result: result, err: err}
	}()

	select {
	case outcome := <-outcomes:
		if outcome.err != nil && ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return outcome.result, outcome.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}
