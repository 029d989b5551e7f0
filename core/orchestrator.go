// Package orchestration coordinates speculative execution for realtime voice
// sessions: it gates intent guesses, launches cancellable speculative
// dispatches while the user is still speaking, and reconciles the finalized
// utterance against their results so responses start with as little latency
// as the speculation saved.
package orchestration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aria-voice/aria-core/core/cache"
	"github.com/aria-voice/aria-core/core/dispatch"
	"github.com/aria-voice/aria-core/core/gate"
	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/load"
	"github.com/aria-voice/aria-core/core/metrics"
	"github.com/aria-voice/aria-core/core/reconcile"
	"github.com/aria-voice/aria-core/core/registry"
)

// ErrSessionClosed is returned by session operations after Close.
var ErrSessionClosed = errors.New("session is closed")

// ErrUnknownSession is returned when looking up a session id the
// orchestrator does not hold.
var ErrUnknownSession = errors.New("unknown session")

// Orchestrator owns the shared collaborators and the open sessions. Sessions
// are independent; all cross-session state lives in the injected cache and
// the shared dispatcher.
type Orchestrator struct {
	config      Config
	classifier  intents.Classifier
	dispatcher  *dispatch.Dispatcher
	cache       cache.Store
	monitor     load.Monitor
	synthesizer ResponseSynthesizer
	analytics   AnalyticsPublisher
	metrics     *metrics.Metrics
	emit        eventEmitter
	now         func() time.Time

	closeOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewOrchestrator wires an orchestrator from its options. A gateway (or a
// pre-built dispatcher) and a classifier are required for speculation to do
// anything useful; everything else has a working default.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		config:   DefaultConfig(),
		monitor:  load.None,
		emit:     noopEventEmitter,
		now:      time.Now,
		sessions: map[string]*Session{},
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.cache == nil {
		o.cache = cache.NewSharded(o.config.Cache)
	}
	if o.dispatcher == nil {
		o.dispatcher = dispatch.New(unavailableGateway{})
	}
	if o.metrics == nil {
		o.metrics = metrics.New(nil)
	}

	return o
}

// unavailableGateway stands in when no retrieval gateway was wired, so
// speculation degrades to failed tasks instead of panics.
type unavailableGateway struct{}

func (unavailableGateway) Fetch(context.Context, string, intents.Slots) (any, error) {
	return nil, errors.New("no retrieval gateway configured")
}

// OpenSession creates a session and returns it. Idle sessions past their TTL
// are reaped lazily on open.
func (o *Orchestrator) OpenSession(opts ...SessionOption) *Session {
	session := &Session{
		ID:           uuid.NewString(),
		Language:     "en",
		CreatedAt:    o.now(),
		orchestrator: o,

		state:         StateIdle,
		lastActivity:  o.now(),
		cancelReasons: map[string]string{},
	}
	for _, opt := range opts {
		opt(session)
	}

	session.gate = gate.New(o.config.Gate, o.monitor)
	session.registry = registry.New(session.ID,
		registry.WithEvictionTTL(o.config.EvictionTTL),
		registry.WithMaxActive(o.config.MaxActiveSpeculations),
	)
	session.engine = reconcile.New(session.registry, o.dispatcher, o.classifier, o.config.Reconcile)

	o.mu.Lock()
	o.reapLocked()
	o.sessions[session.ID] = session
	o.mu.Unlock()

	o.metrics.RecordSessionOpened()
	return session
}

// Session returns the open session with the given id.
func (o *Orchestrator) Session(id string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	session, ok := o.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return session, nil
}

// Close closes every open session. Safe to call more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		open := make([]*Session, 0, len(o.sessions))
		for _, session := range o.sessions {
			open = append(open, session)
		}
		o.mu.Unlock()

		for _, session := range open {
			session.Close()
		}
	})
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, id)
}

// reapLocked closes sessions idle past their TTL. Callers hold o.mu; Close
// re-locks it, so the reaped sessions are closed after release.
func (o *Orchestrator) reapLocked() {
	now := o.now()
	var expired []*Session
	for _, session := range o.sessions {
		if session.idleExpired(now, o.config.SessionIdleTTL) {
			expired = append(expired, session)
		}
	}
	if len(expired) == 0 {
		return
	}
	go func() {
		for _, session := range expired {
			logger.Info("reaping idle session", "session_id", session.ID)
			session.Close()
		}
	}()
}

// sheddingFor reports whether a guess that could otherwise trigger is being
// suppressed by load shedding right now.
func (o *Orchestrator) sheddingFor(guess intents.Guess) bool {
	threshold := o.config.Gate.ShedThreshold
	if threshold <= 0 {
		return false
	}
	return o.monitor.Utilization() >= threshold && guess.Probability > o.config.Gate.Threshold
}

// ResponseSynthesizer receives reconciled payloads and produces the streamed
// response. Speak must observe ctx: a barge-in cancels it mid-delivery.
type ResponseSynthesizer interface {
	Speak(ctx context.Context, language string, result *reconcile.Result) error
}

// AnalyticsPublisher exports reconciliation outcomes, only for sessions that
// consented to text processing.
type AnalyticsPublisher interface {
	PublishReconciliation(ctx context.Context, sessionID string, result *reconcile.Result) error
}
