package orchestration

import (
	"time"

	"github.com/aria-voice/aria-core/core/cache"
	"github.com/aria-voice/aria-core/core/dispatch"
	"github.com/aria-voice/aria-core/core/events"
	"github.com/aria-voice/aria-core/core/intents"
	"github.com/aria-voice/aria-core/core/load"
	"github.com/aria-voice/aria-core/core/metrics"
)

type OrchestratorOption func(*Orchestrator)

// WithConfig replaces the default thresholds wholesale.
func WithConfig(config Config) OrchestratorOption {
	return func(o *Orchestrator) { o.config = config }
}

// WithIntentClassifier wires the external intent classifier used for
// speculative guesses and final-transcript classification.
func WithIntentClassifier(classifier intents.Classifier) OrchestratorOption {
	return func(o *Orchestrator) { o.classifier = classifier }
}

// WithGateway wires the retrieval/tool gateway behind a fresh dispatcher.
func WithGateway(gateway dispatch.Gateway, opts ...dispatch.Option) OrchestratorOption {
	return func(o *Orchestrator) { o.dispatcher = dispatch.New(gateway, opts...) }
}

// WithDispatcher wires a pre-built dispatcher, for sharing one breaker
// across orchestrators.
func WithDispatcher(dispatcher *dispatch.Dispatcher) OrchestratorOption {
	return func(o *Orchestrator) { o.dispatcher = dispatcher }
}

// WithResultCache replaces the default sharded result cache.
func WithResultCache(store cache.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.cache = store }
}

// WithLoadMonitor wires the utilization sampler driving load shedding.
func WithLoadMonitor(monitor load.Monitor) OrchestratorOption {
	return func(o *Orchestrator) { o.monitor = monitor }
}

// WithResponseSynthesizer wires the downstream response synthesis
// collaborator.
func WithResponseSynthesizer(synthesizer ResponseSynthesizer) OrchestratorOption {
	return func(o *Orchestrator) { o.synthesizer = synthesizer }
}

// WithAnalyticsPublisher wires the reconciliation analytics exporter.
func WithAnalyticsPublisher(publisher AnalyticsPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.analytics = publisher }
}

// WithMetrics replaces the default metrics registered on the global
// Prometheus registry.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEventHandler subscribes a handler to every orchestration event. The
// handler runs on the orchestrator's goroutines and must not call back into
// a session synchronously.
func WithEventHandler(handler func(events.Event)) OrchestratorOption {
	return func(o *Orchestrator) {
		if handler == nil {
			o.emit = noopEventEmitter
			return
		}
		o.emit = handler
	}
}

// WithCallbacks subscribes per-kind callbacks instead of a raw event
// handler.
func WithCallbacks(callbacks Callbacks) OrchestratorOption {
	return func(o *Orchestrator) { o.emit = newCallbackEventEmitter(callbacks) }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

type SessionOption func(*Session)

// WithLanguage sets the session's language preference.
func WithLanguage(language string) SessionOption {
	return func(s *Session) { s.Language = language }
}

// WithConsent records the user's audio and text processing consent. Text
// consent gates analytics export; audio consent gates speech-frontend
// attachment.
func WithConsent(audio, text bool) SessionOption {
	return func(s *Session) {
		s.ConsentAudio = audio
		s.ConsentText = text
	}
}
