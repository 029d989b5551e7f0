// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aria_core"

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	// Speculation metrics
	SpeculationsTriggered prometheus.Counter
	SpeculationsCancelled *prometheus.CounterVec
	SpeculationsCompleted prometheus.Counter
	SpeculationsFailed    *prometheus.CounterVec
	SpeculationsShed      prometheus.Counter
	SpeculationsActive    prometheus.Gauge
	SpeculationLatency    prometheus.Histogram

	// Reconciliation metrics
	ReconciliationHits   prometheus.Counter
	ReconciliationMisses prometheus.Counter
	TimeToDecision       prometheus.Histogram
	TimeToFirstAudio     *prometheus.HistogramVec

	// Result cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Session metrics
	SessionsActive prometheus.Gauge
	BargeIns       prometheus.Counter
}

// New creates all orchestrator metrics on the given registerer. Passing nil
// registers on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Speculation metrics
		SpeculationsTriggered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speculations_triggered_total",
			Help:      "Total number of speculative tasks triggered",
		}),
		SpeculationsCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speculations_cancelled_total",
			Help:      "Total number of speculative tasks cancelled",
		}, []string{"reason"}),
		SpeculationsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speculations_completed_total",
			Help:      "Total number of speculative tasks completed in budget",
		}),
		SpeculationsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speculations_failed_total",
			Help:      "Total number of speculative tasks failed or overran",
		}, []string{"reason"}),
		SpeculationsShed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speculations_shed_total",
			Help:      "Total number of triggers suppressed by load shedding",
		}),
		SpeculationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speculations_active",
			Help:      "Number of currently in-flight speculative tasks",
		}),
		SpeculationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speculation_latency_seconds",
			Help:      "Speculative dispatch latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 0.8, 1, 1.2, 2},
		}),

		// Reconciliation metrics
		ReconciliationHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_hits_total",
			Help:      "Total number of finalized utterances served from speculation",
		}),
		ReconciliationMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_misses_total",
			Help:      "Total number of finalized utterances served by fresh computation",
		}),
		TimeToDecision: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_decision_seconds",
			Help:      "Time from final transcript to hit or miss decision",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		TimeToFirstAudio: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_audio_seconds",
			Help:      "Time from end of speech to first response audio",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 2.5},
		}, []string{"source"}),

		// Result cache metrics
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_hits_total",
			Help:      "Total number of result cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_misses_total",
			Help:      "Total number of result cache misses",
		}),

		// Session metrics
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open sessions",
		}),
		BargeIns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total number of user barge-ins during playback",
		}),
	}
}

// RecordTrigger records a speculative task starting.
func (m *Metrics) RecordTrigger() {
	m.SpeculationsTriggered.Inc()
	m.SpeculationsActive.Inc()
}

// RecordCancellation records a speculative task cancelled before finishing.
func (m *Metrics) RecordCancellation(reason string) {
	m.SpeculationsCancelled.WithLabelValues(reason).Inc()
	m.SpeculationsActive.Dec()
}

// RecordCompletion records a speculative task finishing inside its budget.
func (m *Metrics) RecordCompletion(latencySeconds float64) {
	m.SpeculationsCompleted.Inc()
	m.SpeculationsActive.Dec()
	m.SpeculationLatency.Observe(latencySeconds)
}

// RecordFailure records a speculative task failing or overrunning its budget.
func (m *Metrics) RecordFailure(reason string) {
	m.SpeculationsFailed.WithLabelValues(reason).Inc()
	m.SpeculationsActive.Dec()
}

// RecordShed records a trigger suppressed by load shedding.
func (m *Metrics) RecordShed() {
	m.SpeculationsShed.Inc()
}

// RecordReconciliation records a hit or miss decision and its timings.
func (m *Metrics) RecordReconciliation(source string, hit bool, decisionSeconds, firstAudioSeconds float64) {
	if hit {
		m.ReconciliationHits.Inc()
	} else {
		m.ReconciliationMisses.Inc()
	}
	m.TimeToDecision.Observe(decisionSeconds)
	m.TimeToFirstAudio.WithLabelValues(source).Observe(firstAudioSeconds)
}

// RecordCacheLookup records a result cache lookup.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// RecordSessionOpened records a session opening.
func (m *Metrics) RecordSessionOpened() {
	m.SessionsActive.Inc()
}

// RecordSessionClosed records a session closing.
func (m *Metrics) RecordSessionClosed() {
	m.SessionsActive.Dec()
}

// RecordBargeIn records the user speaking over a playing response.
func (m *Metrics) RecordBargeIn() {
	m.BargeIns.Inc()
}
