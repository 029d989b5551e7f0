package orchestration

import (
	"time"

	"github.com/aria-voice/aria-core/core/cache"
	"github.com/aria-voice/aria-core/core/gate"
	"github.com/aria-voice/aria-core/core/reconcile"
)

// Config aggregates the numeric thresholds of the orchestrator. Zero values
// are replaced by the documented defaults at session creation.
type Config struct {
	// Gate holds the confidence gate thresholds.
	Gate gate.Config
	// Reconcile holds the reconciliation timing knobs.
	Reconcile reconcile.Config
	// Cache holds the shared result cache knobs.
	Cache cache.Config

	// SpeculationBudget bounds every speculative dispatch.
	SpeculationBudget time.Duration
	// EvictionTTL is how long terminal tasks linger before eviction.
	EvictionTTL time.Duration
	// MaxActiveSpeculations caps in-flight speculative tasks per session.
	MaxActiveSpeculations int
	// SessionIdleTTL is how long a session may stay idle before it is
	// reaped.
	SessionIdleTTL time.Duration
}

// DefaultConfig returns the documented orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Gate:                  gate.DefaultConfig(),
		Reconcile:             reconcile.DefaultConfig(),
		Cache:                 cache.DefaultConfig(),
		SpeculationBudget:     1200 * time.Millisecond,
		EvictionTTL:           10 * time.Minute,
		MaxActiveSpeculations: 10,
		SessionIdleTTL:        5 * time.Minute,
	}
}
