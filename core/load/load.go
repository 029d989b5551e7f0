// Package load exposes the utilization signal that drives speculation
// shedding. The monitor is injected so sessions can be tested with a static
// reading instead of live host sampling.
package load

import (
	"math"
	"sync/atomic"
)

// Monitor reports current utilization in the [0, 1] range.
type Monitor interface {
	Utilization() float64
}

// MonitorFunc adapts a plain function to the Monitor interface.
type MonitorFunc func() float64

func (f MonitorFunc) Utilization() float64 { return f() }

// None is a monitor that always reports an idle host.
var None Monitor = MonitorFunc(func() float64 { return 0 })

// Reported is a monitor fed by an external sampler (the host agent or a
// test). Readings are smoothed with an exponential moving average so a
// single spike does not flap the shedding decision.
type Reported struct {
	smoothing float64
	bits      atomic.Uint64
}

// NewReported creates a monitor with the given EWMA smoothing factor in
// (0, 1]; 1 disables smoothing.
func NewReported(smoothing float64) *Reported {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 1
	}
	return &Reported{smoothing: smoothing}
}

// Report feeds a new utilization sample, clamped to [0, 1].
func (r *Reported) Report(sample float64) {
	sample = math.Max(0, math.Min(1, sample))
	for {
		oldBits := r.bits.Load()
		current := math.Float64frombits(oldBits)
		next := current + r.smoothing*(sample-current)
		if r.bits.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

// Utilization returns the smoothed utilization reading.
func (r *Reported) Utilization() float64 {
	return math.Float64frombits(r.bits.Load())
}
