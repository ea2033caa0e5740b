package fix

import (
	"math"
	"sync"
	"time"

	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/shared/geo"
)

// Accumulator turns a stream of raw fixes into a monotonically non-decreasing
// distance total. Sub-threshold movement is either buffered (genuine slow
// walking) or rejected (jitter); a bounded speed estimate covers the case
// where the position barely moves but the sensor reports real velocity.
//
// The total only ever grows. It is replaced wholesale at a coordinator
// handoff via Merge, and Merge never lowers it.
type Accumulator struct {
	mu sync.Mutex

	cfg config.Config

	total float64
	micro float64

	hasLast       bool
	lastLat       float64
	lastLon       float64
	lastAt        time.Time
	cooldownUntil time.Time
}

func NewAccumulator(cfg config.Config) *Accumulator {
	return &Accumulator{cfg: cfg}
}

// Process consumes one fix and returns the meters added to the total.
// Malformed fixes are dropped without error: accumulation is best-effort and
// must never abort the session.
func (a *Accumulator) Process(fx Fix) float64 {
	if !fx.Valid() {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.hasLast {
		a.advance(fx)
		return 0
	}

	raw := geo.DistanceM(a.lastLat, a.lastLon, fx.Latitude, fx.Longitude)
	threshold := math.Min(fx.AccuracyM/3, a.cfg.JitterCapM)

	if raw > threshold {
		a.total += raw
		a.advance(fx)
		return raw
	}

	if raw > a.cfg.MicroBufferFloorM {
		// Genuine slow movement: buffer it and promote once enough has
		// built up, so filtering does not eat a slow walk.
		a.micro += raw
		a.advance(fx)
		if a.micro >= a.cfg.MicroBufferM {
			promoted := a.micro
			a.total += promoted
			a.micro = 0
			return promoted
		}
		return 0
	}

	if added := a.speedFallback(fx); added > 0 {
		a.total += added
		a.advance(fx)
		return added
	}

	return 0
}

// speedFallback estimates distance from reported speed when the position
// barely moved. The elapsed window is capped and the result bounded, so a
// glitching speed sensor can never inject a large jump in a single tick.
func (a *Accumulator) speedFallback(fx Fix) float64 {
	if fx.SpeedMps <= a.cfg.FallbackMinSpeed {
		return 0
	}
	if !fx.Timestamp.After(a.cooldownUntil) {
		return 0
	}
	elapsed := fx.Timestamp.Sub(a.lastAt)
	if elapsed <= 0 {
		return 0
	}
	if elapsed > a.cfg.FallbackMaxGap {
		elapsed = a.cfg.FallbackMaxGap
	}
	est := fx.SpeedMps * elapsed.Seconds()
	if est <= a.cfg.FallbackMinM || est >= a.cfg.FallbackMaxM {
		return 0
	}
	return est
}

func (a *Accumulator) advance(fx Fix) {
	a.hasLast = true
	a.lastLat = fx.Latitude
	a.lastLon = fx.Longitude
	a.lastAt = fx.Timestamp
}

// Total returns the accumulated distance in meters.
func (a *Accumulator) Total() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// MicroBuffer returns the sub-threshold meters pending promotion.
func (a *Accumulator) MicroBuffer() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.micro
}

// Merge replaces the total at a coordinator handoff. The last-fix seed is
// cleared rather than re-stamped: the merged counter already covers any
// movement since the old seed, so the next fix must only re-seed. The
// micro-buffer is dropped and the speed fallback disarmed for the cooldown
// window, which keeps a burst of inflated post-reacquisition speed readings
// from double-adding distance.
func (a *Accumulator) Merge(total float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if total > a.total {
		a.total = total
	}
	a.micro = 0
	a.hasLast = false
	a.lastAt = now
	a.cooldownUntil = now.Add(a.cfg.FallbackCooldown)
}

// Restore seeds the total from a recovered session without touching the
// last-fix bookkeeping.
func (a *Accumulator) Restore(total float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if total > a.total {
		a.total = total
	}
}

// Lift raises the total to at least floor. Used while the background source
// is authoritative: its counter is monotonic, so the session total tracks it
// with max semantics and can never decrease.
func (a *Accumulator) Lift(floor float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if floor > a.total {
		a.total = floor
	}
	return a.total
}
