package location

import (
	"context"
	"errors"
	"sync"

	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/fix"
)

var ErrNotStarted = errors.New("location source not started")

// Foreground adapts the webview geolocation watch: the client pushes fixes
// into Push while the app is visible. The adapter only forwards fixes while
// the coordinator designates it authoritative; consumption is gated here so
// a non-authoritative stream can never leak into the session total.
type Foreground struct {
	mu        sync.Mutex
	started   bool
	consuming bool
	onFix     func(fix.Fix)
	acc       *fix.Accumulator

	lastAccuracy float64
	hasFix       bool
}

func NewForeground(cfg config.Config) *Foreground {
	return &Foreground{acc: fix.NewAccumulator(cfg)}
}

func (f *Foreground) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *Foreground) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	f.consuming = false
}

func (f *Foreground) OnFix(fn func(fix.Fix)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFix = fn
}

// SetConsuming gates whether pushed fixes reach the accumulator and the
// registered callback. Flipped only by the hybrid coordinator.
func (f *Foreground) SetConsuming(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consuming = on
}

// Push feeds one fix from the client. Readiness bookkeeping happens on every
// fix, even unconsumed ones: the coordinator needs to know when the adapter
// has reacquired an accurate position during a grace period.
func (f *Foreground) Push(fx fix.Fix) error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return ErrNotStarted
	}
	if fx.Valid() {
		f.hasFix = true
		f.lastAccuracy = fx.AccuracyM
	}
	consuming := f.consuming
	cb := f.onFix
	f.mu.Unlock()

	if !consuming {
		return nil
	}

	f.acc.Process(fx)
	if cb != nil {
		cb(fx)
	}
	return nil
}

func (f *Foreground) AccumulatedDistance() float64 {
	return f.acc.Total()
}

// Accumulator exposes the adapter's distance cell. The session engine owns
// the only other write path into it (the handoff merge).
func (f *Foreground) Accumulator() *fix.Accumulator {
	return f.acc
}

// Ready reports whether the adapter has a fix at or below the accuracy
// threshold, i.e. whether a handoff to foreground can complete.
func (f *Foreground) Ready(maxAccuracyM float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasFix && f.lastAccuracy <= maxAccuracyM
}
