package hybrid

import (
	"sync"
	"time"

	"backend-stridetrack/internal/location"

	"github.com/benbjohnson/clock"
)

// MergeFunc receives the background adapter's counter at a handoff. The
// session uses it to overwrite its running distance and re-sync the coaching
// watermark. It is invoked exactly once per handoff.
type MergeFunc func(backgroundTotal float64, at time.Time)

// Coordinator runs the reducer against real adapters and a clock. When the
// platform has no background service it degrades to foreground-only mode:
// the foreground adapter stays authoritative and every event is a no-op, so
// distance accumulation never stalls waiting for a service that is not there.
type Coordinator struct {
	mu    sync.Mutex
	cfg   Config
	clk   clock.Clock
	st    State
	fg    *location.Foreground
	bg    *location.Background
	merge MergeFunc

	foregroundOnly bool
	live           bool

	debounceTimer *clock.Timer
	graceTimer    *clock.Timer
}

func NewCoordinator(cfg Config, clk clock.Clock, fg *location.Foreground, bg *location.Background, merge MergeFunc) *Coordinator {
	return &Coordinator{
		cfg:            cfg,
		clk:            clk,
		fg:             fg,
		bg:             bg,
		merge:          merge,
		foregroundOnly: bg == nil || !bg.Available(),
	}
}

// Start makes the foreground source authoritative and begins consuming its
// fixes. The session starts in the foreground by definition.
func (c *Coordinator) Start() {
	c.mu.Lock()
	c.live = true
	c.st = State{Active: SourceForeground, Visible: true}
	c.mu.Unlock()
	c.fg.SetConsuming(true)
}

// Stop tears down timers and marks the coordinator dead; late timer
// callbacks no-op against the liveness flag.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.live = false
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
	}
	c.mu.Unlock()
}

// ActiveSource reports which adapter currently feeds the session.
func (c *Coordinator) ActiveSource() SourceKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.foregroundOnly {
		return SourceForeground
	}
	return c.st.Active
}

// SetVisibility feeds an app lifecycle transition into the machine.
func (c *Coordinator) SetVisibility(visible bool) {
	if c.foregroundOnly {
		return
	}
	c.dispatch(VisibilityChanged{Visible: visible, At: c.clk.Now()})
}

// NoteForegroundFix completes a pending handoff once an accurate fix shows
// up after the grace period already expired.
func (c *Coordinator) NoteForegroundFix(accuracyM float64) {
	if c.foregroundOnly || accuracyM > c.cfg.ReadyAccuracyM {
		return
	}
	c.mu.Lock()
	awaiting := c.st.AwaitingReady
	c.mu.Unlock()
	if !awaiting {
		return
	}
	c.dispatch(ForegroundReady{At: c.clk.Now()})
}

func (c *Coordinator) dispatch(ev Event) {
	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return
	}
	st, effects := Reduce(c.st, ev, c.cfg)
	c.st = st
	c.mu.Unlock()

	for _, ef := range effects {
		c.apply(ef)
	}
}

func (c *Coordinator) apply(ef Effect) {
	switch ef.Kind {
	case EffectStopForeground:
		c.fg.SetConsuming(false)

	case EffectScheduleDebounce:
		d := ef.At.Sub(c.clk.Now())
		if d < 0 {
			d = 0
		}
		c.mu.Lock()
		if c.debounceTimer != nil {
			c.debounceTimer.Stop()
		}
		c.debounceTimer = c.clk.AfterFunc(d, func() {
			c.dispatch(DebounceElapsed{At: c.clk.Now()})
		})
		c.mu.Unlock()

	case EffectScheduleGrace:
		d := ef.At.Sub(c.clk.Now())
		if d < 0 {
			d = 0
		}
		c.mu.Lock()
		if c.graceTimer != nil {
			c.graceTimer.Stop()
		}
		c.graceTimer = c.clk.AfterFunc(d, func() {
			c.dispatch(GraceElapsed{At: c.clk.Now(), Ready: c.fg.Ready(c.cfg.ReadyAccuracyM)})
		})
		c.mu.Unlock()

	case EffectHandoff:
		// The background counter is read exactly once per handoff; it is
		// the only point where the two sources' totals reconcile.
		total := c.bg.AccumulatedDistance()
		if c.merge != nil {
			c.merge(total, ef.At)
		}
		c.fg.SetConsuming(true)
	}
}
