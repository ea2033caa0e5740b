// Package hibernation watches for gaps in application activity that signal
// the OS suspended the hosting process. It owns no session state; it is a
// signal source the persistence layer uses to force out-of-band saves.
package hibernation

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Config struct {
	Poll time.Duration
	Gap  time.Duration
}

// Detector polls a last-activity timestamp. A gap beyond the threshold emits
// one hibernation event; the next observed activity emits a recovery event
// with the total time asleep and clears the flag.
type Detector struct {
	mu  sync.Mutex
	cfg Config
	clk clock.Clock

	lastActivity time.Time
	hibernatedAt time.Time
	hibernated   bool
	running      bool

	onHibernate func(gap time.Duration)
	onRecover   func(slept time.Duration)

	ticker *clock.Ticker
	done   chan struct{}
}

func NewDetector(cfg Config, clk clock.Clock) *Detector {
	return &Detector{cfg: cfg, clk: clk}
}

func (d *Detector) OnHibernate(fn func(gap time.Duration)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onHibernate = fn
}

func (d *Detector) OnRecover(fn func(slept time.Duration)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onRecover = fn
}

func (d *Detector) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.lastActivity = d.clk.Now()
	d.hibernated = false
	d.ticker = d.clk.Ticker(d.cfg.Poll)
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.loop()
}

func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.ticker.Stop()
	close(d.done)
	d.mu.Unlock()
}

// Touch records activity: a timer tick observed by the app, a user action,
// a visibility change. Recovery fires here, not on the poll: the poll only
// sees silence, activity is what proves the process woke up.
func (d *Detector) Touch() {
	d.mu.Lock()
	now := d.clk.Now()
	d.lastActivity = now

	if !d.hibernated {
		d.mu.Unlock()
		return
	}
	slept := now.Sub(d.hibernatedAt)
	d.hibernated = false
	cb := d.onRecover
	d.mu.Unlock()

	if cb != nil {
		cb(slept)
	}
}

// Hibernated reports whether a hibernation is currently flagged.
func (d *Detector) Hibernated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hibernated
}

func (d *Detector) loop() {
	for {
		select {
		case <-d.done:
			return
		case <-d.ticker.C:
			d.check()
		}
	}
}

func (d *Detector) check() {
	d.mu.Lock()
	now := d.clk.Now()
	gap := now.Sub(d.lastActivity)
	if d.hibernated || gap <= d.cfg.Gap {
		d.mu.Unlock()
		return
	}
	d.hibernated = true
	d.hibernatedAt = d.lastActivity
	cb := d.onHibernate
	d.mu.Unlock()

	if cb != nil {
		cb(gap)
	}
}
