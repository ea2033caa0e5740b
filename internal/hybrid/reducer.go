// Package hybrid decides which location source is authoritative for the
// session's distance. The decision logic is a pure reducer over
// (state, event) so every transition is testable without timers; the
// Coordinator wires the resulting effects to real adapters and a clock.
package hybrid

import "time"

type SourceKind string

const (
	SourceForeground SourceKind = "foreground"
	SourceBackground SourceKind = "background"
)

type Config struct {
	Debounce       time.Duration
	Grace          time.Duration
	ReadyAccuracyM float64
}

// State is the coordinator's full decision state. Exactly one source is
// authoritative at any instant; the other may keep running but its output is
// not consumed until a handoff merges it.
type State struct {
	Active         SourceKind
	Visible        bool
	LastTransition time.Time
	GracePending   bool
	GraceDeadline  time.Time
	AwaitingReady  bool
}

type Event interface{ isEvent() }

// VisibilityChanged is an app lifecycle transition.
type VisibilityChanged struct {
	Visible bool
	At      time.Time
}

// DebounceElapsed fires when a deferred show event may be re-evaluated.
type DebounceElapsed struct{ At time.Time }

// GraceElapsed fires at the end of the foreground reacquisition window.
// Ready carries whether the foreground adapter has an accurate enough fix.
type GraceElapsed struct {
	At    time.Time
	Ready bool
}

// ForegroundReady fires when an accurate fix arrives after a grace period
// expired without one.
type ForegroundReady struct{ At time.Time }

func (VisibilityChanged) isEvent() {}
func (DebounceElapsed) isEvent()   {}
func (GraceElapsed) isEvent()      {}
func (ForegroundReady) isEvent()   {}

type EffectKind int

const (
	// EffectStopForeground stops consuming foreground fixes immediately.
	EffectStopForeground EffectKind = iota
	// EffectScheduleDebounce asks the runtime to re-raise a deferred show.
	EffectScheduleDebounce
	// EffectScheduleGrace arms the reacquisition window timer.
	EffectScheduleGrace
	// EffectHandoff merges the background total into the session and makes
	// the foreground source authoritative.
	EffectHandoff
)

type Effect struct {
	Kind EffectKind
	At   time.Time
}

// Reduce applies one event. Hiding the app always flips authority to the
// background source at once: the foreground stream dies with visibility, so
// deferring that switch would lose distance. The debounce window only guards
// the show path, where flapping visibility would otherwise restart the grace
// period over and over.
func Reduce(st State, ev Event, cfg Config) (State, []Effect) {
	switch e := ev.(type) {
	case VisibilityChanged:
		st.Visible = e.Visible
		if !e.Visible {
			st.GracePending = false
			st.AwaitingReady = false
			if st.Active == SourceForeground {
				st.Active = SourceBackground
				st.LastTransition = e.At
				return st, []Effect{{Kind: EffectStopForeground, At: e.At}}
			}
			return st, nil
		}
		if st.Active != SourceBackground || st.GracePending || st.AwaitingReady {
			return st, nil
		}
		if !st.LastTransition.IsZero() && e.At.Sub(st.LastTransition) < cfg.Debounce {
			return st, []Effect{{Kind: EffectScheduleDebounce, At: st.LastTransition.Add(cfg.Debounce)}}
		}
		return beginGrace(st, e.At, cfg)

	case DebounceElapsed:
		if !st.Visible || st.Active != SourceBackground || st.GracePending || st.AwaitingReady {
			return st, nil
		}
		return beginGrace(st, e.At, cfg)

	case GraceElapsed:
		if !st.GracePending {
			return st, nil
		}
		st.GracePending = false
		if !st.Visible {
			return st, nil
		}
		if e.Ready {
			return handoff(st, e.At)
		}
		// Not ready yet: stay background-authoritative until a usable fix
		// shows up. There is no upper bound on this wait.
		st.AwaitingReady = true
		return st, nil

	case ForegroundReady:
		if !st.AwaitingReady || !st.Visible || st.Active != SourceBackground {
			return st, nil
		}
		st.AwaitingReady = false
		return handoff(st, e.At)
	}

	return st, nil
}

func beginGrace(st State, at time.Time, cfg Config) (State, []Effect) {
	st.GracePending = true
	st.GraceDeadline = at.Add(cfg.Grace)
	return st, []Effect{{Kind: EffectScheduleGrace, At: st.GraceDeadline}}
}

func handoff(st State, at time.Time) (State, []Effect) {
	st.Active = SourceForeground
	st.LastTransition = at
	return st, []Effect{{Kind: EffectHandoff, At: at}}
}
