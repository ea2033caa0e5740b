package session

import (
	"errors"
	"time"
)

var (
	ErrNoSession       = errors.New("no active session")
	ErrSessionActive   = errors.New("a session is already active")
	ErrNotActive       = errors.New("session is not active")
	ErrNotPaused       = errors.New("session is not paused")
	ErrImmutable       = errors.New("session already finished")
	ErrRecoveryExpired = errors.New("recovery record expired")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type GoalType string

const (
	GoalFreeRun        GoalType = "free_run"
	GoalTargetDistance GoalType = "target_distance"
	GoalTargetPace     GoalType = "target_pace"
	GoalTargetDuration GoalType = "target_duration"
	GoalTargetCalories GoalType = "target_calories"
)

// Goal pairs a type with its numeric target. The unit depends on the type:
// meters for distance, min/km for pace, seconds for duration, kcal for
// calories. Free runs carry no target.
type Goal struct {
	Type   GoalType `json:"type"`
	Target float64  `json:"target,omitempty"`
}

func (g Goal) Valid() bool {
	switch g.Type {
	case GoalFreeRun:
		return true
	case GoalTargetDistance, GoalTargetPace, GoalTargetDuration, GoalTargetCalories:
		return g.Target > 0
	}
	return false
}

// autoCompletes reports whether reaching the target ends the session on its
// own. Pace goals never auto-complete: pace is evaluated over the whole run,
// so hitting it mid-session means nothing.
func (g Goal) autoCompletes() bool {
	switch g.Type {
	case GoalTargetDistance, GoalTargetDuration, GoalTargetCalories:
		return true
	}
	return false
}

// Session is the live run. Distance lives in the accumulator, not here; this
// struct carries identity, goal and lifecycle bookkeeping.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Goal      Goal      `json:"goal"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`

	// pausedTotal is the sum of all closed pause spans; pausedAt marks the
	// open one while paused.
	pausedTotal time.Duration
	pausedAt    time.Time
}

// Metrics is the live view computed every tick and returned to clients.
type Metrics struct {
	SessionID    string  `json:"session_id"`
	Status       Status  `json:"status"`
	DistanceM    float64 `json:"distance_m"`
	DurationSec  int64   `json:"duration_sec"`
	PaceMinKm    float64 `json:"pace_min_km"`
	Calories     int     `json:"calories"`
	GoalProgress float64 `json:"goal_progress,omitempty"`
	Source       string  `json:"source"`
}

// activeDuration is the elapsed time excluding paused spans.
func (s *Session) activeDuration(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt) - s.pausedTotal
	if s.Status == StatusPaused {
		d -= now.Sub(s.pausedAt)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// progress maps current metrics onto the goal as a 0-100 percentage. Pace
// goals report how close the current pace is to target rather than a share
// of a total.
func (g Goal) progress(distanceM float64, durationSec int64, calories int, paceMinKm float64) float64 {
	var p float64
	switch g.Type {
	case GoalTargetDistance:
		p = distanceM / g.Target * 100
	case GoalTargetDuration:
		p = float64(durationSec) / g.Target * 100
	case GoalTargetCalories:
		p = float64(calories) / g.Target * 100
	case GoalTargetPace:
		if paceMinKm <= 0 {
			return 0
		}
		p = g.Target / paceMinKm * 100
	default:
		return 0
	}
	if p > 100 {
		p = 100
	}
	return p
}

// achieved evaluates the goal against final metrics.
func (g Goal) achieved(distanceM float64, durationSec int64, calories int, avgPaceMinKm float64) bool {
	switch g.Type {
	case GoalTargetDistance:
		return distanceM >= g.Target
	case GoalTargetDuration:
		return float64(durationSec) >= g.Target
	case GoalTargetCalories:
		return float64(calories) >= g.Target
	case GoalTargetPace:
		return avgPaceMinKm > 0 && avgPaceMinKm <= g.Target
	}
	return false
}

// persistedSession is the JSON payload embedded in a recovery record. Enough
// to rebuild the Session and the engine's derived counters after a restart.
type persistedSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Goal      Goal      `json:"goal"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	PausedMs  int64     `json:"paused_ms"`
	PausedAt  time.Time `json:"paused_at,omitempty"`
	Watermark int       `json:"watermark"`
	LastLat   float64   `json:"last_lat,omitempty"`
	LastLon   float64   `json:"last_lon,omitempty"`
}
