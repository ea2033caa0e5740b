package store

import "time"

// Snapshot is one append-only performance sample: taken on a fixed wall
// clock interval and at every coaching milestone, never mutated.
type Snapshot struct {
	SessionID   string    `json:"session_id"`
	DistanceM   float64   `json:"distance_m"`
	DurationSec int64     `json:"duration_sec"`
	PaceMinKm   float64   `json:"pace_min_km"`
	HeartRate   int       `json:"heart_rate,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Calories    int       `json:"calories"`
	Deviation   float64   `json:"deviation_from_target"`
	Source      string    `json:"source"`
	CapturedAt  time.Time `json:"captured_at"`
}

// FinalMetrics is written exactly once when a session completes.
type FinalMetrics struct {
	DistanceM          float64 `json:"distance_m"`
	DurationSec        int64   `json:"duration_sec"`
	AvgPaceMinKm       float64 `json:"avg_pace_min_km"`
	Calories           int     `json:"calories"`
	GoalAchieved       bool    `json:"goal_achieved"`
	SubjectiveFeedback int     `json:"subjective_feedback,omitempty"`
}
