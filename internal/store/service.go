package store

import (
	"context"
	"time"

	"backend-stridetrack/internal/db"

	"github.com/google/uuid"
)

// Service owns durable session rows and their append-only snapshots.
type Service struct {
	db db.Querier
}

func NewService(q db.Querier) *Service {
	return &Service{db: q}
}

// CreateSession inserts a new session row and returns its id.
func (s *Service) CreateSession(ctx context.Context, userID, goalType string, goalTarget float64) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO training_sessions (id, user_id, goal_type, goal_target, status, started_at)
		VALUES ($1,$2,$3,$4,'active',$5)
	`, id, userID, goalType, goalTarget, time.Now())
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateStatus moves a session between lifecycle states.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE training_sessions SET status=$2 WHERE id=$1
	`, id, status)
	return err
}

// Finalize freezes the completed session's metrics. Called once; the row is
// immutable afterwards by convention.
func (s *Service) Finalize(ctx context.Context, id string, m FinalMetrics) error {
	_, err := s.db.Exec(ctx, `
		UPDATE training_sessions
		SET status='completed', completed_at=$2, total_distance_m=$3,
		    total_duration_s=$4, avg_pace_min_km=$5, calories=$6,
		    goal_achieved=$7, subjective_feedback=$8
		WHERE id=$1
	`, id, time.Now(), m.DistanceM, m.DurationSec, m.AvgPaceMinKm, m.Calories, m.GoalAchieved, m.SubjectiveFeedback)
	return err
}

// InsertSnapshot appends one performance snapshot. Retry-safe: the caller
// simply tries again on the next tick if this fails.
func (s *Service) InsertSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO performance_snapshots
			(session_id, distance_m, duration_s, pace_min_km, heart_rate,
			 latitude, longitude, calories, deviation_from_target, source, captured_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, snap.SessionID, snap.DistanceM, snap.DurationSec, snap.PaceMinKm, snap.HeartRate,
		snap.Latitude, snap.Longitude, snap.Calories, snap.Deviation, snap.Source, snap.CapturedAt)
	return err
}
