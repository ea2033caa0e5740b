package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
)

func TestCreateSession(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO training_sessions`).
		WithArgs(pgxmock.AnyArg(), "user-1", "target_distance", 5000.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService(mock)
	id, err := svc.CreateSession(context.Background(), "user-1", "target_distance", 5000)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if id == "" {
		t.Fatalf("expected session id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateSessionError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO training_sessions`).
		WithArgs(pgxmock.AnyArg(), "user-1", "free_run", 0.0, pgxmock.AnyArg()).
		WillReturnError(errStore)

	svc := NewService(mock)
	_, err = svc.CreateSession(context.Background(), "user-1", "free_run", 0)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestUpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`UPDATE training_sessions SET status`).
		WithArgs("sess-1", "paused").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	svc := NewService(mock)
	if err := svc.UpdateStatus(context.Background(), "sess-1", "paused"); err != nil {
		t.Fatalf("update status: %v", err)
	}
}

func TestFinalize(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`UPDATE training_sessions`).
		WithArgs("sess-1", pgxmock.AnyArg(), 5200.0, int64(1800), 5.77, 412, true, 4).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	svc := NewService(mock)
	err = svc.Finalize(context.Background(), "sess-1", FinalMetrics{
		DistanceM:          5200,
		DurationSec:        1800,
		AvgPaceMinKm:       5.77,
		Calories:           412,
		GoalAchieved:       true,
		SubjectiveFeedback: 4,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func TestInsertSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	now := time.Now()
	mock.ExpectExec(`INSERT INTO performance_snapshots`).
		WithArgs("sess-1", 1500.0, int64(540), 6.0, 0, -23.55, -46.63, 110, 0.0, "foreground", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc := NewService(mock)
	err = svc.InsertSnapshot(context.Background(), Snapshot{
		SessionID:   "sess-1",
		DistanceM:   1500,
		DurationSec: 540,
		PaceMinKm:   6.0,
		Latitude:    -23.55,
		Longitude:   -46.63,
		Calories:    110,
		Source:      "foreground",
		CapturedAt:  now,
	})
	if err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}
}

func TestInsertSnapshotError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO performance_snapshots`).
		WillReturnError(errStore)

	svc := NewService(mock)
	err = svc.InsertSnapshot(context.Background(), Snapshot{SessionID: "sess-1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

var errStore = errors.New("store error")
