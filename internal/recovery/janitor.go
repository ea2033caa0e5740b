package recovery

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically drops recovery records that aged past the window or
// settled into a terminal status. Redis TTLs already bound the worst case;
// the janitor keeps a dead record from being offered inside that slack.
type Janitor struct {
	repo   Repository
	window time.Duration
	cron   *cron.Cron
}

func NewJanitor(repo Repository, window time.Duration) *Janitor {
	return &Janitor{repo: repo, window: window, cron: cron.New()}
}

func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc("@every 1m", j.sweep)
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

func (j *Janitor) Stop() {
	j.cron.Stop()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := j.repo.Load(ctx)
	if err != nil {
		return
	}
	if Expired(rec, j.window, time.Now()) {
		if err := j.repo.Clear(ctx); err != nil {
			log.Printf("recovery janitor clear failed: %v", err)
		}
	}
}

// Expired reports whether a record must not be offered for recovery: too old
// or already in a terminal status.
func Expired(rec Record, window time.Duration, now time.Time) bool {
	if rec.Status == "completed" || rec.Status == "cancelled" {
		return true
	}
	return now.Sub(rec.SavedAt) > window
}
