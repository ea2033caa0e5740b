package location

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/fix"
)

var ErrBackgroundUnavailable = errors.New("background location service unavailable")

// BackgroundConfig mirrors the platform service's configure call.
type BackgroundConfig struct {
	SessionID string `json:"sessionId"`
	GoalType  string `json:"goalType"`
	Enabled   bool   `json:"enabled"`
}

// StartResult and StopResult mirror the platform service's replies.
type StartResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StopResult struct {
	FinalDistance float64 `json:"finalDistance"`
}

// Update is one push-style locationUpdate event from the platform service.
type Update struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	AccuracyM     float64 `json:"accuracy"`
	SpeedMps      float64 `json:"speed,omitempty"`
	AltitudeM     float64 `json:"altitude,omitempty"`
	DistanceDelta float64 `json:"distanceDelta,omitempty"`
	TotalDistance float64 `json:"totalDistance,omitempty"`
	TimestampMs   int64   `json:"timestamp"`
}

// BackgroundService is the platform background-location boundary.
type BackgroundService interface {
	Configure(ctx context.Context, cfg BackgroundConfig) error
	Start(ctx context.Context) (StartResult, error)
	Stop(ctx context.Context) (StopResult, error)
	AccumulatedDistance(ctx context.Context) (float64, error)
}

// Background wraps the platform service. It is started once at session start
// and runs for the whole session, foregrounded or not; only completion or
// cancellation stops it. That continuity is what makes handoffs lossless:
// the counter keeps advancing while non-authoritative, so a later handoff
// reconciles totals instead of restarting from zero.
type Background struct {
	mu      sync.Mutex
	svc     BackgroundService
	started bool
	onFix   func(fix.Fix)

	acc           *fix.Accumulator
	reportedTotal float64
}

func NewBackground(svc BackgroundService, cfg config.Config) *Background {
	return &Background{svc: svc, acc: fix.NewAccumulator(cfg)}
}

// Available reports whether the platform provides a background service at
// all. When it does not, the coordinator runs foreground-only.
func (b *Background) Available() bool {
	return b.svc != nil
}

func (b *Background) Configure(ctx context.Context, cfg BackgroundConfig) error {
	if b.svc == nil {
		return ErrBackgroundUnavailable
	}
	return b.svc.Configure(ctx, cfg)
}

func (b *Background) Start(ctx context.Context) error {
	if b.svc == nil {
		return ErrBackgroundUnavailable
	}
	res, err := b.svc.Start(ctx)
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New("background service rejected start: " + res.Message)
	}
	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	return nil
}

func (b *Background) Stop() {
	b.mu.Lock()
	started := b.started
	b.started = false
	b.mu.Unlock()
	if !started || b.svc == nil {
		return
	}
	res, err := b.svc.Stop(context.Background())
	if err != nil {
		log.Printf("background stop failed: %v", err)
		return
	}
	b.mu.Lock()
	if res.FinalDistance > b.reportedTotal {
		b.reportedTotal = res.FinalDistance
	}
	b.mu.Unlock()
}

func (b *Background) OnFix(fn func(fix.Fix)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFix = fn
}

// Ingest consumes one pushed locationUpdate. The service's own total is
// trusted when present (monotonic max); otherwise the raw fix runs through
// the adapter's accumulator so both transports yield a usable counter.
func (b *Background) Ingest(u Update) {
	fx := fix.Fix{
		Latitude:  u.Latitude,
		Longitude: u.Longitude,
		AccuracyM: u.AccuracyM,
		SpeedMps:  u.SpeedMps,
		AltitudeM: u.AltitudeM,
		Timestamp: msToTime(u.TimestampMs),
	}

	b.mu.Lock()
	started := b.started
	cb := b.onFix
	if u.TotalDistance > b.reportedTotal {
		b.reportedTotal = u.TotalDistance
	}
	b.mu.Unlock()

	if !started {
		return
	}

	b.acc.Process(fx)
	if cb != nil {
		cb(fx)
	}
}

// AccumulatedDistance returns the larger of the service-reported counter and
// the locally accumulated one.
func (b *Background) AccumulatedDistance() float64 {
	b.mu.Lock()
	reported := b.reportedTotal
	b.mu.Unlock()

	if local := b.acc.Total(); local > reported {
		return local
	}
	return reported
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// Refresh polls the platform service for its counter. Errors are swallowed:
// the cached total stays valid and the next poll retries.
func (b *Background) Refresh(ctx context.Context) {
	if b.svc == nil {
		return
	}
	d, err := b.svc.AccumulatedDistance(ctx)
	if err != nil {
		return
	}
	b.mu.Lock()
	if d > b.reportedTotal {
		b.reportedTotal = d
	}
	b.mu.Unlock()
}
