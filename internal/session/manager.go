// Package session is the engine: it owns the single live workout, drives the
// tick/snapshot/persist loops, coordinates the location sources and decides
// when the run is over.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"backend-stridetrack/internal/coach"
	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/fix"
	"backend-stridetrack/internal/hibernation"
	"backend-stridetrack/internal/hybrid"
	"backend-stridetrack/internal/location"
	"backend-stridetrack/internal/recovery"
	"backend-stridetrack/internal/shared/geo"
	"backend-stridetrack/internal/store"
	"backend-stridetrack/internal/stream"

	"github.com/benbjohnson/clock"
)

// Store is the durable-row boundary the engine writes through.
type Store interface {
	CreateSession(ctx context.Context, userID, goalType string, goalTarget float64) (string, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Finalize(ctx context.Context, id string, m store.FinalMetrics) error
	InsertSnapshot(ctx context.Context, snap store.Snapshot) error
}

// Publisher pushes live events to stream listeners.
type Publisher interface {
	Publish(ev stream.Event)
}

// Deps are the engine's injected collaborators. Background may be nil; the
// engine then runs foreground-only.
type Deps struct {
	Store      Store
	Recovery   recovery.Repository
	Hub        Publisher
	Coach      coach.Generator
	Sink       coach.Sink
	Background location.BackgroundService
}

// Manager runs at most one session at a time, mirroring the one-device,
// one-workout model. All timers run off the injected clock.
type Manager struct {
	cfg  config.Config
	clk  clock.Clock
	deps Deps

	mu    sync.Mutex
	sess  *Session
	fg    *location.Foreground
	bg    *location.Background
	coord *hybrid.Coordinator
	det   *hibernation.Detector

	watermark  int
	lastLat    float64
	lastLon    float64
	completing bool
	stopped    bool
	finalMet   *Metrics

	tickT    *clock.Ticker
	snapT    *clock.Ticker
	persistT *clock.Ticker
	done     chan struct{}
}

func NewManager(cfg config.Config, clk clock.Clock, deps Deps) *Manager {
	if deps.Coach == nil {
		deps.Coach = coach.NopGenerator{}
	}
	if deps.Sink == nil {
		deps.Sink = coach.LogSink{}
	}
	return &Manager{cfg: cfg, clk: clk, deps: deps}
}

// Start creates the session row, brings up both location sources and arms the
// engine loops. A background service that exists but refuses to start aborts
// the whole session: silently degrading would lose every backgrounded meter.
func (m *Manager) Start(ctx context.Context, userID string, goal Goal) (*Session, error) {
	if !goal.Valid() {
		return nil, errors.New("invalid goal")
	}

	m.mu.Lock()
	if m.sess != nil && (m.sess.Status == StatusActive || m.sess.Status == StatusPaused) {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.mu.Unlock()

	id, err := m.deps.Store.CreateSession(ctx, userID, string(goal.Type), goal.Target)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        id,
		UserID:    userID,
		Goal:      goal,
		Status:    StatusActive,
		StartedAt: m.clk.Now(),
	}

	if err := m.bringUp(ctx, sess, 0, 0); err != nil {
		if serr := m.deps.Store.UpdateStatus(ctx, id, string(StatusCancelled)); serr != nil {
			log.Printf("session %s: cancel after failed start: %v", id, serr)
		}
		return nil, err
	}

	m.publishStatus(sess, "started")
	return sess, nil
}

// bringUp wires adapters, coordinator, hibernation detector and loops for a
// new or recovered session. restoredDistance and watermark seed the counters.
func (m *Manager) bringUp(ctx context.Context, sess *Session, restoredDistance float64, watermark int) error {
	fg := location.NewForeground(m.cfg)
	if err := fg.Start(ctx); err != nil {
		return err
	}
	if restoredDistance > 0 {
		fg.Accumulator().Restore(restoredDistance)
	}

	var bg *location.Background
	if m.deps.Background != nil {
		bg = location.NewBackground(m.deps.Background, m.cfg)
		if err := bg.Configure(ctx, location.BackgroundConfig{
			SessionID: sess.ID,
			GoalType:  string(sess.Goal.Type),
			Enabled:   true,
		}); err != nil {
			return err
		}
		if err := bg.Start(ctx); err != nil {
			return err
		}
	}

	coord := hybrid.NewCoordinator(hybrid.Config{
		Debounce:       m.cfg.VisibilityDebounce,
		Grace:          m.cfg.HandoffGrace,
		ReadyAccuracyM: m.cfg.ReadyAccuracyM,
	}, m.clk, fg, bg, m.mergeBackgroundTotal)
	coord.Start()

	det := hibernation.NewDetector(hibernation.Config{
		Poll: m.cfg.HibernationPoll,
		Gap:  m.cfg.HibernationGap,
	}, m.clk)
	det.OnHibernate(func(gap time.Duration) {
		log.Printf("session %s: hibernation detected after %s of silence", sess.ID, gap)
		m.persistRecovery()
	})
	det.OnRecover(func(slept time.Duration) {
		log.Printf("session %s: recovered after sleeping %s", sess.ID, slept)
		m.persistRecovery()
	})
	det.Start()

	done := make(chan struct{})
	tickT := m.clk.Ticker(m.cfg.TickInterval)
	snapT := m.clk.Ticker(m.cfg.SnapshotInterval)
	persistT := m.clk.Ticker(m.cfg.PersistInterval)

	m.mu.Lock()
	m.sess = sess
	m.fg = fg
	m.bg = bg
	m.coord = coord
	m.det = det
	m.watermark = watermark
	m.completing = false
	m.stopped = false
	m.finalMet = nil
	m.tickT, m.snapT, m.persistT = tickT, snapT, persistT
	m.done = done
	m.mu.Unlock()

	go m.runLoop(tickT, snapT, persistT, done)
	return nil
}

func (m *Manager) runLoop(tickT, snapT, persistT *clock.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-tickT.C:
			m.onTick()
		case <-snapT.C:
			m.onSnapshot()
		case <-persistT.C:
			m.persistRecovery()
		}
	}
}

// mergeBackgroundTotal is the handoff sink: the coordinator hands over the
// background counter exactly once per handoff. The coaching watermark jumps
// forward with the total so milestones covered while backgrounded are not
// announced retroactively.
func (m *Manager) mergeBackgroundTotal(total float64, at time.Time) {
	m.mu.Lock()
	fg := m.fg
	m.mu.Unlock()
	if fg == nil {
		return
	}
	fg.Accumulator().Merge(total, at)

	m.mu.Lock()
	if m.cfg.CoachingIntervalM > 0 {
		if segs := int(fg.Accumulator().Total() / m.cfg.CoachingIntervalM); segs > m.watermark {
			m.watermark = segs
		}
	}
	m.mu.Unlock()
}

func (m *Manager) onTick() {
	m.mu.Lock()
	sess := m.sess
	if sess == nil || sess.Status != StatusActive {
		m.mu.Unlock()
		return
	}
	fg, bg, coord := m.fg, m.bg, m.coord
	m.mu.Unlock()

	// While backgrounded the platform counter is authoritative; the session
	// total shadows it with max semantics.
	if bg != nil && coord.ActiveSource() == hybrid.SourceBackground {
		fg.Accumulator().Lift(bg.AccumulatedDistance())
	}

	met := m.Metrics()
	if met.SessionID == "" {
		return
	}

	var coachSeg int
	var autoDone bool
	m.mu.Lock()
	if m.sess == sess && sess.Status == StatusActive {
		if m.cfg.CoachingIntervalM > 0 {
			if segs := int(met.DistanceM / m.cfg.CoachingIntervalM); segs > m.watermark {
				m.watermark = segs
				coachSeg = segs
			}
		}
		if sess.Goal.autoCompletes() && !m.completing &&
			sess.Goal.achieved(met.DistanceM, met.DurationSec, met.Calories, met.PaceMinKm) {
			m.completing = true
			autoDone = true
		}
	}
	m.mu.Unlock()

	m.deps.Hub.Publish(stream.Event{
		Kind:      "metrics",
		SessionID: met.SessionID,
		At:        m.clk.Now(),
		Payload:   met,
	})

	if coachSeg > 0 {
		go m.fireCoaching(sess, met, coachSeg)
	}
	if autoDone {
		go func() {
			if _, err := m.Complete(context.Background(), 0); err != nil {
				log.Printf("session %s: auto-complete: %v", sess.ID, err)
			}
		}()
	}
}

// fireCoaching asks the generator for a message and delivers it best-effort.
// Runs off the tick loop; a slow or dead coaching endpoint never stalls the
// engine.
func (m *Manager) fireCoaching(sess *Session, met Metrics, segment int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg, err := m.deps.Coach.Generate(ctx, coach.Metrics{
		SessionID:   sess.ID,
		DistanceM:   met.DistanceM,
		DurationSec: met.DurationSec,
		PaceMinKm:   met.PaceMinKm,
		Calories:    met.Calories,
	}, string(sess.Goal.Type), coach.SegmentStats{
		Index:       segment,
		DurationSec: met.DurationSec,
		PaceMinKm:   met.PaceMinKm,
	})
	if err != nil {
		log.Printf("session %s: coaching segment %d: %v", sess.ID, segment, err)
		return
	}
	if msg == nil {
		return
	}

	m.deps.Sink.Speak(msg.Text)
	m.deps.Hub.Publish(stream.Event{
		Kind:      "coaching",
		SessionID: sess.ID,
		At:        m.clk.Now(),
		Payload:   map[string]any{"segment": segment, "text": msg.Text},
	})
}

func (m *Manager) onSnapshot() {
	m.mu.Lock()
	sess := m.sess
	lat, lon := m.lastLat, m.lastLon
	var source string
	if m.coord != nil {
		source = string(m.coord.ActiveSource())
	}
	m.mu.Unlock()
	if sess == nil || sess.Status != StatusActive {
		return
	}

	met := m.Metrics()
	var deviation float64
	if sess.Goal.Type == GoalTargetPace && met.PaceMinKm > 0 {
		deviation = met.PaceMinKm - sess.Goal.Target
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.deps.Store.InsertSnapshot(ctx, store.Snapshot{
		SessionID:   sess.ID,
		DistanceM:   met.DistanceM,
		DurationSec: met.DurationSec,
		PaceMinKm:   met.PaceMinKm,
		Latitude:    lat,
		Longitude:   lon,
		Calories:    met.Calories,
		Deviation:   deviation,
		Source:      source,
		CapturedAt:  m.clk.Now(),
	})
	if err != nil {
		// Next interval retries; snapshots are append-only samples, a gap is
		// acceptable.
		log.Printf("session %s: snapshot insert: %v", sess.ID, err)
	}
}

func (m *Manager) persistRecovery() {
	m.mu.Lock()
	sess := m.sess
	if sess == nil || (sess.Status != StatusActive && sess.Status != StatusPaused) {
		m.mu.Unlock()
		return
	}
	payload := persistedSession{
		ID:        sess.ID,
		UserID:    sess.UserID,
		Goal:      sess.Goal,
		Status:    sess.Status,
		StartedAt: sess.StartedAt,
		PausedMs:  sess.pausedTotal.Milliseconds(),
		PausedAt:  sess.pausedAt,
		Watermark: m.watermark,
		LastLat:   m.lastLat,
		LastLon:   m.lastLon,
	}
	dist := m.fg.Accumulator().Total()
	status := sess.Status
	m.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("session %s: marshal recovery record: %v", sess.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = m.deps.Recovery.Save(ctx, recovery.Record{
		Session:     raw,
		IsRecording: status == StatusActive,
		DistanceM:   dist,
		Status:      string(status),
		SavedAt:     m.clk.Now(),
	})
	if err != nil {
		log.Printf("session %s: save recovery record: %v", sess.ID, err)
	}
}

// PushFix feeds one foreground geolocation fix.
func (m *Manager) PushFix(fx fix.Fix) error {
	m.mu.Lock()
	sess, fg, coord, det := m.sess, m.fg, m.coord, m.det
	if sess != nil && fx.Valid() {
		m.lastLat, m.lastLon = fx.Latitude, fx.Longitude
	}
	m.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}

	if err := fg.Push(fx); err != nil {
		return err
	}
	coord.NoteForegroundFix(fx.AccuracyM)
	det.Touch()
	return nil
}

// PushBackgroundUpdate feeds one platform background locationUpdate.
func (m *Manager) PushBackgroundUpdate(u location.Update) error {
	m.mu.Lock()
	sess, bg, det := m.sess, m.bg, m.det
	if sess != nil {
		m.lastLat, m.lastLon = u.Latitude, u.Longitude
	}
	m.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}
	if bg == nil {
		return location.ErrBackgroundUnavailable
	}

	bg.Ingest(u)
	det.Touch()
	return nil
}

// SetVisibility reports an app show/hide transition.
func (m *Manager) SetVisibility(visible bool) error {
	m.mu.Lock()
	sess, coord, det := m.sess, m.coord, m.det
	m.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}

	coord.SetVisibility(visible)
	det.Touch()
	return nil
}

// Pause freezes duration accrual. Pausing a non-active session is an error;
// pausing twice is not a state change.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if sess.Status != StatusActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	sess.Status = StatusPaused
	sess.pausedAt = m.clk.Now()
	m.mu.Unlock()

	if err := m.deps.Store.UpdateStatus(ctx, sess.ID, string(StatusPaused)); err != nil {
		log.Printf("session %s: persist pause: %v", sess.ID, err)
	}
	m.publishStatus(sess, "paused")
	return nil
}

// Resume closes the open pause span.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if sess.Status != StatusPaused {
		m.mu.Unlock()
		return ErrNotPaused
	}
	sess.pausedTotal += m.clk.Now().Sub(sess.pausedAt)
	sess.pausedAt = time.Time{}
	sess.Status = StatusActive
	m.mu.Unlock()

	if err := m.deps.Store.UpdateStatus(ctx, sess.ID, string(StatusActive)); err != nil {
		log.Printf("session %s: persist resume: %v", sess.ID, err)
	}
	m.publishStatus(sess, "resumed")
	return nil
}

// Complete finishes the run: sources stop first so no fix can land after the
// final total is read, then the row is finalized and the recovery record
// cleared. The session detaches only after the row write succeeds, so a
// failed finalize can be retried; it is immutable afterwards.
func (m *Manager) Complete(ctx context.Context, subjectiveFeedback int) (store.FinalMetrics, error) {
	sess, met, err := m.shutdownEngine()
	if err != nil {
		return store.FinalMetrics{}, err
	}

	final := store.FinalMetrics{
		DistanceM:          met.DistanceM,
		DurationSec:        met.DurationSec,
		AvgPaceMinKm:       met.PaceMinKm,
		Calories:           met.Calories,
		GoalAchieved:       sess.Goal.achieved(met.DistanceM, met.DurationSec, met.Calories, met.PaceMinKm),
		SubjectiveFeedback: subjectiveFeedback,
	}

	if err := m.deps.Store.Finalize(ctx, sess.ID, final); err != nil {
		return store.FinalMetrics{}, err
	}

	m.mu.Lock()
	sess.Status = StatusCompleted
	m.mu.Unlock()
	m.detach()

	if err := m.deps.Recovery.Clear(ctx); err != nil {
		log.Printf("session %s: clear recovery record: %v", sess.ID, err)
	}
	m.publishStatus(sess, "completed")
	return final, nil
}

// Cancel discards the run without final metrics.
func (m *Manager) Cancel(ctx context.Context) error {
	sess, _, err := m.shutdownEngine()
	if err != nil {
		return err
	}

	m.mu.Lock()
	sess.Status = StatusCancelled
	m.mu.Unlock()
	m.detach()

	if err := m.deps.Store.UpdateStatus(ctx, sess.ID, string(StatusCancelled)); err != nil {
		log.Printf("session %s: persist cancel: %v", sess.ID, err)
	}
	if err := m.deps.Recovery.Clear(ctx); err != nil {
		log.Printf("session %s: clear recovery record: %v", sess.ID, err)
	}
	m.publishStatus(sess, "cancelled")
	return nil
}

// shutdownEngine stops adapters before timers so the last metrics read is
// final, and freezes that read. The session stays attached; calling it again
// after a failed finalize reuses the frozen metrics without touching the
// already-stopped machinery.
func (m *Manager) shutdownEngine() (*Session, Metrics, error) {
	m.mu.Lock()
	sess := m.sess
	if sess == nil {
		m.mu.Unlock()
		return nil, Metrics{}, ErrNoSession
	}
	if sess.Status != StatusActive && sess.Status != StatusPaused {
		m.mu.Unlock()
		return nil, Metrics{}, ErrImmutable
	}
	if sess.Status == StatusPaused {
		sess.pausedTotal += m.clk.Now().Sub(sess.pausedAt)
		sess.pausedAt = time.Time{}
		sess.Status = StatusActive
	}
	alreadyStopped := m.stopped
	m.stopped = true
	fg, bg, coord, det := m.fg, m.bg, m.coord, m.det
	done := m.done
	tickT, snapT, persistT := m.tickT, m.snapT, m.persistT
	m.mu.Unlock()

	if !alreadyStopped {
		coord.Stop()
		if bg != nil {
			bg.Stop()
			fg.Accumulator().Lift(bg.AccumulatedDistance())
		}
		fg.Stop()
		det.Stop()

		close(done)
		tickT.Stop()
		snapT.Stop()
		persistT.Stop()

		met := m.metricsFor(sess, fg)
		m.mu.Lock()
		m.finalMet = &met
		m.mu.Unlock()
	}

	m.mu.Lock()
	met := *m.finalMet
	m.mu.Unlock()
	return sess, met, nil
}

func (m *Manager) detach() {
	m.mu.Lock()
	m.sess = nil
	m.fg, m.bg, m.coord, m.det = nil, nil, nil, nil
	m.done = nil
	m.finalMet = nil
	m.mu.Unlock()
}

// Current returns the live session, or ErrNoSession.
func (m *Manager) Current() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, ErrNoSession
	}
	return m.sess, nil
}

// Metrics computes the live view: duration excludes paused spans, pace and
// calories derive from the single distance total.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	sess, fg := m.sess, m.fg
	m.mu.Unlock()
	if sess == nil {
		return Metrics{}
	}
	return m.metricsFor(sess, fg)
}

func (m *Manager) metricsFor(sess *Session, fg *location.Foreground) Metrics {
	now := m.clk.Now()

	m.mu.Lock()
	dur := sess.activeDuration(now)
	status := sess.Status
	goal := sess.Goal
	var source string
	if m.coord != nil {
		source = string(m.coord.ActiveSource())
	} else {
		source = string(hybrid.SourceForeground)
	}
	m.mu.Unlock()

	dist := fg.Accumulator().Total()
	durSec := int64(dur.Seconds())
	pace := geo.PaceMinPerKm(dist, float64(durSec))
	cal := geo.Calories(dist/1000, dur.Minutes(), m.cfg.BodyWeightKg)

	return Metrics{
		SessionID:    sess.ID,
		Status:       status,
		DistanceM:    math.Round(dist*10) / 10,
		DurationSec:  durSec,
		PaceMinKm:    pace,
		Calories:     cal,
		GoalProgress: goal.progress(dist, durSec, cal, pace),
		Source:       source,
	}
}

// PendingRecovery returns the stored record if one exists inside the
// recovery window. Stale or terminal records are cleared on sight.
func (m *Manager) PendingRecovery(ctx context.Context) (recovery.Record, error) {
	rec, err := m.deps.Recovery.Load(ctx)
	if err != nil {
		return recovery.Record{}, err
	}
	if recovery.Expired(rec, m.cfg.RecoveryWindow, m.clk.Now()) {
		if cerr := m.deps.Recovery.Clear(ctx); cerr != nil {
			log.Printf("clear stale recovery record: %v", cerr)
		}
		return recovery.Record{}, ErrRecoveryExpired
	}
	return rec, nil
}

// AcceptRecovery rebuilds the engine from the stored record and resumes
// recording under the original session id.
func (m *Manager) AcceptRecovery(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.sess != nil && (m.sess.Status == StatusActive || m.sess.Status == StatusPaused) {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.mu.Unlock()

	rec, err := m.PendingRecovery(ctx)
	if err != nil {
		return nil, err
	}

	var p persistedSession
	if err := json.Unmarshal(rec.Session, &p); err != nil {
		return nil, err
	}

	sess := &Session{
		ID:          p.ID,
		UserID:      p.UserID,
		Goal:        p.Goal,
		Status:      StatusActive,
		StartedAt:   p.StartedAt,
		pausedTotal: time.Duration(p.PausedMs) * time.Millisecond,
	}
	// Time spent dead counts as paused, not moving. A session that was
	// paused at the crash comes back paused: its open pause span is closed
	// at the save point and reopened there, so the dead time lands inside
	// the span and duration stays frozen until the user resumes.
	if p.Status == StatusPaused && !p.PausedAt.IsZero() {
		sess.pausedTotal += rec.SavedAt.Sub(p.PausedAt)
		sess.Status = StatusPaused
		sess.pausedAt = rec.SavedAt
	} else {
		sess.pausedTotal += m.clk.Now().Sub(rec.SavedAt)
	}

	if err := m.bringUp(ctx, sess, rec.DistanceM, p.Watermark); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.lastLat, m.lastLon = p.LastLat, p.LastLon
	m.mu.Unlock()

	if err := m.deps.Store.UpdateStatus(ctx, sess.ID, string(sess.Status)); err != nil {
		log.Printf("session %s: persist recovered status: %v", sess.ID, err)
	}
	m.publishStatus(sess, "recovered")
	return sess, nil
}

// DiscardRecovery drops the stored record and closes out its session row.
func (m *Manager) DiscardRecovery(ctx context.Context) error {
	rec, err := m.deps.Recovery.Load(ctx)
	if err != nil && !errors.Is(err, recovery.ErrNotFound) {
		return err
	}
	if err == nil {
		var p persistedSession
		if jerr := json.Unmarshal(rec.Session, &p); jerr == nil && p.ID != "" {
			if serr := m.deps.Store.UpdateStatus(ctx, p.ID, string(StatusCancelled)); serr != nil {
				log.Printf("session %s: cancel discarded session: %v", p.ID, serr)
			}
		}
	}
	return m.deps.Recovery.Clear(ctx)
}

func (m *Manager) publishStatus(sess *Session, event string) {
	m.mu.Lock()
	status := sess.Status
	m.mu.Unlock()
	m.deps.Hub.Publish(stream.Event{
		Kind:      "status",
		SessionID: sess.ID,
		At:        m.clk.Now(),
		Payload:   map[string]any{"event": event, "status": status},
	})
}
