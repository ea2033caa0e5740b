package hybrid

import (
	"context"
	"testing"
	"time"

	"backend-stridetrack/internal/config"
	"backend-stridetrack/internal/fix"
	"backend-stridetrack/internal/location"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accCfg() config.Config {
	return config.Config{
		JitterCapM:        3.0,
		MicroBufferFloorM: 1.0,
		MicroBufferM:      5.0,
		FallbackMinSpeed:  0.5,
		FallbackMaxGap:    5 * time.Second,
		FallbackMinM:      1.0,
		FallbackMaxM:      20.0,
		FallbackCooldown:  10 * time.Second,
	}
}

type stubBackground struct {
	total float64
}

func (s *stubBackground) Configure(context.Context, location.BackgroundConfig) error {
	return nil
}
func (s *stubBackground) Start(context.Context) (location.StartResult, error) {
	return location.StartResult{Success: true}, nil
}
func (s *stubBackground) Stop(context.Context) (location.StopResult, error) {
	return location.StopResult{FinalDistance: s.total}, nil
}
func (s *stubBackground) AccumulatedDistance(context.Context) (float64, error) {
	return s.total, nil
}

func newRig(t *testing.T) (*Coordinator, *clock.Mock, *location.Foreground, *location.Background, *[]float64) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	fg := location.NewForeground(accCfg())
	require.NoError(t, fg.Start(context.Background()))
	bg := location.NewBackground(&stubBackground{}, accCfg())
	require.NoError(t, bg.Start(context.Background()))

	var merges []float64
	coord := NewCoordinator(cfg, mock, fg, bg, func(total float64, _ time.Time) {
		merges = append(merges, total)
	})
	coord.Start()
	return coord, mock, fg, bg, &merges
}

func readyFix(accuracy float64, ts time.Time) fix.Fix {
	return fix.Fix{Latitude: 1, Longitude: 1, AccuracyM: accuracy, Timestamp: ts}
}

func TestCoordinatorStartsForegroundAuthoritative(t *testing.T) {
	coord, _, fg, _, _ := newRig(t)
	defer coord.Stop()
	assert.Equal(t, SourceForeground, coord.ActiveSource())

	require.NoError(t, fg.Push(readyFix(5, time.Now())))
	require.NoError(t, fg.Push(fix.Fix{Latitude: 1.0001, Longitude: 1.0001, AccuracyM: 5, Timestamp: time.Now().Add(5 * time.Second)}))
	assert.Greater(t, fg.AccumulatedDistance(), 0.0)
}

func TestCoordinatorHandoffMergesOnce(t *testing.T) {
	coord, mock, fg, bg, merges := newRig(t)
	defer coord.Stop()

	coord.SetVisibility(false)
	assert.Equal(t, SourceBackground, coord.ActiveSource())

	// Background keeps counting while the app is hidden.
	bg.Ingest(location.Update{Latitude: 1, Longitude: 1, AccuracyM: 5, TotalDistance: 650})

	mock.Add(30 * time.Second)
	coord.SetVisibility(true)

	// Foreground reacquires an accurate fix inside the grace window.
	require.NoError(t, fg.Push(readyFix(10, mock.Now())))
	mock.Add(7 * time.Second)

	assert.Equal(t, SourceForeground, coord.ActiveSource())
	require.Len(t, *merges, 1)
	assert.Equal(t, 650.0, (*merges)[0])
}

func TestCoordinatorStaysBackgroundUntilReady(t *testing.T) {
	coord, mock, fg, bg, merges := newRig(t)
	defer coord.Stop()

	coord.SetVisibility(false)
	bg.Ingest(location.Update{Latitude: 1, Longitude: 1, AccuracyM: 5, TotalDistance: 200})

	mock.Add(30 * time.Second)
	coord.SetVisibility(true)

	// Only a poor-accuracy fix arrives before the grace expires.
	require.NoError(t, fg.Push(readyFix(80, mock.Now())))
	mock.Add(7 * time.Second)
	assert.Equal(t, SourceBackground, coord.ActiveSource())
	assert.Empty(t, *merges)

	// Minutes later an accurate fix lands; the handoff completes then.
	mock.Add(2 * time.Minute)
	require.NoError(t, fg.Push(readyFix(12, mock.Now())))
	coord.NoteForegroundFix(12)
	assert.Equal(t, SourceForeground, coord.ActiveSource())
	require.Len(t, *merges, 1)
	assert.Equal(t, 200.0, (*merges)[0])
}

func TestCoordinatorDebouncedShow(t *testing.T) {
	coord, mock, fg, _, merges := newRig(t)
	defer coord.Stop()

	coord.SetVisibility(false)
	// Show 3s after hide: inside the 10s debounce.
	mock.Add(3 * time.Second)
	coord.SetVisibility(true)
	require.NoError(t, fg.Push(readyFix(10, mock.Now())))

	// Nothing before debounce(7s more)+grace(7s).
	mock.Add(7 * time.Second)
	assert.Equal(t, SourceBackground, coord.ActiveSource())

	mock.Add(7 * time.Second)
	assert.Equal(t, SourceForeground, coord.ActiveSource())
	assert.Len(t, *merges, 1)
}

func TestCoordinatorForegroundOnlyMode(t *testing.T) {
	mock := clock.NewMock()
	fg := location.NewForeground(accCfg())
	require.NoError(t, fg.Start(context.Background()))
	bg := location.NewBackground(nil, accCfg())

	coord := NewCoordinator(cfg, mock, fg, bg, nil)
	coord.Start()
	defer coord.Stop()

	// Visibility events are no-ops; foreground stays authoritative and
	// distance accumulation never stalls.
	coord.SetVisibility(false)
	coord.SetVisibility(true)
	assert.Equal(t, SourceForeground, coord.ActiveSource())
}

func TestCoordinatorStopKillsTimers(t *testing.T) {
	coord, mock, fg, _, merges := newRig(t)

	coord.SetVisibility(false)
	mock.Add(30 * time.Second)
	coord.SetVisibility(true)
	require.NoError(t, fg.Push(readyFix(10, mock.Now())))

	coord.Stop()
	mock.Add(time.Minute)
	assert.Empty(t, *merges)
}
