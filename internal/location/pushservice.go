package location

import (
	"context"
	"sync"
)

// PushService is the server-side stand-in for the device's background
// location plugin. The plugin pushes its updates over HTTP instead of being
// polled, so this implementation only acknowledges lifecycle calls and
// reports no counter of its own; the adapter's counter is fed by Ingest and
// always wins the max() against the zeros reported here.
type PushService struct {
	mu      sync.Mutex
	cfg     BackgroundConfig
	running bool
}

func NewPushService() *PushService {
	return &PushService{}
}

func (s *PushService) Configure(_ context.Context, cfg BackgroundConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// Start acknowledges the session. A start without a prior enabling Configure
// is refused, mirroring the plugin's own behavior.
func (s *PushService) Start(_ context.Context) (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return StartResult{Success: false, Message: "background tracking not configured"}, nil
	}
	s.running = true
	return StartResult{Success: true}, nil
}

func (s *PushService) Stop(_ context.Context) (StopResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return StopResult{}, nil
}

// AccumulatedDistance reports zero: updates arrive pushed, never polled, so
// the adapter's own counter is authoritative.
func (s *PushService) AccumulatedDistance(_ context.Context) (float64, error) {
	return 0, nil
}

// Running reports whether a session is currently acknowledged.
func (s *PushService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

var _ BackgroundService = (*PushService)(nil)
