// Package coach holds the boundary to the coaching-message service and the
// speech/notification sinks. Both are best-effort collaborators: the tick
// loop never waits on them and their failures never reach the session.
package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Metrics is the session progress handed to the coaching service.
type Metrics struct {
	SessionID   string  `json:"sessionId"`
	DistanceM   float64 `json:"distance"`
	DurationSec int64   `json:"duration"`
	PaceMinKm   float64 `json:"pace"`
	Calories    int     `json:"calories"`
}

// SegmentStats describes the 500m segment that triggered the feedback.
type SegmentStats struct {
	Index       int     `json:"index"`
	DurationSec int64   `json:"duration"`
	PaceMinKm   float64 `json:"pace"`
}

// Message is the coaching text produced for one segment.
type Message struct {
	Text string `json:"text"`
}

// Generator produces a coaching message for the given metrics, or nil when
// it has nothing to say. Implementations may be slow or unavailable.
type Generator interface {
	Generate(ctx context.Context, m Metrics, goalType string, seg SegmentStats) (*Message, error)
}

// Sink speaks or displays a message to the user. Failures are swallowed.
type Sink interface {
	Speak(text string)
	Notify(title, body string)
}

// HTTPGenerator relays metrics to a remote coaching engine.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

func NewHTTPGenerator(url string) *HTTPGenerator {
	return &HTTPGenerator{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, m Metrics, goalType string, seg SegmentStats) (*Message, error) {
	body, err := json.Marshal(map[string]any{
		"metrics": m,
		"goal":    goalType,
		"segment": seg,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var msg Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, err
	}
	if msg.Text == "" {
		return nil, nil
	}
	return &msg, nil
}

// NopGenerator is used when no coaching endpoint is configured.
type NopGenerator struct{}

func (NopGenerator) Generate(context.Context, Metrics, string, SegmentStats) (*Message, error) {
	return nil, nil
}

// LogSink writes messages to the process log; the real speech/notification
// channels live on the client.
type LogSink struct{}

func (LogSink) Speak(text string) {
	log.Printf("coach speak: %s", text)
}

func (LogSink) Notify(title, body string) {
	log.Printf("coach notify: %s: %s", title, body)
}
