package coach

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGeneratorReturnsMessage(t *testing.T) {
	var gotGoal string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Goal string `json:"goal"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotGoal = payload.Goal
		_ = json.NewEncoder(w).Encode(Message{Text: "keep that pace up"})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL)
	msg, err := g.Generate(context.Background(), Metrics{SessionID: "s1", DistanceM: 500}, "free_run", SegmentStats{Index: 1})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "keep that pace up", msg.Text)
	assert.Equal(t, "free_run", gotGoal)
}

func TestHTTPGeneratorNon200IsSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL)
	msg, err := g.Generate(context.Background(), Metrics{}, "free_run", SegmentStats{})
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestHTTPGeneratorEmptyTextIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Message{})
	}))
	defer srv.Close()

	g := NewHTTPGenerator(srv.URL)
	msg, err := g.Generate(context.Background(), Metrics{}, "free_run", SegmentStats{})
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestHTTPGeneratorUnreachable(t *testing.T) {
	g := NewHTTPGenerator("http://127.0.0.1:1")
	msg, err := g.Generate(context.Background(), Metrics{}, "free_run", SegmentStats{})
	assert.Error(t, err)
	assert.Nil(t, msg)
}

func TestNopGenerator(t *testing.T) {
	msg, err := NopGenerator{}.Generate(context.Background(), Metrics{}, "free_run", SegmentStats{})
	assert.NoError(t, err)
	assert.Nil(t, msg)
}
