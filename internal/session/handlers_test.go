package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend-stridetrack/internal/recovery"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(r *testRig) *fiber.App {
	app := fiber.New()
	authStub := func(c *fiber.Ctx) error {
		c.Locals("user_id", "user-1")
		return c.Next()
	}
	RegisterRoutes(app.Group("/sessions"), r.m, authStub)
	RegisterRecoveryRoutes(app.Group("/recovery"), r.m, authStub)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestHandlersStartSession(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)
	defer func() { _ = r.m.Cancel(context.Background()) }()

	resp := doJSON(t, app, http.MethodPost, "/sessions/", map[string]any{
		"goal": map[string]any{"type": "target_distance", "target": 5000},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess Session
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &sess))
	assert.Equal(t, "sess-1", sess.ID)

	// second start conflicts
	resp = doJSON(t, app, http.MethodPost, "/sessions/", map[string]any{
		"goal": map[string]any{"type": "free_run"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandlersStartInvalidGoal(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)

	resp := doJSON(t, app, http.MethodPost, "/sessions/", map[string]any{
		"goal": map[string]any{"type": "target_distance"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlersCurrentNotFound(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)

	resp := doJSON(t, app, http.MethodGet, "/sessions/current", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlersFixAndMetrics(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)
	defer func() { _ = r.m.Cancel(context.Background()) }()

	resp := doJSON(t, app, http.MethodPost, "/sessions/", map[string]any{
		"goal": map[string]any{"type": "free_run"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/sessions/current/fixes", map[string]any{
		"latitude": -23.55, "longitude": -46.63, "accuracy": 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var met Metrics
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &met))
	assert.Equal(t, "sess-1", met.SessionID)

	resp = doJSON(t, app, http.MethodGet, "/sessions/current", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlersVisibility(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)
	defer func() { _ = r.m.Cancel(context.Background()) }()

	resp := doJSON(t, app, http.MethodPost, "/sessions/current/visibility", map[string]any{"visible": false})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	doJSON(t, app, http.MethodPost, "/sessions/", map[string]any{"goal": map[string]any{"type": "free_run"}})
	resp = doJSON(t, app, http.MethodPost, "/sessions/current/visibility", map[string]any{"visible": false})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHandlersBackgroundUpdateUnavailable(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)
	defer func() { _ = r.m.Cancel(context.Background()) }()

	doJSON(t, app, http.MethodPost, "/sessions/", map[string]any{"goal": map[string]any{"type": "free_run"}})
	resp := doJSON(t, app, http.MethodPost, "/sessions/current/background-updates", map[string]any{
		"latitude": -23.55, "longitude": -46.63, "accuracy": 10, "totalDistance": 100,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlersPauseResumeCompleteLifecycle(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)

	doJSON(t, app, http.MethodPost, "/sessions/", map[string]any{"goal": map[string]any{"type": "free_run"}})

	resp := doJSON(t, app, http.MethodPost, "/sessions/current/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// pausing twice conflicts
	resp = doJSON(t, app, http.MethodPost, "/sessions/current/pause", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/sessions/current/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/sessions/current/complete", map[string]any{"subjective_feedback": 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var final struct {
		SubjectiveFeedback int `json:"subjective_feedback"`
	}
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &final))
	assert.Equal(t, 4, final.SubjectiveFeedback)

	// finished sessions are gone
	resp = doJSON(t, app, http.MethodPost, "/sessions/current/complete", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlersCompleteRejectsBadFeedback(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)
	defer func() { _ = r.m.Cancel(context.Background()) }()

	doJSON(t, app, http.MethodPost, "/sessions/", map[string]any{"goal": map[string]any{"type": "free_run"}})
	resp := doJSON(t, app, http.MethodPost, "/sessions/current/complete", map[string]any{"subjective_feedback": 9})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlersRecoveryFlow(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)
	ctx := context.Background()

	resp := doJSON(t, app, http.MethodGet, "/recovery/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	raw, _ := json.Marshal(persistedSession{ID: "sess-9", Goal: Goal{Type: GoalFreeRun}, StartedAt: r.clk.Now()})
	require.NoError(t, r.repo.Save(ctx, recovery.Record{
		Session: raw, IsRecording: true, DistanceM: 300, Status: "active", SavedAt: r.clk.Now(),
	}))

	resp = doJSON(t, app, http.MethodGet, "/recovery/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/recovery/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer func() { _ = r.m.Cancel(ctx) }()

	met := r.m.Metrics()
	assert.Equal(t, 300.0, met.DistanceM)
}

func TestHandlersRecoveryDiscard(t *testing.T) {
	r := newRig(nil)
	app := testApp(r)
	ctx := context.Background()

	raw, _ := json.Marshal(persistedSession{ID: "sess-9"})
	require.NoError(t, r.repo.Save(ctx, recovery.Record{
		Session: raw, Status: "active", SavedAt: r.clk.Now(),
	}))

	resp := doJSON(t, app, http.MethodPost, "/recovery/discard", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Nil(t, r.repo.stored())
}
