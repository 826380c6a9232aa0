package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/engine"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/sources"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// brokenAckStore fails every acknowledge as a persistence error.
type brokenAckStore struct {
	*notification.MemoryStore
}

func (brokenAckStore) Acknowledge(context.Context, notification.Role) (time.Time, error) {
	return time.Time{}, errors.Newf("database is locked").
		Category(errors.CategoryPersistence).
		Build()
}

type testEnv struct {
	server *Server
	engine *engine.Engine
	source *sources.Static
}

func newTestEnv(t *testing.T, store notification.Store) *testEnv {
	t.Helper()
	if store == nil {
		store = notification.NewMemoryStore()
	}
	svc := notification.NewService(store, notification.ServiceOptions{})
	t.Cleanup(svc.Close)
	src := sources.NewStatic()
	eng, err := engine.New(engine.Config{PositionKinds: []string{"rhino"}}, engine.Deps{
		Source:        src,
		Notifications: svc,
		Validator:     src,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	return &testEnv{
		server: New(Config{Heartbeat: 50 * time.Millisecond}, eng,
			WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))),
		engine: eng,
		source: src,
	}
}

func (env *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (env *testEnv) confirm(t *testing.T) {
	t.Helper()
	_, err := env.engine.EvaluateBatches(context.Background(),
		[]detection.MovementPrediction{{
			ID: "m1", Species: "human", Label: detection.LabelPoacher,
			Latitude: 1, Longitude: 2, ObservedAt: t0,
		}},
		[]detection.ImageClassification{{
			ClassName: "poacher", Probability: 0.92, ImageRef: "img1", ObservedAt: t0,
		}})
	require.NoError(t, err)
}

func TestGetAlert(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec, body := env.do(t, http.MethodGet, "/api/v1/alert", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NONE", body["state"])

	env.confirm(t)
	_, body = env.do(t, http.MethodGet, "/api/v1/alert", "")
	assert.Equal(t, "CONFIRMED", body["state"])
	assert.Equal(t, "img1", body["image_ref"])
}

func TestNotificationFeedUnreadAndAcknowledge(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.confirm(t)

	rec, body := env.do(t, http.MethodGet, "/api/v1/notifications/ranger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, body["count"], 0)

	_, body = env.do(t, http.MethodGet, "/api/v1/notifications/RANGER/unread", "")
	assert.InDelta(t, 1, body["unread"], 0)

	rec, body = env.do(t, http.MethodPost, "/api/v1/notifications/ranger/ack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, body["acknowledged_at"])

	_, body = env.do(t, http.MethodGet, "/api/v1/notifications/ranger/unread", "")
	assert.InDelta(t, 0, body["unread"], 0)
	_, body = env.do(t, http.MethodGet, "/api/v1/notifications/ranger?unread=true", "")
	assert.InDelta(t, 0, body["count"], 0)

	// Acknowledging ranger leaves admin untouched.
	_, body = env.do(t, http.MethodGet, "/api/v1/notifications/admin/unread", "")
	assert.InDelta(t, 1, body["unread"], 0)
}

func TestAcknowledgeEmptyLogReturnsNull(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec, body := env.do(t, http.MethodPost, "/api/v1/notifications/admin/ack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["acknowledged_at"])
}

func TestUnknownRoleIsBadRequest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	for _, path := range []string{
		"/api/v1/notifications/poacher",
		"/api/v1/notifications/poacher/unread",
		"/api/v1/notifications/poacher/stream",
	} {
		rec, body := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.NotEmpty(t, body["correlation_id"])
	}
	rec, _ := env.do(t, http.MethodPost, "/api/v1/notifications/poacher/ack", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcknowledgePersistenceFailureIsServerError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, brokenAckStore{notification.NewMemoryStore()})
	rec, body := env.do(t, http.MethodPost, "/api/v1/notifications/ranger/ack", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to acknowledge notifications", body["message"])
}

func TestPositions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec, body := env.do(t, http.MethodGet, "/api/v1/positions/rhino", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0, body["count"], 0)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/positions/lion", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryAndValidations(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.confirm(t)

	_, body := env.do(t, http.MethodGet, "/api/v1/history?limit=5", "")
	assert.InDelta(t, 1, body["count"], 0)

	rec, body := env.do(t, http.MethodPost, "/api/v1/validations", `{"image_ref":"img1","requested_by":"ranger-7"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, false, body["duplicate"])

	rec, body = env.do(t, http.MethodPost, "/api/v1/validations", `{"image_ref":"img1","requested_by":"ranger-7"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["duplicate"])
	assert.Equal(t, []string{"img1"}, env.source.Validations())

	rec, _ = env.do(t, http.MethodPost, "/api/v1/validations", `{"image_ref":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body = env.do(t, http.MethodGet, "/api/v1/validations", "")
	assert.InDelta(t, 1, body["count"], 0)
}

func TestSourcesAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec, body := env.do(t, http.MethodGet, "/api/v1/sources", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "sources")

	rec, _ = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAlertStream(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/alert/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if ev, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- ev
			}
		}
	}()

	require.Equal(t, "alert", <-events)
	env.confirm(t)

	select {
	case ev := <-events:
		assert.Equal(t, "transition", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no transition event")
	}
	cancel()
	for range events {
	}
}
