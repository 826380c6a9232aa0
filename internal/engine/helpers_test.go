package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
	"github.com/poachwatch/poachwatch/internal/sources"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// stepClock advances one second per call so createdAt values are distinct.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	engine  *Engine
	source  *sources.Static
	store   *notification.MemoryStore
	history *alert.MemoryHistory
	metrics *metrics.AlertMetrics
}

func newFixture(t *testing.T, mutate func(*Config, *Deps)) *fixture {
	t.Helper()

	am, err := metrics.NewAlertMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	f := &fixture{
		source:  sources.NewStatic(),
		store:   notification.NewMemoryStore(),
		history: alert.NewMemoryHistory(),
		metrics: am,
	}
	svc := notification.NewService(f.store, notification.ServiceOptions{})
	t.Cleanup(svc.Close)

	cfg := Config{
		MovementInterval: 10 * time.Millisecond,
		ImageInterval:    10 * time.Millisecond,
		PositionInterval: 10 * time.Millisecond,
		PositionKinds:    []string{"rhino", "elephant"},
		FetchTimeout:     time.Second,
	}
	clock := &stepClock{now: t0}
	deps := Deps{
		Source:        f.source,
		Notifications: svc,
		History:       f.history,
		Validations:   f.history,
		AlertMetrics:  am,
		Now:           clock.Now,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	e, err := New(cfg, deps)
	require.NoError(t, err)
	f.engine = e
	return f
}

func poacherMovement(at time.Time) detection.MovementPrediction {
	return detection.MovementPrediction{
		ID:         "m1",
		Species:    "human",
		Label:      detection.LabelPoacher,
		Latitude:   1,
		Longitude:  2,
		ObservedAt: at,
	}
}

func poacherImage(ref string, p float64, at time.Time) detection.ImageClassification {
	return detection.ImageClassification{
		ClassName:   "poacher",
		Probability: p,
		ImageRef:    ref,
		ObservedAt:  at,
	}
}

func (f *fixture) list(t *testing.T, role notification.Role) []notification.Notification {
	t.Helper()
	out, err := f.engine.Notifications(context.Background(), role)
	require.NoError(t, err)
	return out
}

// mockStore is a notification.Store driven by testify expectations.
type mockStore struct {
	mock.Mock
}

var _ notification.Store = (*mockStore)(nil)

func (m *mockStore) Append(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(notification.Notification), args.Error(1)
}

func (m *mockStore) ListSince(ctx context.Context, role notification.Role, since time.Time) ([]notification.Notification, error) {
	args := m.Called(ctx, role, since)
	return args.Get(0).([]notification.Notification), args.Error(1)
}

func (m *mockStore) Acknowledge(ctx context.Context, role notification.Role) (time.Time, error) {
	args := m.Called(ctx, role)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *mockStore) Watermark(ctx context.Context, role notification.Role) (time.Time, error) {
	args := m.Called(ctx, role)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *mockStore) UnreadCount(ctx context.Context, role notification.Role) (int, error) {
	args := m.Called(ctx, role)
	return args.Int(0), args.Error(1)
}

type recordingPublisher struct {
	ch chan alert.Transition
}

func (p *recordingPublisher) PublishTransition(_ context.Context, tr alert.Transition) error {
	p.ch <- tr
	return nil
}

type failingValidator struct{}

func (failingValidator) ValidatePoacher(context.Context, string) (sources.Ack, error) {
	return sources.Ack{}, context.DeadlineExceeded
}
