package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

type recordingProvider struct {
	name string
	err  error
	mu   sync.Mutex
	sent []Notification
	hit  chan struct{}
}

func newRecordingProvider(name string) *recordingProvider {
	return &recordingProvider{name: name, hit: make(chan struct{}, 32)}
}

func (p *recordingProvider) Name() string { return p.name }

func (p *recordingProvider) Send(_ context.Context, n Notification) error {
	p.mu.Lock()
	p.sent = append(p.sent, n)
	p.mu.Unlock()
	p.hit <- struct{}{}
	return p.err
}

func (p *recordingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitHit(t *testing.T, p *recordingProvider) {
	t.Helper()
	select {
	case <-p.hit:
	case <-time.After(2 * time.Second):
		t.Fatalf("provider %s was not called", p.name)
	}
}

func TestDispatcherRoutesByRole(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	admin := newRecordingProvider("admin-push")
	ranger := newRecordingProvider("ranger-push")
	d := NewDispatcher(DispatcherConfig{}, m, nil)
	d.AddProvider(RoleAdmin, admin)
	d.AddProvider(RoleRanger, ranger)
	require.True(t, d.HasProviders())
	runDispatcher(t, d)

	require.True(t, d.Dispatch(New(RoleRanger, KindPoacherConfirmed, "go", time.Now())))
	waitHit(t, ranger)

	assert.Equal(t, 0, admin.count())
	assert.Equal(t, 1, ranger.count())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Deliveries.WithLabelValues("ranger-push", "ranger", "success")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherRecordsFailures(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	p := newRecordingProvider("flaky")
	p.err = errors.New("503 from gateway")
	d := NewDispatcher(DispatcherConfig{}, m, nil)
	d.AddProvider(RoleAdmin, p)
	runDispatcher(t, d)

	d.Dispatch(New(RoleAdmin, KindPoacherConfirmed, "x", time.Now()))
	waitHit(t, p)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Deliveries.WithLabelValues("flaky", "admin", "error")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(DispatcherConfig{QueueSize: 1}, nil, nil)
	assert.True(t, d.Dispatch(New(RoleAdmin, KindPoacherConfirmed, "a", time.Now())))
	assert.False(t, d.Dispatch(New(RoleAdmin, KindPoacherConfirmed, "b", time.Now())))
}

func TestDispatcherRateLimits(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	p := newRecordingProvider("limited")
	d := NewDispatcher(DispatcherConfig{PerMinute: 1}, m, nil)
	d.AddProvider(RoleRanger, p)
	runDispatcher(t, d)

	d.Dispatch(New(RoleRanger, KindPoacherConfirmed, "first", time.Now()))
	d.Dispatch(New(RoleRanger, KindPoacherConfirmed, "second", time.Now()))
	waitHit(t, p)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Deliveries.WithLabelValues("limited", "ranger", "rate_limited")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, p.count(), "second push waits for the next token")
}

func TestNewShoutrrrProviderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrProvider("empty", nil, time.Second)
	require.Error(t, err)

	_, err = NewShoutrrrProvider("bad", []string{"notaservice://secret-token@host"}, time.Second)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")

	p, err := NewShoutrrrProvider("", []string{"logger://"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "shoutrrr", p.Name())
}
