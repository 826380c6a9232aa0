package notification

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

func TestServiceAppendPublishesAndQueues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, err := metrics.NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	d := NewDispatcher(DispatcherConfig{QueueSize: 4}, nil, nil)
	svc := NewService(NewMemoryStore(), ServiceOptions{Metrics: m, Dispatcher: d})
	defer svc.Close()

	ch, unsub := svc.Subscribe(RoleAdmin)
	defer unsub()

	stored, err := svc.Append(ctx, New(RoleAdmin, KindPoacherConfirmed, "summary", time.Now()))
	require.NoError(t, err)

	got := <-ch
	assert.Equal(t, stored.ID, got.ID)
	assert.Len(t, d.queue, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Appended.WithLabelValues("admin", "poacher_confirmed")), 0)

	list, err := svc.List(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestServiceAppendFailurePublishesNothing(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	svc := NewService(NewMemoryStore(), ServiceOptions{Metrics: m})
	defer svc.Close()

	ch, unsub := svc.Subscribe("")
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Append(ctx, New(RoleRanger, KindPoacherConfirmed, "x", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.IsPersistence(err))
	assert.Empty(t, ch)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PersistenceError.WithLabelValues("append")), 0)
}
