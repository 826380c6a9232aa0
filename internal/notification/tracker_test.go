package notification

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

func TestTrackerUnreadAndAcknowledge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, err := metrics.NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	store := NewMemoryStore()
	tr := NewTracker(store, m, nil)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		_, err := store.Append(ctx, New(RoleRanger, KindPoacherConfirmed, "msg", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	count, err := tr.UnreadCount(ctx, RoleRanger)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.InDelta(t, 3, testutil.ToFloat64(m.Unread.WithLabelValues("ranger")), 0)

	unread, err := tr.Unread(ctx, RoleRanger)
	require.NoError(t, err)
	assert.Len(t, unread, 3)

	mark, err := tr.Acknowledge(ctx, RoleRanger)
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Minute), mark)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Acknowledged.WithLabelValues("ranger")), 0)

	unread, err = tr.Unread(ctx, RoleRanger)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
