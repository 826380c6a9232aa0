package notification

import (
	"context"
	"time"

	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

// Tracker answers unread questions against a Store's watermarks.
type Tracker struct {
	store   Store
	metrics *metrics.NotificationMetrics
	log     logger.Logger
}

// NewTracker creates a Tracker over store. m may be nil.
func NewTracker(store Store, m *metrics.NotificationMetrics, log logger.Logger) *Tracker {
	return &Tracker{store: store, metrics: m, log: logger.OrDiscard(log)}
}

// UnreadCount returns how many notifications for role are newer than its watermark.
func (t *Tracker) UnreadCount(ctx context.Context, role Role) (int, error) {
	n, err := t.store.UnreadCount(ctx, role)
	if err != nil {
		return 0, err
	}
	t.metrics.SetUnread(string(role), n)
	return n, nil
}

// Unread returns the notifications for role newer than its watermark, oldest first.
func (t *Tracker) Unread(ctx context.Context, role Role) ([]Notification, error) {
	mark, err := t.store.Watermark(ctx, role)
	if err != nil {
		return nil, err
	}
	return t.store.ListSince(ctx, role, mark)
}

// Acknowledge marks everything currently in role's log as read and returns
// the new watermark.
func (t *Tracker) Acknowledge(ctx context.Context, role Role) (time.Time, error) {
	mark, err := t.store.Acknowledge(ctx, role)
	if err != nil {
		t.metrics.RecordPersistenceError("acknowledge")
		t.log.Error("acknowledge failed",
			logger.String("role", string(role)),
			logger.Error(err))
		return time.Time{}, err
	}
	t.metrics.RecordAcknowledge(string(role))
	t.log.Info("notifications acknowledged",
		logger.String("role", string(role)),
		logger.Time("watermark", mark))
	return mark, nil
}
