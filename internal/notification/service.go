package notification

import (
	"context"
	"time"

	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

// Service is the single write path into the notification logs. Every
// successful append is published to live subscribers and queued for push.
type Service struct {
	store   Store
	tracker *Tracker
	hub     *Broadcaster
	push    *Dispatcher
	metrics *metrics.NotificationMetrics
	log     logger.Logger
}

// ServiceOptions carries optional collaborators.
type ServiceOptions struct {
	Metrics    *metrics.NotificationMetrics
	Logger     logger.Logger
	Dispatcher *Dispatcher
}

// NewService creates a Service over store.
func NewService(store Store, opts ServiceOptions) *Service {
	log := logger.OrDiscard(opts.Logger).Module("notification")
	return &Service{
		store:   store,
		tracker: NewTracker(store, opts.Metrics, log),
		hub:     NewBroadcaster(log),
		push:    opts.Dispatcher,
		metrics: opts.Metrics,
		log:     log,
	}
}

// Append stores n and fans it out. Persistence errors are returned to the
// caller and nothing is published.
func (s *Service) Append(ctx context.Context, n Notification) (Notification, error) {
	stored, err := s.store.Append(ctx, n)
	if err != nil {
		s.metrics.RecordPersistenceError("append")
		s.log.Error("notification append failed",
			logger.String("role", string(n.Role)),
			logger.String("kind", string(n.Kind)),
			logger.Error(err))
		return Notification{}, err
	}

	s.metrics.RecordAppend(string(stored.Role), string(stored.Kind))
	s.log.Info("notification appended",
		logger.String("id", stored.ID),
		logger.String("role", string(stored.Role)),
		logger.String("kind", string(stored.Kind)),
		logger.Time("created_at", stored.CreatedAt))

	s.hub.Publish(stored)
	if s.push != nil {
		s.push.Dispatch(stored)
	}
	return stored, nil
}

// List returns role's whole log, oldest first.
func (s *Service) List(ctx context.Context, role Role) ([]Notification, error) {
	return s.store.ListSince(ctx, role, time.Time{})
}

// ListSince returns role's notifications newer than since.
func (s *Service) ListSince(ctx context.Context, role Role, since time.Time) ([]Notification, error) {
	return s.store.ListSince(ctx, role, since)
}

// Tracker returns the watermark tracker over the same store.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Subscribe streams newly appended notifications for role.
func (s *Service) Subscribe(role Role) (<-chan Notification, func()) {
	return s.hub.Subscribe(role)
}

// Close ends every subscription.
func (s *Service) Close() {
	s.hub.Close()
}
