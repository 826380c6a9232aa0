package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains Prometheus metrics for the notification log, watermarks and push delivery.
type NotificationMetrics struct {
	Appended         *prometheus.CounterVec   // notifications appended by role and kind
	Acknowledged     *prometheus.CounterVec   // acknowledge calls by role
	PersistenceError *prometheus.CounterVec   // failed writes by operation
	Unread           *prometheus.GaugeVec     // unread count by role as of the last computation
	Deliveries       *prometheus.CounterVec   // push deliveries by provider, role and status
	DeliveryDuration *prometheus.HistogramVec // push latency by provider
}

// NewNotificationMetrics creates and registers notification metrics.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.Appended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_appended_total",
			Help: "Notifications appended to the log by role and kind",
		},
		[]string{"role", "kind"},
	)
	m.Acknowledged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_acknowledged_total",
			Help: "Acknowledge operations by role",
		},
		[]string{"role"},
	)
	m.PersistenceError = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_persistence_errors_total",
			Help: "Failed notification or watermark writes by operation",
		},
		[]string{"operation"},
	)
	m.Unread = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_unread",
			Help: "Unread notifications per role as of the last computation",
		},
		[]string{"role"},
	)
	m.Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_push_deliveries_total",
			Help: "Push deliveries by provider, role and status",
		},
		[]string{"provider", "role", "status"}, // status: success, error, rate_limited
	)
	m.DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_push_delivery_duration_seconds",
			Help:    "Time taken for push delivery by provider",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"provider"},
	)
}

// RecordAppend records one appended notification.
func (m *NotificationMetrics) RecordAppend(role, kind string) {
	if m == nil {
		return
	}
	m.Appended.WithLabelValues(role, kind).Inc()
}

// RecordAcknowledge records one acknowledge call.
func (m *NotificationMetrics) RecordAcknowledge(role string) {
	if m == nil {
		return
	}
	m.Acknowledged.WithLabelValues(role).Inc()
	m.Unread.WithLabelValues(role).Set(0)
}

// RecordPersistenceError records a failed durable write.
func (m *NotificationMetrics) RecordPersistenceError(operation string) {
	if m == nil {
		return
	}
	m.PersistenceError.WithLabelValues(operation).Inc()
}

// SetUnread records the latest unread count for a role.
func (m *NotificationMetrics) SetUnread(role string, count int) {
	if m == nil {
		return
	}
	m.Unread.WithLabelValues(role).Set(float64(count))
}

// RecordDelivery records one push attempt.
func (m *NotificationMetrics) RecordDelivery(provider, role, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(provider, role, status).Inc()
	if duration > 0 {
		m.DeliveryDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// Describe implements prometheus.Collector.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Appended.Describe(ch)
	m.Acknowledged.Describe(ch)
	m.PersistenceError.Describe(ch)
	m.Unread.Describe(ch)
	m.Deliveries.Describe(ch)
	m.DeliveryDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Appended.Collect(ch)
	m.Acknowledged.Collect(ch)
	m.PersistenceError.Collect(ch)
	m.Unread.Collect(ch)
	m.Deliveries.Collect(ch)
	m.DeliveryDuration.Collect(ch)
}
