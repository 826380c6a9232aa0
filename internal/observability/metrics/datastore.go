package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for database operations.
type DatastoreMetrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewDatastoreMetrics creates and registers datastore metrics.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datastore_operations_total",
			Help: "Datastore operations by operation and status",
		}, []string{"operation", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datastore_operation_duration_seconds",
			Help:    "Datastore operation latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

// RecordOperation records one operation with its outcome.
func (m *DatastoreMetrics) RecordOperation(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Operations.WithLabelValues(operation, status).Inc()
	m.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Describe implements prometheus.Collector.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Operations.Describe(ch)
	m.Duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Operations.Collect(ch)
	m.Duration.Collect(ch)
}
