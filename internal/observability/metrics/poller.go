// Package metrics provides custom Prometheus metrics for the detection pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PollerMetrics contains Prometheus metrics for source polling.
type PollerMetrics struct {
	FetchTotal       *prometheus.CounterVec   // fetches by source and result
	FetchDuration    *prometheus.HistogramVec // fetch latency by source
	SkippedTicks     *prometheus.CounterVec   // ticks skipped because a fetch was in flight
	DiscardedResults *prometheus.CounterVec   // results dropped after cancellation
	LastSuccess      *prometheus.GaugeVec     // unix time of last successful fetch
	BatchSize        *prometheus.GaugeVec     // records in the current batch
}

// NewPollerMetrics creates and registers poller metrics.
func NewPollerMetrics(registry *prometheus.Registry) (*PollerMetrics, error) {
	m := &PollerMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register poller metrics: %w", err)
	}
	return m, nil
}

func (m *PollerMetrics) initMetrics() {
	m.FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_fetch_total",
			Help: "Total number of source fetches by source and result",
		},
		[]string{"source", "result"}, // result: success, error
	)
	m.FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poller_fetch_duration_seconds",
			Help:    "Time taken to fetch a batch from a source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	m.SkippedTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_skipped_ticks_total",
			Help: "Ticks skipped because the previous fetch was still in flight",
		},
		[]string{"source"},
	)
	m.DiscardedResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_discarded_results_total",
			Help: "Fetch results discarded because the source was cancelled",
		},
		[]string{"source"},
	)
	m.LastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poller_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful fetch",
		},
		[]string{"source"},
	)
	m.BatchSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poller_batch_size",
			Help: "Number of records in the current batch",
		},
		[]string{"source"},
	)
}

// RecordFetch records one completed fetch.
func (m *PollerMetrics) RecordFetch(source string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.FetchTotal.WithLabelValues(source, result).Inc()
	m.FetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err == nil {
		m.LastSuccess.WithLabelValues(source).SetToCurrentTime()
	}
}

// RecordBatch records the size of an applied batch.
func (m *PollerMetrics) RecordBatch(source string, size int) {
	if m == nil {
		return
	}
	m.BatchSize.WithLabelValues(source).Set(float64(size))
}

// RecordSkippedTick records a tick skipped due to an in-flight fetch.
func (m *PollerMetrics) RecordSkippedTick(source string) {
	if m == nil {
		return
	}
	m.SkippedTicks.WithLabelValues(source).Inc()
}

// RecordDiscarded records a result dropped after cancellation.
func (m *PollerMetrics) RecordDiscarded(source string) {
	if m == nil {
		return
	}
	m.DiscardedResults.WithLabelValues(source).Inc()
}

// Describe implements prometheus.Collector.
func (m *PollerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FetchTotal.Describe(ch)
	m.FetchDuration.Describe(ch)
	m.SkippedTicks.Describe(ch)
	m.DiscardedResults.Describe(ch)
	m.LastSuccess.Describe(ch)
	m.BatchSize.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PollerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FetchTotal.Collect(ch)
	m.FetchDuration.Collect(ch)
	m.SkippedTicks.Collect(ch)
	m.DiscardedResults.Collect(ch)
	m.LastSuccess.Collect(ch)
	m.BatchSize.Collect(ch)
}
