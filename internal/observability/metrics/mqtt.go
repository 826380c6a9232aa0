package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains Prometheus metrics for alert publishing.
type MQTTMetrics struct {
	ConnectionStatus prometheus.Gauge
	Messages         *prometheus.CounterVec
	PublishDuration  prometheus.Histogram
	Errors           *prometheus.CounterVec
}

// NewMQTTMetrics creates and registers MQTT metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connection_status",
			Help: "Current MQTT connection status (1 connected, 0 disconnected)",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_messages_total",
			Help: "MQTT messages published by topic",
		}, []string{"topic"}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_publish_duration_seconds",
			Help:    "Time taken to publish an MQTT message",
			Buckets: prometheus.DefBuckets,
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_errors_total",
			Help: "MQTT errors by kind",
		}, []string{"kind"}), // connect, publish, timeout
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// SetConnected updates the connection gauge.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.ConnectionStatus.Set(v)
}

// RecordPublish records a successful publish.
func (m *MQTTMetrics) RecordPublish(topic string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(topic).Inc()
	m.PublishDuration.Observe(duration.Seconds())
}

// RecordError records a failure by kind.
func (m *MQTTMetrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}

// Describe implements prometheus.Collector.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ConnectionStatus.Describe(ch)
	m.Messages.Describe(ch)
	m.PublishDuration.Describe(ch)
	m.Errors.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ConnectionStatus.Collect(ch)
	m.Messages.Collect(ch)
	m.PublishDuration.Collect(ch)
	m.Errors.Collect(ch)
}
