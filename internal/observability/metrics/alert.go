package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AlertMetrics contains Prometheus metrics for fusion and the alert state machine.
type AlertMetrics struct {
	Evaluations     *prometheus.CounterVec // evaluations by verdict
	Transitions     *prometheus.CounterVec // state changes by from/to
	State           *prometheus.GaugeVec   // 1 for the current state, 0 otherwise
	DroppedRecords  *prometheus.CounterVec // malformed records by stream
	FusionErrors    prometheus.Counter
	ValidationsSent *prometheus.CounterVec // validation requests by result
}

// NewAlertMetrics creates and registers alert metrics.
func NewAlertMetrics(registry *prometheus.Registry) (*AlertMetrics, error) {
	m := &AlertMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register alert metrics: %w", err)
	}
	return m, nil
}

func (m *AlertMetrics) initMetrics() {
	m.Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_evaluations_total",
			Help: "Fusion evaluations by resulting verdict",
		},
		[]string{"verdict"},
	)
	m.Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_transitions_total",
			Help: "Alert state transitions",
		},
		[]string{"from", "to"},
	)
	m.State = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alert_state",
			Help: "Current alert state (1 for the active state)",
		},
		[]string{"state"},
	)
	m.DroppedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fusion_dropped_records_total",
			Help: "Records dropped by fusion because they failed validation",
		},
		[]string{"stream"},
	)
	m.FusionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fusion_errors_total",
			Help: "Fusion evaluations that failed and were treated as NONE",
		},
	)
	m.ValidationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_validation_requests_total",
			Help: "Poacher validation requests by result",
		},
		[]string{"result"}, // recorded, duplicate, forwarded, forward_error
	)
}

// RecordEvaluation records the verdict of one evaluation.
func (m *AlertMetrics) RecordEvaluation(verdict string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(verdict).Inc()
}

// RecordTransition records a state change and updates the state gauge.
func (m *AlertMetrics) RecordTransition(from, to string, states []string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.SetState(to, states)
}

// SetState marks current as the active state.
func (m *AlertMetrics) SetState(current string, states []string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// RecordDropped records malformed records dropped from a stream.
func (m *AlertMetrics) RecordDropped(stream string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.DroppedRecords.WithLabelValues(stream).Add(float64(count))
}

// RecordFusionError records an evaluation that failed.
func (m *AlertMetrics) RecordFusionError() {
	if m == nil {
		return
	}
	m.FusionErrors.Inc()
}

// RecordValidation records the outcome of a validation request.
func (m *AlertMetrics) RecordValidation(result string) {
	if m == nil {
		return
	}
	m.ValidationsSent.WithLabelValues(result).Inc()
}

// Describe implements prometheus.Collector.
func (m *AlertMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Evaluations.Describe(ch)
	m.Transitions.Describe(ch)
	m.State.Describe(ch)
	m.DroppedRecords.Describe(ch)
	m.FusionErrors.Describe(ch)
	m.ValidationsSent.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *AlertMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Evaluations.Collect(ch)
	m.Transitions.Collect(ch)
	m.State.Collect(ch)
	m.DroppedRecords.Collect(ch)
	m.FusionErrors.Collect(ch)
	m.ValidationsSent.Collect(ch)
}
