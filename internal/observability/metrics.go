// Package observability wires the Prometheus registry and exposes the metrics endpoint.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

// Metrics holds all metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	Poller       *metrics.PollerMetrics
	Alert        *metrics.AlertMetrics
	Notification *metrics.NotificationMetrics
	Datastore    *metrics.DatastoreMetrics
	MQTT         *metrics.MQTTMetrics
}

// NewMetrics creates a registry with runtime collectors and all application metrics.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{registry: registry}
	var err error
	if m.Poller, err = metrics.NewPollerMetrics(registry); err != nil {
		return nil, wrap(err)
	}
	if m.Alert, err = metrics.NewAlertMetrics(registry); err != nil {
		return nil, wrap(err)
	}
	if m.Notification, err = metrics.NewNotificationMetrics(registry); err != nil {
		return nil, wrap(err)
	}
	if m.Datastore, err = metrics.NewDatastoreMetrics(registry); err != nil {
		return nil, wrap(err)
	}
	if m.MQTT, err = metrics.NewMQTTMetrics(registry); err != nil {
		return nil, wrap(err)
	}
	return m, nil
}

func wrap(err error) error {
	return errors.New(err).
		Component("observability").
		Category(errors.CategoryGeneric).
		Build()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
