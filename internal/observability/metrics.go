// Package observability exposes Prometheus metrics for the control core.
// Sentry error telemetry lives in the telemetry package.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/twsaudio/internal/events"
	"github.com/tphakala/twsaudio/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	MQTT     *metrics.MQTTMetrics
	Pipeline *metrics.PipelineMetrics
	Resource *metrics.ResourceMetrics
	Sync     *metrics.SyncMetrics
	ANC      *metrics.ANCMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}
	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	resourceMetrics, err := metrics.NewResourceMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource metrics: %w", err)
	}
	syncMetrics, err := metrics.NewSyncMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	ancMetrics, err := metrics.NewANCMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create ANC metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		MQTT:     mqttMetrics,
		Pipeline: pipelineMetrics,
		Resource: resourceMetrics,
		Sync:     syncMetrics,
		ANC:      ancMetrics,
	}, nil
}

// RegisterEventBus exports the bus counters
func (m *Metrics) RegisterEventBus(stats func() events.EventBusStats) error {
	for name, get := range map[string]func(events.EventBusStats) uint64{
		"received":   func(s events.EventBusStats) uint64 { return s.EventsReceived },
		"processed":  func(s events.EventBusStats) uint64 { return s.EventsProcessed },
		"dropped":    func(s events.EventBusStats) uint64 { return s.EventsDropped },
		"suppressed": func(s events.EventBusStats) uint64 { return s.EventsSuppressed },
	} {
		c := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "twsaudio",
			Name:        "eventbus_events_total",
			Help:        "Event bus throughput by outcome",
			ConstLabels: prometheus.Labels{"outcome": name},
		}, func() float64 { return float64(get(stats())) })
		if err := m.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register event bus metrics: %w", err)
		}
	}
	return nil
}

// RegisterHardwareFailures exports the count of recoverable hardware
// failures seen by the pipeline. get is called at scrape time and must be
// safe for concurrent use.
func (m *Metrics) RegisterHardwareFailures(get func() uint64) error {
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "twsaudio",
		Name:      "hardware_failures_total",
		Help:      "Recoverable hardware failures rolled back by the pipeline",
	}, func() float64 { return float64(get()) })
	if err := m.registry.Register(c); err != nil {
		return fmt.Errorf("failed to register hardware failure metric: %w", err)
	}
	return nil
}

// Registry returns the registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
