// Package metrics provides Prometheus collectors for the control core.
// Each collector implements the observer interface of the package it
// measures, so wiring it is a single registration call.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "twsaudio"

// MQTTMetrics contains all Prometheus metrics related to MQTT operations.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesDelivered prometheus.Counter
	Errors            prometheus.Counter
	ReconnectAttempts prometheus.Counter
	LastConnectTime   prometheus.Gauge
}

// NewMQTTMetrics creates and registers the MQTT collectors
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connection_status",
			Help:      "Current MQTT connection status (1 for connected, 0 for disconnected)",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_messages_delivered_total",
			Help:      "Total number of MQTT messages successfully delivered",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_errors_total",
			Help:      "Total number of MQTT errors encountered",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_reconnect_attempts_total",
			Help:      "Total number of MQTT reconnection attempts",
		}),
		LastConnectTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_last_connect_time_seconds",
			Help:      "Timestamp of the last successful MQTT connection",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// UpdateConnectionStatus updates the MQTT connection status and last connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.SetToCurrentTime()
	} else {
		m.ConnectionStatus.Set(0)
	}
}

func (m *MQTTMetrics) IncrementMessagesDelivered() { m.MessagesDelivered.Inc() }
func (m *MQTTMetrics) IncrementErrors()            { m.Errors.Inc() }
func (m *MQTTMetrics) IncrementReconnectAttempts() { m.ReconnectAttempts.Inc() }

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ConnectionStatus
	ch <- m.MessagesDelivered
	ch <- m.Errors
	ch <- m.ReconnectAttempts
	ch <- m.LastConnectTime
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ConnectionStatus.Desc()
	ch <- m.MessagesDelivered.Desc()
	ch <- m.Errors.Desc()
	ch <- m.ReconnectAttempts.Desc()
	ch <- m.LastConnectTime.Desc()
}
