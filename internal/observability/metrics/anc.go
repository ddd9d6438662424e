package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/twsaudio/internal/anc"
)

// ANCMetrics implements anc.Listener
type ANCMetrics struct {
	Enabled     prometheus.Gauge
	ActiveMode  prometheus.Gauge
	Gain        prometheus.Gauge
	StateEvents *prometheus.CounterVec
}

func NewANCMetrics(registry prometheus.Registerer) (*ANCMetrics, error) {
	m := &ANCMetrics{
		Enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anc_enabled",
			Help:      "1 while noise cancellation is enabled",
		}),
		ActiveMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anc_active_mode",
			Help:      "Mode applied to the ANC hardware",
		}),
		Gain: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anc_leakthrough_gain",
			Help:      "Current leak-through gain",
		}),
		StateEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anc_notifications_total",
			Help:      "ANC notifications by kind",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.Enabled, m.ActiveMode, m.Gain, m.StateEvents} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register anc metrics: %w", err)
		}
	}
	return m, nil
}

func (m *ANCMetrics) OnANC(n anc.Notification) {
	if n.Enabled {
		m.Enabled.Set(1)
	} else {
		m.Enabled.Set(0)
	}
	m.ActiveMode.Set(float64(n.ActiveMode))
	m.Gain.Set(float64(n.Gain))
	m.StateEvents.WithLabelValues(string(n.Kind)).Inc()
}
