package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/twsaudio/internal/resource"
)

// ResourceMetrics implements resource.Observer
type ResourceMetrics struct {
	AmpUsers     prometheus.Gauge
	AmpOn        prometheus.Gauge
	ClockProfile prometheus.Gauge
	ClockChanges prometheus.Counter
	MicUsers     *prometheus.GaugeVec
}

func NewResourceMetrics(registry prometheus.Registerer) (*ResourceMetrics, error) {
	m := &ResourceMetrics{
		AmpUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "amplifier_users",
			Help:      "Amplifier reference count",
		}),
		AmpOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "amplifier_on",
			Help:      "1 while the amplifier is physically powered",
		}),
		ClockProfile: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dsp_clock_profile",
			Help:      "Current DSP clock profile (0 slow to 4 boost)",
		}),
		ClockChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dsp_clock_changes_total",
			Help:      "DSP clock profile changes applied",
		}),
		MicUsers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "microphone_users",
			Help:      "Leases held per microphone",
		}, []string{"mic"}),
	}
	for _, c := range []prometheus.Collector{m.AmpUsers, m.AmpOn, m.ClockProfile, m.ClockChanges, m.MicUsers} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register resource metrics: %w", err)
		}
	}
	return m, nil
}

func (m *ResourceMetrics) AmplifierChanged(count int, physicallyOn bool) {
	m.AmpUsers.Set(float64(count))
	if physicallyOn {
		m.AmpOn.Set(1)
	} else {
		m.AmpOn.Set(0)
	}
}

func (m *ResourceMetrics) ClockChanged(p resource.ClockProfile) {
	m.ClockProfile.Set(float64(p))
	m.ClockChanges.Inc()
}

func (m *ResourceMetrics) MicUsersChanged(mic resource.MicID, users int) {
	m.MicUsers.WithLabelValues(string(mic)).Set(float64(users))
}
