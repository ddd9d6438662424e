package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/twsaudio/internal/syncproto"
)

// SyncMetrics implements syncproto.Observer
type SyncMetrics struct {
	Fallbacks prometheus.Counter
	Handovers *prometheus.CounterVec
}

func NewSyncMetrics(registry prometheus.Registerer) (*SyncMetrics, error) {
	m := &SyncMetrics{
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_fallbacks_total",
			Help:      "Sessions that fell back to unsynchronized rendering",
		}),
		Handovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_handovers_total",
			Help:      "Role handover requests by target role and veto",
		}, []string{"to", "vetoed"}),
	}
	for _, c := range []prometheus.Collector{m.Fallbacks, m.Handovers} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register sync metrics: %w", err)
		}
	}
	return m, nil
}

func (m *SyncMetrics) SyncFallback(string) { m.Fallbacks.Inc() }

func (m *SyncMetrics) SyncHandover(_ string, _, to syncproto.Role, vetoed bool) {
	m.Handovers.WithLabelValues(to.String(), strconv.FormatBool(vetoed)).Inc()
}
