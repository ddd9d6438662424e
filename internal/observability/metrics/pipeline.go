package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/twsaudio/internal/pipeline"
)

// PipelineMetrics tracks the pipeline state machine
type PipelineMetrics struct {
	State       *prometheus.GaugeVec
	Transitions *prometheus.CounterVec
	Events      *prometheus.CounterVec
}

func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_state",
			Help:      "1 for the current pipeline state, 0 otherwise",
		}, []string{"state"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_transitions_total",
			Help:      "Committed pipeline transitions",
		}, []string{"from", "to"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_events_total",
			Help:      "Pipeline events by outcome",
		}, []string{"event", "result"}),
	}
	for _, c := range []prometheus.Collector{m.State, m.Transitions, m.Events} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	for _, s := range pipeline.AllStates {
		m.State.WithLabelValues(s.String()).Set(0)
	}
	m.State.WithLabelValues(pipeline.StateIdle.String()).Set(1)
	return m, nil
}

// PipelineStateChanged implements pipeline.StateListener
func (m *PipelineMetrics) PipelineStateChanged(from, to pipeline.State) {
	m.State.WithLabelValues(from.String()).Set(0)
	m.State.WithLabelValues(to.String()).Set(1)
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// ObserveEvent records the outcome of one handled event
func (m *PipelineMetrics) ObserveEvent(name string, r pipeline.Result) {
	m.Events.WithLabelValues(name, r.String()).Inc()
}
