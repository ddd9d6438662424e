package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/events"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/resource"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

func newMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics()
	require.NoError(t, err)
	return m
}

func TestPipelineMetrics(t *testing.T) {
	t.Parallel()
	m := newMetrics(t)
	idle := pipeline.StateIdle.String()
	assert.InDelta(t, 1, testutil.ToFloat64(m.Pipeline.State.WithLabelValues(idle)), 0)

	m.Pipeline.PipelineStateChanged(pipeline.StateIdle, pipeline.StateTonePlaying)
	m.Pipeline.PipelineStateChanged(pipeline.StateTonePlaying, pipeline.StateIdle)
	m.Pipeline.PipelineStateChanged(pipeline.StateIdle, pipeline.StateTonePlaying)
	m.Pipeline.ObserveEvent("stop", pipeline.Rejected)

	tone := pipeline.StateTonePlaying.String()
	assert.InDelta(t, 0, testutil.ToFloat64(m.Pipeline.State.WithLabelValues(idle)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Pipeline.State.WithLabelValues(tone)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Pipeline.Transitions.WithLabelValues(idle, tone)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Pipeline.Events.WithLabelValues("stop", pipeline.Rejected.String())), 0)
}

func TestResourceSyncANCMetrics(t *testing.T) {
	t.Parallel()
	m := newMetrics(t)

	var ro resource.Observer = m.Resource
	ro.AmplifierChanged(2, true)
	ro.ClockChanged(resource.ClockHigh)
	ro.MicUsersChanged("mic0", 1)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Resource.AmpUsers), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Resource.AmpOn), 0)
	assert.InDelta(t, float64(resource.ClockHigh), testutil.ToFloat64(m.Resource.ClockProfile), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Resource.MicUsers.WithLabelValues("mic0")), 0)

	var so syncproto.Observer = m.Sync
	so.SyncFallback("s1")
	so.SyncHandover("s1", syncproto.RoleSyncPrimary, syncproto.RoleSyncSecondary, true)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sync.Fallbacks), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sync.Handovers.WithLabelValues(syncproto.RoleSyncSecondary.String(), "true")), 0)

	var al anc.Listener = m.ANC
	al.OnANC(anc.Notification{Kind: anc.KindModeChanged, Enabled: true, ActiveMode: 3, Gain: 7})
	assert.InDelta(t, 1, testutil.ToFloat64(m.ANC.Enabled), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.ANC.ActiveMode), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.ANC.Gain), 0)
}

func TestMQTTMetrics(t *testing.T) {
	t.Parallel()
	m := newMetrics(t)
	m.MQTT.UpdateConnectionStatus(true)
	m.MQTT.IncrementMessagesDelivered()
	m.MQTT.IncrementReconnectAttempts()
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.ConnectionStatus), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.MessagesDelivered), 0)
	assert.Positive(t, testutil.ToFloat64(m.MQTT.LastConnectTime))
	m.MQTT.UpdateConnectionStatus(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.MQTT.ConnectionStatus), 0)
}

func TestEventBusCounters(t *testing.T) {
	t.Parallel()
	m := newMetrics(t)
	require.NoError(t, m.RegisterEventBus(func() events.EventBusStats {
		return events.EventBusStats{EventsReceived: 5, EventsDropped: 2}
	}))
	n, err := testutil.GatherAndCount(m.Registry(), "twsaudio_eventbus_events_total")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	expected := `
# HELP twsaudio_eventbus_events_total Event bus throughput by outcome
# TYPE twsaudio_eventbus_events_total counter
twsaudio_eventbus_events_total{outcome="dropped"} 2
twsaudio_eventbus_events_total{outcome="processed"} 0
twsaudio_eventbus_events_total{outcome="received"} 5
twsaudio_eventbus_events_total{outcome="suppressed"} 0
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "twsaudio_eventbus_events_total"))
}

func TestEndpointServesMetrics(t *testing.T) {
	t.Parallel()
	m := newMetrics(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	e := NewEndpoint(ln.Addr().String(), m, logger.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "twsaudio_pipeline_state")

	cancel()
	require.NoError(t, <-done)
	assert.Same(t, m, e.GetMetrics())
}
