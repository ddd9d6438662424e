package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/controller"
	twserrors "github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/events"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/pipeline"
)

type fakeController struct {
	mu        sync.Mutex
	submitted []eventloop.Event
	status    controller.Status
	err       error
}

func (f *fakeController) Submit(ev eventloop.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, ev)
	return nil
}

func (f *fakeController) Status() controller.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) events() []eventloop.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]eventloop.Event(nil), f.submitted...)
}

type fakeTones struct{}

func (fakeTones) Resolve(e pipeline.PlayTone) (pipeline.PlayTone, error) {
	if e.Ref != "chime" {
		return e, twserrors.Newf("tone %q not found", e.Ref).
			Category(twserrors.CategoryNotFound).
			Build()
	}
	e.SampleRate = 16000
	return e, nil
}

func (fakeTones) List() ([]string, error) { return []string{"chime"}, nil }

func newTestServer(t *testing.T, ctrl *fakeController, mutate func(*Config), opts ...ServerOption) *Server {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	opts = append([]ServerOption{WithLogger(logger.NewDiscardLogger())}, opts...)
	s, err := New(cfg, ctrl, opts...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeController{}, nil)
	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatus(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{status: controller.Status{
		Name:     "bud",
		Pipeline: pipeline.Status{State: "music-streaming", Volume: 40},
		ANC:      anc.Status{State: "enabled", ActiveMode: 2},
	}}
	s := newTestServer(t, ctrl, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got controller.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "bud", got.Name)
	assert.Equal(t, "music-streaming", got.Pipeline.State)
	assert.Equal(t, 40, got.Pipeline.Volume)
	assert.Equal(t, 2, got.ANC.ActiveMode)
}

func TestPostPipelineEvent(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	s := newTestServer(t, ctrl, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/pipeline/start-music",
		`{"codec":"aac","sample_rate":44100,"volume":50,"source":"a2dp"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Queued)
	assert.Equal(t, "pipeline.start-music", resp.Event)

	evs := ctrl.events()
	require.Len(t, evs, 1)
	sm, ok := evs[0].(pipeline.StartMusic)
	require.True(t, ok)
	assert.Equal(t, "aac", sm.Codec.Name)
	assert.Equal(t, 44100, sm.Codec.SampleRate)
	assert.Equal(t, 50, sm.Volume)

	rec = do(t, s, http.MethodPost, "/api/v1/pipeline/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, ctrl.events(), 2)
}

func TestPostUnknownEvent(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	s := newTestServer(t, ctrl, nil)

	for _, path := range []string{"/api/v1/pipeline/dance", "/api/v1/anc/boost"} {
		rec := do(t, s, http.MethodPost, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Len(t, resp.CorrelationID, 8)
	}
	assert.Empty(t, ctrl.events())
}

func TestPostANCEvent(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	s := newTestServer(t, ctrl, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/anc/set-mode", `{"value":3}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ctrl.events(), 1)
	assert.Equal(t, anc.SetMode{Mode: 3}, ctrl.events()[0])
}

func TestVoiceOverMusicIsRefused(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{status: controller.Status{Pipeline: pipeline.Status{State: "music-starting-b"}}}
	s := newTestServer(t, ctrl, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/pipeline/start-voice", `{"chain":"msbc"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, ctrl.events())
}

func TestQueueFullMapsToUnavailable(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{err: controller.ErrQueueFull}
	s := newTestServer(t, ctrl, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/anc/enable", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPlayToneIsResolved(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	s := newTestServer(t, ctrl, nil, WithTones(fakeTones{}))

	rec := do(t, s, http.MethodPost, "/api/v1/pipeline/play-tone", `{"tone":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/pipeline/play-tone", `{"tone":"chime","interruptible":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ctrl.events(), 1)
	assert.Equal(t, pipeline.PlayTone{Ref: "chime", SampleRate: 16000, Interruptible: true}, ctrl.events()[0])

	rec = do(t, s, http.MethodGet, "/api/v1/tones", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tones":["chime"]}`, rec.Body.String())
}

func TestRateLimitAppliesToInjectionOnly(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	s := newTestServer(t, ctrl, func(c *Config) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, do(t, s, http.MethodPost, "/api/v1/anc/enable", "").Code)
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)

	for range 5 {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/status", "").Code)
	}
}

func TestOptionalRoutes(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "twsaudio_up 1\n")
	})
	s := newTestServer(t, &fakeController{}, nil,
		WithMetrics(metrics),
		WithEventBusStats(func() events.EventBusStats { return events.EventBusStats{EventsReceived: 7} }))

	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "twsaudio_up")

	rec = do(t, s, http.MethodGet, "/api/v1/events/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	bare := newTestServer(t, &fakeController{}, nil)
	assert.Equal(t, http.StatusNotFound, do(t, bare, http.MethodGet, "/metrics", "").Code)
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Listen = "nonsense"
	_, err := New(cfg, &fakeController{})
	require.Error(t, err)
	assert.True(t, twserrors.IsCategory(err, twserrors.CategoryConfiguration))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeController{}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:gosec // test server
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}
