package run

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twsaudio/internal/buildinfo"
	"github.com/tphakala/twsaudio/internal/conf"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/simhw"
	"github.com/tphakala/twsaudio/internal/tones"
)

type fakeCache map[string]time.Duration

func (f fakeCache) Cached(ref string) (tones.Tone, bool) {
	d, ok := f[ref]
	return tones.Tone{Ref: ref, Duration: d}, ok
}

type recordingPoster struct {
	mu   sync.Mutex
	done []pipeline.ToneComplete
}

func (p *recordingPoster) Post(ev eventloop.Event) bool {
	if tc, ok := ev.(pipeline.ToneComplete); ok {
		p.mu.Lock()
		p.done = append(p.done, tc)
		p.mu.Unlock()
	}
	return true
}

func (p *recordingPoster) completed() []pipeline.ToneComplete {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pipeline.ToneComplete(nil), p.done...)
}

func TestApplyFlagsOverridesOnlyChanged(t *testing.T) {
	t.Parallel()
	s := conf.Defaults()
	origMetrics := s.Telemetry.Listen

	cmd := Command(s, buildinfo.NewContext("test", "", ""))
	require.NoError(t, cmd.ParseFlags([]string{"--listen", "127.0.0.1:9999", "--mqtt", "--no-api"}))

	f := &flags{}
	f.listen, _ = cmd.Flags().GetString("listen")
	f.mqtt, _ = cmd.Flags().GetBool("mqtt")
	f.noAPI, _ = cmd.Flags().GetBool("no-api")
	applyFlags(cmd, f, s)

	assert.Equal(t, "127.0.0.1:9999", s.API.Listen)
	assert.True(t, s.MQTT.Enabled)
	assert.False(t, s.API.Enabled)
	assert.Equal(t, origMetrics, s.Telemetry.Listen)
}

func TestToneCompleterPostsAfterDuration(t *testing.T) {
	t.Parallel()
	poster := &recordingPoster{}
	c := newToneCompleter(fakeCache{"chime": 10 * time.Millisecond}, poster, logger.NewDiscardLogger())
	defer c.Stop()

	c.Cue(simhw.ToneCue{Graph: "tone-render", Ref: "chime", Seq: 1})

	require.Eventually(t, func() bool { return len(poster.completed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, pipeline.ToneComplete{Ref: "chime", Seq: 1}, poster.completed()[0])
	assert.Zero(t, c.Pending())
}

func TestToneCompleterUncachedUsesFallback(t *testing.T) {
	t.Parallel()
	poster := &recordingPoster{}
	c := newToneCompleter(fakeCache{}, poster, logger.NewDiscardLogger())
	defer c.Stop()

	start := time.Now()
	c.Cue(simhw.ToneCue{Graph: "tone-render", Ref: "not-loaded", Seq: 4})

	require.Eventually(t, func() bool { return len(poster.completed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), fallbackToneDuration)
}

func TestToneCompleterDropsStoppedAndSupersededTones(t *testing.T) {
	t.Parallel()
	poster := &recordingPoster{}
	c := newToneCompleter(fakeCache{
		"first":  30 * time.Millisecond,
		"second": 60 * time.Millisecond,
		"third":  20 * time.Millisecond,
	}, poster, logger.NewDiscardLogger())
	defer c.Stop()

	c.Cue(simhw.ToneCue{Ref: "first", Seq: 1})
	c.Cue(simhw.ToneCue{Seq: 1, Stop: true})
	assert.Zero(t, c.Pending())

	c.Cue(simhw.ToneCue{Ref: "second", Seq: 2})
	c.Cue(simhw.ToneCue{Ref: "third", Seq: 3})
	assert.Equal(t, 1, c.Pending())

	require.Eventually(t, func() bool { return len(poster.completed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []pipeline.ToneComplete{{Ref: "third", Seq: 3}}, poster.completed())
}

func TestToneCompleterStopCancels(t *testing.T) {
	t.Parallel()
	poster := &recordingPoster{}
	c := newToneCompleter(fakeCache{"long": time.Hour}, poster, logger.NewDiscardLogger())

	c.Cue(simhw.ToneCue{Ref: "long", Seq: 1})
	assert.Equal(t, 1, c.Pending())
	c.Stop()
	assert.Zero(t, c.Pending())

	c.Cue(simhw.ToneCue{Ref: "long", Seq: 2})
	assert.Zero(t, c.Pending(), "no completions after stop")
	assert.Empty(t, poster.completed())
}

func TestBeforeSendStripsIdentity(t *testing.T) {
	t.Parallel()
	ev := &sentry.Event{
		ServerName: "bud-host",
		Message:    "publish to tcp://bud:pw@10.0.0.2:1883 failed",
		Exception:  []sentry.Exception{{Value: "password=hunter2"}},
		Request:    &sentry.Request{URL: "http://x"},
	}
	out := beforeSend("sys-1")(ev, nil)
	require.NotNil(t, out)
	assert.NotContains(t, out.Message, "pw@")
	assert.Equal(t, "password=[REDACTED]", out.Exception[0].Value)
	assert.Empty(t, out.ServerName)
	assert.Nil(t, out.Request)
	assert.Equal(t, "sys-1", out.User.ID)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := conf.Defaults()
	s.API.Enabled = false
	s.Telemetry.Enabled = false
	s.MQTT.Enabled = false
	s.Persist.Backend = "memory"
	s.Audio.ToneDir = t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, s, buildinfo.NewContext("test", "", "")) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunFailsOnUnknownBackend(t *testing.T) {
	s := conf.Defaults()
	s.API.Enabled = false
	s.Persist.Backend = "floppy"

	err := Run(context.Background(), s, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
