package simulate

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/twsaudio/internal/conf"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func parse(t *testing.T, doc string) *Scenario {
	t.Helper()
	sc, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return sc
}

func TestParseScenario(t *testing.T) {
	t.Parallel()
	sc := parse(t, `
name: parse
faults:
  - {op: amp, times: 2}
steps:
  - pipeline: start-music
    args: {codec: aac, sample_rate: 44100, volume: 40}
  - advance: 250ms
  - sync: handover
    role: synchronized-secondary
  - source: {name: a2dp, available: false}
  - clear_faults: true
`)
	assert.Equal(t, DefaultToneDuration, sc.ToneDuration)
	require.Len(t, sc.Steps, 5)
	assert.Equal(t, 250*time.Millisecond, sc.Steps[1].Advance)

	ev, err := sc.Steps[0].event()
	require.NoError(t, err)
	sm, ok := ev.(pipeline.StartMusic)
	require.True(t, ok)
	assert.Equal(t, 44100, sm.Codec.SampleRate)
	assert.Equal(t, 40, sm.Volume)

	ev, err = sc.Steps[2].event()
	require.NoError(t, err)
	assert.Equal(t, syncproto.HandoverRequest{Role: syncproto.RoleSyncSecondary}, ev)
}

func TestParseScenarioRejects(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"no steps":      "name: empty\n",
		"two actions":   "steps:\n  - {pipeline: stop, advance: 1s}\n",
		"no action":     "steps:\n  - {value: 3}\n",
		"unknown event": "steps:\n  - {pipeline: moonwalk}\n",
		"unknown role":  "steps:\n  - {sync: handover, role: captain}\n",
		"fault no op":   "steps:\n  - fault: {times: 1}\n",
		"bad yaml":      "steps: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseScenario([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestRunnerPlaysMusicScenario(t *testing.T) {
	t.Parallel()
	sc, err := LoadScenario(filepath.Join("testdata", "music.yaml"))
	require.NoError(t, err)

	var out bytes.Buffer
	report, err := NewRunner(conf.Defaults(), &out, nil).Run(sc)
	require.NoError(t, err)
	assert.True(t, report.Passed(), report.Failures)
	assert.Equal(t, len(sc.Steps), report.Steps)
	assert.Equal(t, "idle", report.Final.Pipeline.State)
	assert.NotEmpty(t, report.Transitions)
	assert.Equal(t, "idle", report.Transitions[0].From)
	assert.Contains(t, out.String(), "pipeline  idle -> ")
	assert.Contains(t, out.String(), "event     pipeline.start-music")
	assert.NotEmpty(t, report.Calls)
}

func TestRunnerCompletesTones(t *testing.T) {
	t.Parallel()
	sc := parse(t, `
name: tone
tone_duration: 100ms
steps:
  - pipeline: play-tone
    args: {tone: power-on}
  - expect: {pipeline: tone-playing}
  - advance: 150ms
  - expect: {pipeline: idle}
`)
	report, err := NewRunner(conf.Defaults(), nil, nil).Run(sc)
	require.NoError(t, err)
	assert.True(t, report.Passed(), report.Failures)
}

func TestRunnerRecordsFailedExpectations(t *testing.T) {
	t.Parallel()
	sc := parse(t, `
steps:
  - expect: {pipeline: music-streaming, clock: boost}
`)
	report, err := NewRunner(conf.Defaults(), nil, nil).Run(sc)
	require.NoError(t, err)
	assert.False(t, report.Passed())
	assert.Len(t, report.Failures, 2)
}

func TestRunnerInjectsBootFaults(t *testing.T) {
	t.Parallel()
	sc := parse(t, `
faults:
  - {op: "graph.create:music-decode", times: -1}
steps:
  - pipeline: start-music
    args: {codec: aac, sample_rate: 44100, source: a2dp}
  - advance: 1s
  - expect: {pipeline: idle, live_graphs: 0}
`)
	report, err := NewRunner(conf.Defaults(), nil, nil).Run(sc)
	require.NoError(t, err)
	assert.True(t, report.Passed(), report.Failures)
	assert.Positive(t, report.Final.Pipeline.HardwareFailures)
}

func TestRunnerReportsBrokenContract(t *testing.T) {
	t.Parallel()
	sc := parse(t, `
steps:
  - pipeline: start-music
    args: {codec: aac, sample_rate: 44100, source: a2dp}
  - pipeline: start-voice
    args: {chain: msbc}
  - expect: {pipeline: idle}
`)
	report, err := NewRunner(conf.Defaults(), nil, nil).Run(sc)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Steps)
}

func TestSimulateCommand(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	cmd := Command(conf.Defaults())
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--json", filepath.Join("testdata", "music.yaml")})
	require.NoError(t, cmd.Execute())

	var report Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "music lifecycle with anc boost", report.Scenario)
	assert.Empty(t, report.Calls)
	assert.True(t, report.Passed())
}

func TestSimulateCommandFailsOnExpectation(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fail.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - expect: {anc: tuning-active}\n"), 0o600))

	var out bytes.Buffer
	cmd := Command(conf.Defaults())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, out.String(), "FAIL")
}

