package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleLoggerWritesModuleAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "debug"},
	}, buf)
	require.NoError(t, err)

	log := cl.Module("pipeline").With(String("session", "s1"))
	log.Info("state changed", String("from", "idle"), String("to", "music"), Int("generation", 3))

	out := buf.String()
	assert.Contains(t, out, "module=pipeline")
	assert.Contains(t, out, "session=s1")
	assert.Contains(t, out, "from=idle")
	assert.Contains(t, out, "to=music")
	assert.Contains(t, out, "generation=3")
	assert.NotContains(t, out, "time=")
}

func TestModuleLevels(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "trace"},
		ModuleLevels: map[string]string{"eventloop": "trace"},
	}, buf)
	require.NoError(t, err)

	cl.Module("anc").Debug("hidden")
	cl.Module("eventloop").Trace("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "level=TRACE")
}

func TestSubModuleInheritsParentLevel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "trace"},
		ModuleLevels: map[string]string{"pipeline": "debug", "pipeline.tones": "warn"},
	}, buf)
	require.NoError(t, err)

	pipe := cl.Module("pipeline")
	pipe.Module("phase").Debug("phase b ready")
	pipe.Module("tones").Info("tone queued")
	cl.Module("anc").Debug("mode set")

	out := buf.String()
	assert.Contains(t, out, "phase b ready")
	assert.Contains(t, out, "module=pipeline.phase")
	assert.NotContains(t, out, "tone queued")
	assert.NotContains(t, out, "mode set")
}

func TestSubModuleNaming(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC).Module("pipeline").Module("phase")
	log.Warn("step dropped")

	assert.Contains(t, buf.String(), "module=pipeline.phase")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	parent := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	_ = parent.With(String("child", "yes"))
	parent.Info("from parent")

	assert.NotContains(t, buf.String(), "child=yes")
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.WithContext(WithTraceID(context.Background(), "abc-123")).Info("request")
	assert.Contains(t, buf.String(), "trace_id=abc-123")

	assert.Same(t, log, log.WithContext(context.Background()))
}

func TestLogExplicitLevel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn, time.UTC)
	log.Log(LogLevelInfo, "dropped")
	log.Log(LogLevelError, "kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestFieldRendering(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.5s", fieldToAttr(Duration("d", 1500*time.Millisecond)).Value.String())
	assert.InDelta(t, 0.333, fieldToAttr(Float64("f", 1.0/3.0)).Value.Float64(), 1e-9)
	assert.Nil(t, Error(nil).Value)
	assert.Equal(t, "boom", Error(assertErr("boom")).Value)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestFileOutputIsJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "core.log")
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "info"},
	}, &bytes.Buffer{})
	require.NoError(t, err)

	cl.Module("anc").Info("mode applied", Int("mode", 2))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "mode applied", rec["msg"])
	assert.Equal(t, "anc", rec["module"])
	assert.InDelta(t, 2, rec["mode"], 0)
}

func TestInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := newCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestNilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(nil)
	require.Error(t, err)
}

func TestDiscardLogger(t *testing.T) {
	t.Parallel()

	log := NewDiscardLogger()
	log.Error("nothing")
	assert.NoError(t, log.Flush())
}

func TestLogFileCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	f, err := OpenLogFile(filepath.Join(t.TempDir(), "w.log"), 0)
	require.NoError(t, err)

	_, err = f.Write([]byte("line\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, f.Buffered())

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err = f.Write([]byte("after"))
	assert.Error(t, err)
}

func TestLogFileTimedFlush(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "timed.log")
	f, err := OpenLogFile(path, 10*time.Millisecond)
	require.NoError(t, err)
	defer func() { assert.NoError(t, f.Close()) }()

	_, err = f.Write([]byte("anc enabled\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && string(data) == "anc enabled\n"
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.Buffered())
}

func TestTeeHandlerRespectsLevels(t *testing.T) {
	t.Parallel()

	var debug, warn bytes.Buffer
	tee := teeHandler{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	log := slog.New(tee).With("module", "pipeline")

	log.Debug("phase step")
	log.Warn("event rejected")

	assert.Contains(t, debug.String(), "phase step")
	assert.Contains(t, debug.String(), "event rejected")
	assert.NotContains(t, warn.String(), "phase step")
	assert.Contains(t, warn.String(), "module=pipeline")
}
