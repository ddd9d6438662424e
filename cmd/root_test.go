package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twsaudio/internal/buildinfo"
	"github.com/tphakala/twsaudio/internal/conf"
)

func TestVersionSkipsConfig(t *testing.T) {
	settings := &conf.Settings{}
	root := RootCommand(buildinfo.NewContext("1.2.3", "2024-06-01", ""), settings)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--config", "/does/not/exist.yaml"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "twsaudio 1.2.3 (built 2024-06-01)")
}

func TestRootLoadsConfigAndAppliesFlags(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("main:\n  name: right-bud\n  side: right\n"), 0o600))

	scenario := filepath.Join(dir, "idle.yaml")
	require.NoError(t, os.WriteFile(scenario, []byte("steps:\n  - expect: {pipeline: idle}\n"), 0o600))

	settings := &conf.Settings{}
	root := RootCommand(buildinfo.NewContext("test", "", ""), settings)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "--debug", "simulate", scenario})
	require.NoError(t, root.Execute())

	assert.Equal(t, "right-bud", settings.Main.Name)
	assert.Equal(t, "right", settings.Main.Side)
	assert.True(t, settings.Debug)
	assert.Equal(t, "debug", settings.Logging.DefaultLevel)
	assert.Contains(t, out.String(), "PASS")
}

func TestRootFailsOnMissingConfig(t *testing.T) {
	settings := &conf.Settings{}
	root := RootCommand(buildinfo.NewContext("test", "", ""), settings)
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "simulate", "x.yaml"})
	assert.Error(t, root.Execute())
}
