package tones

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/pipeline"
)

// writeTone writes a silent 16-bit WAV of the given length
func writeTone(t *testing.T, dir, name string, rate, chans int, length time.Duration) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, chans, 1)
	frames := int(length.Seconds() * float64(rate))
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: chans, SampleRate: rate},
		Data:           make([]int, frames*chans),
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestLookupReadsHeader(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTone(t, dir, "chime.wav", 16000, 1, 500*time.Millisecond)

	lib := NewLibrary(dir, time.Minute, nil)
	tone, err := lib.Lookup("chime")
	require.NoError(t, err)
	assert.Equal(t, 16000, tone.SampleRate)
	assert.Equal(t, 1, tone.Channels)
	assert.Equal(t, 16, tone.BitDepth)
	assert.InDelta(t, float64(500*time.Millisecond), float64(tone.Duration), float64(5*time.Millisecond))
	assert.Equal(t, 1, lib.Size())

	require.NoError(t, os.Remove(filepath.Join(dir, "chime.wav")))
	_, err = lib.Lookup("chime")
	require.NoError(t, err, "served from cache")

	lib.Flush()
	_, err = lib.Lookup("chime")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}

func TestResolveFillsRate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTone(t, dir, "prompt.wav", 48000, 2, 100*time.Millisecond)
	lib := NewLibrary(dir, 0, nil)

	e, err := lib.Resolve(pipeline.PlayTone{Ref: "prompt.wav", Interruptible: true})
	require.NoError(t, err)
	assert.Equal(t, 48000, e.SampleRate)
	assert.True(t, e.Interruptible)

	e, err = lib.Resolve(pipeline.PlayTone{Ref: "prompt", SampleRate: 8000})
	require.NoError(t, err)
	assert.Equal(t, 8000, e.SampleRate, "explicit rate wins")
}

func TestLookupRejectsBadInput(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.wav"), []byte("not a riff file"), 0o600))
	lib := NewLibrary(dir, 0, nil)

	for _, ref := range []string{"", "../etc/passwd", "a/b", "junk"} {
		_, err := lib.Lookup(ref)
		require.Error(t, err, ref)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), ref)
	}
}

func TestList(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTone(t, dir, "a.wav", 16000, 1, 10*time.Millisecond)
	writeTone(t, dir, "b.WAV", 16000, 1, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o600))

	refs, err := NewLibrary(dir, 0, nil).List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, refs)
}

func TestCachedNeverReadsDisk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTone(t, dir, "beep.wav", 16000, 1, 50*time.Millisecond)
	lib := NewLibrary(dir, 0, nil)

	_, ok := lib.Cached("beep")
	assert.False(t, ok, "not loaded yet")
	assert.Zero(t, lib.Size())

	_, err := lib.Lookup("beep")
	require.NoError(t, err)
	tone, ok := lib.Cached("beep")
	require.True(t, ok)
	assert.Equal(t, 16000, tone.SampleRate)
}
