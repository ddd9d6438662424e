// Package tones resolves tone and prompt references to WAV files. Only
// the header is decoded; the tone node streams the samples itself.
package tones

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/pipeline"
)

const ComponentTones = "tones"

const (
	defaultCacheTTL = 10 * time.Minute
	maxChannels     = 2
)

// Tone describes a playable WAV file
type Tone struct {
	Ref        string        `json:"ref"`
	Path       string        `json:"path"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
	Duration   time.Duration `json:"duration"`
}

// Library looks up tones under a directory. A reference is a file name
// with or without the .wav extension.
type Library struct {
	dir    string
	cache  *cache.Cache
	logger logger.Logger
}

func NewLibrary(dir string, ttl time.Duration, log logger.Logger) *Library {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Library{
		dir:    dir,
		cache:  cache.New(ttl, ttl*2),
		logger: log.Module(ComponentTones),
	}
}

// Lookup returns the tone for ref, decoding its header on a cache miss
func (l *Library) Lookup(ref string) (Tone, error) {
	if cached, found := l.cache.Get(ref); found {
		return cached.(Tone), nil
	}

	path, err := l.path(ref)
	if err != nil {
		return Tone{}, err
	}
	t, err := readHeader(path)
	if err != nil {
		return Tone{}, err
	}
	t.Ref = ref
	l.cache.Set(ref, t, cache.DefaultExpiration)
	l.logger.Debug("loaded tone",
		logger.String("tone", ref),
		logger.Int("sample_rate", t.SampleRate),
		logger.Duration("duration", t.Duration))
	return t, nil
}

// Resolve fills the sample rate of a tone event from its file
func (l *Library) Resolve(e pipeline.PlayTone) (pipeline.PlayTone, error) {
	t, err := l.Lookup(e.Ref)
	if err != nil {
		return e, err
	}
	if e.SampleRate <= 0 {
		e.SampleRate = t.SampleRate
	}
	return e, nil
}

// List returns the references of every WAV file in the directory
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentTones).
			Category(errors.CategoryFileIO).
			Context("dir", l.dir).
			Build()
	}
	var refs []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.EqualFold(filepath.Ext(name), ".wav") {
			refs = append(refs, strings.TrimSuffix(name, filepath.Ext(name)))
		}
	}
	return refs, nil
}

// Flush drops cached headers so edited files are re-read
func (l *Library) Flush() { l.cache.Flush() }

// Size returns the number of cached headers
func (l *Library) Size() int { return l.cache.ItemCount() }

// Cached returns ref only if its header is already cached. It never
// touches the disk, so it is safe on the event loop.
func (l *Library) Cached(ref string) (Tone, bool) {
	if v, found := l.cache.Get(ref); found {
		return v.(Tone), true
	}
	return Tone{}, false
}

func (l *Library) path(ref string) (string, error) {
	if !filepath.IsLocal(ref) || strings.ContainsAny(ref, `/\`) {
		return "", errors.Newf("invalid tone reference %q", ref).
			Component(ComponentTones).
			Category(errors.CategoryValidation).
			Build()
	}
	if !strings.EqualFold(filepath.Ext(ref), ".wav") {
		ref += ".wav"
	}
	return filepath.Join(l.dir, ref), nil
}

func readHeader(path string) (Tone, error) {
	file, err := os.Open(path)
	if err != nil {
		cat := errors.CategoryFileIO
		if os.IsNotExist(err) {
			cat = errors.CategoryNotFound
		}
		return Tone{}, errors.New(err).
			Component(ComponentTones).
			Category(cat).
			Context("path", path).
			Build()
	}
	defer func() { _ = file.Close() }()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return Tone{}, invalid(path, "not a valid WAV file")
	}
	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return Tone{}, invalid(path, "unsupported bit depth")
	}
	if decoder.NumChans == 0 || decoder.NumChans > maxChannels {
		return Tone{}, invalid(path, "unsupported channel count")
	}

	duration, err := decoder.Duration()
	if err != nil {
		return Tone{}, errors.New(err).
			Component(ComponentTones).
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	return Tone{
		Path:       path,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Duration:   duration,
	}, nil
}

func invalid(path, msg string) error {
	return errors.Newf("%s", msg).
		Component(ComponentTones).
		Category(errors.CategoryValidation).
		Context("path", path).
		Build()
}
