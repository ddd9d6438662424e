package persist

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

// YAMLStore keeps state in a single YAML document. Writes go through a
// temporary file and a rename so a power loss leaves the old or the new
// document, never a torn one.
type YAMLStore struct {
	mu       sync.Mutex
	path     string
	defaults anc.Persisted
	logger   logger.Logger
}

func NewYAMLStore(path string, defaults anc.Persisted, log logger.Logger) *YAMLStore {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &YAMLStore{path: path, defaults: defaults, logger: log}
}

// Get reads the document. A missing file yields the defaults.
func (s *YAMLStore) Get() (anc.Persisted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Debug("no persisted anc state yet", logger.String("path", s.path))
		return s.defaults, nil
	}
	if err != nil {
		return s.defaults, s.fileError(err, "read")
	}

	p := s.defaults
	if err := yaml.Unmarshal(data, &p); err != nil {
		return s.defaults, errors.New(err).
			Component(ComponentPersist).
			Category(errors.CategoryPersistence).
			Context("operation", "decode").
			Context("path", s.path).
			Build()
	}
	return p, nil
}

func (s *YAMLStore) Release(p anc.Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(p)
	if err != nil {
		return errors.New(err).
			Component(ComponentPersist).
			Category(errors.CategoryPersistence).
			Context("operation", "encode").
			Build()
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.fileError(err, "mkdir")
	}
	tmp, err := os.CreateTemp(dir, ".anc-state-*")
	if err != nil {
		return s.fileError(err, "create_temp")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return s.fileError(err, "write")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return s.fileError(err, "sync")
	}
	if err := tmp.Close(); err != nil {
		return s.fileError(err, "close")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return s.fileError(err, "rename")
	}

	s.logger.Debug("persisted anc state",
		logger.Bool("enabled", p.Enabled),
		logger.Int("mode", p.Mode),
		logger.Int("leakthrough_gain", p.LeakthroughGain))
	return nil
}

func (s *YAMLStore) Close() error { return nil }

func (s *YAMLStore) fileError(err error, op string) error {
	return errors.New(err).
		Component(ComponentPersist).
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Context("path", s.path).
		Build()
}
