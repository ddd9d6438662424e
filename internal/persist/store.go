// Package persist keeps the ANC state that survives power cycles. Each
// backend implements anc.Store; Get returns the supplied defaults until
// something has been released.
package persist

import (
	"io"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

const ComponentPersist = "persist"

// Backend names accepted by Open
const (
	BackendMemory = "memory"
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"
)

// Store is a closable anc.Store
type Store interface {
	anc.Store
	io.Closer
}

// Open returns the store for backend. path is ignored by the memory backend.
func Open(backend, path string, defaults anc.Persisted, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.Global().Module(ComponentPersist)
	} else {
		log = log.Module(ComponentPersist)
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(defaults), nil
	case BackendYAML:
		return NewYAMLStore(path, defaults, log), nil
	case BackendSQLite:
		return OpenSQLStore(path, defaults, log)
	}
	return nil, errors.Newf("unknown persistence backend %q", backend).
		Component(ComponentPersist).
		Category(errors.CategoryConfiguration).
		Build()
}
