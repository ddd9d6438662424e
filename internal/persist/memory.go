package persist

import (
	"sync"

	"github.com/tphakala/twsaudio/internal/anc"
)

// MemoryStore keeps state for the life of the process
type MemoryStore struct {
	mu       sync.Mutex
	state    anc.Persisted
	releases int
}

func NewMemoryStore(defaults anc.Persisted) *MemoryStore {
	return &MemoryStore{state: defaults}
}

func (s *MemoryStore) Get() (anc.Persisted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *MemoryStore) Release(p anc.Persisted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = p
	s.releases++
	return nil
}

// Releases counts the writes so far
func (s *MemoryStore) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

func (s *MemoryStore) Close() error { return nil }
