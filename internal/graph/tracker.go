package graph

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// TrackedGraph describes a live graph
type TrackedGraph struct {
	ID        string
	Name      string
	Role      Role
	CreatedAt time.Time
}

// Tracker counts live graphs so leaks show up in tests and metrics.
// It is safe for concurrent use; the status endpoint reads it off-loop.
type Tracker struct {
	mu     sync.RWMutex
	graphs map[string]TrackedGraph

	totalCreated   atomic.Int64
	totalDestroyed atomic.Int64
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{graphs: make(map[string]TrackedGraph)}
}

// Track registers a new graph
func (t *Tracker) Track(id, name string, role Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.graphs[id] = TrackedGraph{ID: id, Name: name, Role: role, CreatedAt: time.Now()}
	t.totalCreated.Add(1)
}

// Untrack removes a destroyed graph
func (t *Tracker) Untrack(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.graphs[id]; ok {
		delete(t.graphs, id)
		t.totalDestroyed.Add(1)
	}
}

// Live returns the number of graphs not yet destroyed
func (t *Tracker) Live() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.graphs)
}

// LiveByName counts live graphs per spec name
func (t *Tracker) LiveByName() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.graphs))
	for _, g := range t.graphs {
		out[g.Name]++
	}
	return out
}

// Snapshot returns a copy of all live graphs
func (t *Tracker) Snapshot() map[string]TrackedGraph {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.graphs)
}

// Totals returns the number of graphs created and destroyed since start
func (t *Tracker) Totals() (created, destroyed int64) {
	return t.totalCreated.Load(), t.totalDestroyed.Load()
}
