// Package simhw provides simulated hardware collaborators for tests and the
// simulate command. Every call is recorded in order and any operation can
// be made to fail a given number of times.
package simhw

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tphakala/twsaudio/internal/errors"
)

// ComponentSimHW identifies simulated hardware errors
const ComponentSimHW = "simhw"

// ErrInjected is returned by an operation with an injected failure
var ErrInjected = errors.New(errors.NewStd("injected hardware failure")).
	Component(ComponentSimHW).
	Category(errors.CategoryHardware).
	Build()

// Recorder keeps an ordered log of hardware calls
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the log
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Matching returns the calls starting with prefix
func (r *Recorder) Matching(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many calls start with prefix
func (r *Recorder) Count(prefix string) int {
	return len(r.Matching(prefix))
}

// Reset clears the log
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Faults holds injected failures keyed by operation, for example
// "graph.create:music-render", "amp.on" or "anc.enable"
type Faults struct {
	mu        sync.Mutex
	remaining map[string]int
}

// NewFaults creates an empty fault table
func NewFaults() *Faults {
	return &Faults{remaining: make(map[string]int)}
}

// Fail makes op fail the next times calls. A negative count fails forever.
func (f *Faults) Fail(op string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remaining[op] = times
}

// Clear removes all injected failures
func (f *Faults) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.remaining)
}

// check returns ErrInjected when one of ops has a failure left. Later ops
// are more specific and are checked first.
func (f *Faults) check(ops ...string) error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		n, ok := f.remaining[op]
		if !ok || n == 0 {
			continue
		}
		if n > 0 {
			f.remaining[op] = n - 1
		}
		return errors.New(ErrInjected).
			Context("operation", op).
			Build()
	}
	return nil
}
