package eventloop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven by the caller. Nothing runs
// until RunPending or Advance is called, and time only moves via Advance.
type Manual struct {
	mu         sync.Mutex
	dispatcher Dispatcher
	now        time.Time
	queue      []Event
	timers     []manualTimer
	nextID     TimerID
	seq        uint64
	dispatched uint64
}

type manualTimer struct {
	id  TimerID
	due time.Time
	seq uint64
	ev  Event
}

// NewManual creates a manual scheduler whose clock starts at start
func NewManual(start time.Time, d Dispatcher) *Manual {
	return &Manual{dispatcher: d, now: start}
}

// SetDispatcher sets the dispatcher
func (m *Manual) SetDispatcher(d Dispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatcher = d
}

// Post queues ev
func (m *Manual) Post(ev Event) bool {
	if ev == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, ev)
	return true
}

// PostAfter schedules ev at Now()+d
func (m *Manual) PostAfter(d time.Duration, ev Event) TimerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.seq++
	m.timers = append(m.timers, manualTimer{id: m.nextID, due: m.now.Add(d), seq: m.seq, ev: ev})
	return m.nextID
}

// Cancel removes a pending timer
func (m *Manual) Cancel(id TimerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.timers {
		if t.id == id {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Now returns the virtual time
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// RunPending dispatches queued events in order, including events posted by
// the handlers themselves, until the queue is empty. It returns the number
// of events dispatched.
func (m *Manual) RunPending() int {
	n := 0
	for m.Step() {
		n++
	}
	return n
}

// Step dispatches the oldest queued event, if any
func (m *Manual) Step() bool {
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return false
	}
	ev := m.queue[0]
	m.queue = m.queue[1:]
	d := m.dispatcher
	m.dispatched++
	m.mu.Unlock()

	if d != nil {
		d.Dispatch(ev)
	}
	return true
}

// Advance moves the clock forward by d. Timers due on the way fire in
// deadline order (ties in scheduling order) and everything they post is
// dispatched before the next timer fires.
func (m *Manual) Advance(d time.Duration) {
	m.RunPending()

	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		idx := m.nextDueLocked(target)
		if idx < 0 {
			m.now = target
			m.mu.Unlock()
			break
		}
		t := m.timers[idx]
		m.timers = append(m.timers[:idx], m.timers[idx+1:]...)
		if t.due.After(m.now) {
			m.now = t.due
		}
		m.queue = append(m.queue, t.ev)
		m.mu.Unlock()

		m.RunPending()
	}

	m.RunPending()
}

func (m *Manual) nextDueLocked(target time.Time) int {
	if len(m.timers) == 0 {
		return -1
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due.Equal(m.timers[j].due) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].due.Before(m.timers[j].due)
	})
	if m.timers[0].due.After(target) {
		return -1
	}
	return 0
}

// Pending returns the number of queued, undispatched events
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// PendingTimers returns the number of scheduled timers
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Dispatched returns the total number of events dispatched
func (m *Manual) Dispatched() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatched
}

var _ Scheduler = (*Manual)(nil)
