package eventloop

import "time"

// Event is anything that can be queued on the loop
type Event interface {
	EventName() string
}

// Dispatcher receives every event, one at a time, on the loop goroutine
type Dispatcher interface {
	Dispatch(ev Event)
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ev Event)

// Dispatch calls f(ev)
func (f DispatcherFunc) Dispatch(ev Event) { f(ev) }

// TimerID identifies a deferred event. Zero is never a valid ID.
type TimerID uint64

// Scheduler is the view of the loop given to components. Post enqueues an
// event behind everything already queued; PostAfter enqueues it once the
// delay elapses unless cancelled first.
type Scheduler interface {
	Post(ev Event) bool
	PostAfter(d time.Duration, ev Event) TimerID
	Cancel(id TimerID) bool
	Now() time.Time
}

// Stats holds loop counters
type Stats struct {
	Received        uint64
	Dispatched      uint64
	Dropped         uint64
	TimersScheduled uint64
	TimersCancelled uint64
	TimersFired     uint64
}

