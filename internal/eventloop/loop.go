package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

// DefaultQueueSize is the inbound queue capacity used when Config leaves it zero
const DefaultQueueSize = 256

// Config holds loop configuration
type Config struct {
	QueueSize int
}

// Loop is the production Scheduler: one goroutine draining a bounded FIFO.
// Fired timers bypass the bounded queue: they wait on the due list until
// the loop picks them up, so a full queue never loses a deferred event.
type Loop struct {
	queue      chan Event
	wake       chan struct{}
	dispatcher Dispatcher
	logger     logger.Logger

	mu     sync.Mutex
	timers map[TimerID]*deferred
	due    []TimerID
	nextID atomic.Uint64

	running  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	received        atomic.Uint64
	dispatched      atomic.Uint64
	dropped         atomic.Uint64
	timersScheduled atomic.Uint64
	timersCancelled atomic.Uint64
	timersFired     atomic.Uint64
}

// deferred is an armed timer and the event it will deliver
type deferred struct {
	timer *time.Timer
	ev    Event
}

// NewLoop creates a loop. The dispatcher may be set later with SetDispatcher
// but must be present before Run.
func NewLoop(cfg Config, d Dispatcher, log logger.Logger) *Loop {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Loop{
		queue:      make(chan Event, cfg.QueueSize),
		wake:       make(chan struct{}, 1),
		dispatcher: d,
		logger:     log.Module("eventloop"),
		timers:     make(map[TimerID]*deferred),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// SetDispatcher sets the dispatcher. Must be called before Run.
func (l *Loop) SetDispatcher(d Dispatcher) {
	l.dispatcher = d
}

// Post enqueues ev without blocking. It returns false when the queue is
// full or the loop has stopped.
func (l *Loop) Post(ev Event) bool {
	if ev == nil || l.stopped.Load() {
		return false
	}
	select {
	case l.queue <- ev:
		l.received.Add(1)
		return true
	default:
		l.dropped.Add(1)
		l.logger.Warn("event dropped, queue full",
			logger.String("event", ev.EventName()),
			logger.Int("capacity", cap(l.queue)))
		return false
	}
}

// PostAfter schedules ev to be dispatched after d. Unlike Post it cannot
// fail on a full queue.
func (l *Loop) PostAfter(d time.Duration, ev Event) TimerID {
	id := TimerID(l.nextID.Add(1))
	if ev == nil || l.stopped.Load() {
		return id
	}

	l.mu.Lock()
	l.timers[id] = &deferred{ev: ev, timer: time.AfterFunc(d, func() { l.fire(id) })}
	l.mu.Unlock()

	l.timersScheduled.Add(1)
	return id
}

// fire moves a timer onto the due list and wakes the loop
func (l *Loop) fire(id TimerID) {
	l.mu.Lock()
	if _, live := l.timers[id]; live {
		l.due = append(l.due, id)
	}
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Cancel stops a deferred event. It returns false if the timer already
// dispatched or never existed.
func (l *Loop) Cancel(id TimerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.timers[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(l.timers, id)
	l.timersCancelled.Add(1)
	return true
}

// Now returns wall-clock time
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Run dispatches events until ctx is done or Stop is called
func (l *Loop) Run(ctx context.Context) error {
	if l.dispatcher == nil {
		return ErrNoDispatcher
	}
	if l.running.Swap(true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)
	defer l.stopTimers()

	l.logger.Debug("event loop started", logger.Int("queue_size", cap(l.queue)))

	for {
		select {
		case <-ctx.Done():
			l.stopped.Store(true)
			l.logger.Debug("event loop stopping, context done")
			return nil
		case <-l.stopCh:
			l.drain()
			l.logger.Debug("event loop stopped")
			return nil
		case <-l.wake:
			l.dispatchDue()
		case ev := <-l.queue:
			l.dispatch(ev)
		}
	}
}

// dispatchDue delivers fired timers in firing order. A timer cancelled
// after it fired is skipped.
func (l *Loop) dispatchDue() {
	l.mu.Lock()
	due := l.due
	l.due = nil
	l.mu.Unlock()

	for _, id := range due {
		l.mu.Lock()
		p, live := l.timers[id]
		delete(l.timers, id)
		l.mu.Unlock()
		if !live {
			continue
		}
		l.timersFired.Add(1)
		l.dispatch(p.ev)
	}
}

// drain dispatches what is already queued or due at stop time
func (l *Loop) drain() {
	l.dispatchDue()
	for {
		select {
		case ev := <-l.queue:
			l.dispatch(ev)
		default:
			return
		}
	}
}

func (l *Loop) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("dispatcher panicked",
				logger.String("event", ev.EventName()),
				logger.Bool("contract_violation", errors.IsContractViolation(r)),
				logger.Any("panic", r))
			panic(r)
		}
	}()

	l.dispatcher.Dispatch(ev)
	l.dispatched.Add(1)
}

func (l *Loop) stopTimers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, p := range l.timers {
		p.timer.Stop()
		delete(l.timers, id)
	}
	l.due = nil
}

// Stop stops accepting events, dispatches what is queued and waits for Run
// to return.
func (l *Loop) Stop(timeout time.Duration) error {
	l.stopped.Store(true)
	if !l.running.Load() {
		return nil
	}
	l.stopOnce.Do(func() { close(l.stopCh) })

	select {
	case <-l.done:
		return nil
	case <-time.After(timeout):
		return errors.New(ErrStopTimeout).
			Context("timeout", timeout.String()).
			Build()
	}
}

// Done is closed when Run returns
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stats returns current counters
func (l *Loop) Stats() Stats {
	return Stats{
		Received:        l.received.Load(),
		Dispatched:      l.dispatched.Load(),
		Dropped:         l.dropped.Load(),
		TimersScheduled: l.timersScheduled.Load(),
		TimersCancelled: l.timersCancelled.Load(),
		TimersFired:     l.timersFired.Load(),
	}
}

var _ Scheduler = (*Loop)(nil)
