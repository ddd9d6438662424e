package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

const ComponentEvents = "events"

// Config holds event bus configuration
type Config struct {
	BufferSize int
	// Workers above one lose per-kind ordering
	Workers int
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
		Workers:    1,
	}
}

// EventBus provides asynchronous event processing with non-blocking publish
type EventBus struct {
	eventChan chan Event
	workers   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []EventConsumer

	received   atomic.Uint64
	suppressed atomic.Uint64
	processed  atomic.Uint64
	dropped    atomic.Uint64
	errs       atomic.Uint64

	logger logger.Logger
}

// New creates a bus. Workers start with the first registered consumer.
func New(cfg Config, log logger.Logger) *EventBus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		eventChan: make(chan Event, cfg.BufferSize),
		workers:   cfg.Workers,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.Module(ComponentEvents),
	}
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.ctx.Err() != nil {
		return errors.Newf("event bus is shut down").
			Component(ComponentEvents).
			Category(errors.CategoryState).
			Build()
	}
	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component(ComponentEvents).
				Category(errors.CategoryConflict).
				Build()
		}
	}
	eb.consumers = append(eb.consumers, consumer)
	eb.logger.Info("registered event consumer", logger.String("consumer", consumer.Name()))

	if len(eb.consumers) == 1 {
		eb.start()
	}
	return nil
}

// TryPublish queues the event without blocking. It returns false when the
// event was dropped.
func (eb *EventBus) TryPublish(event Event) bool {
	if eb == nil || !eb.running.Load() {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventChan <- event:
		eb.received.Add(1)
		return true
	default:
		eb.dropped.Add(1)
		eb.logger.Debug("event dropped due to full buffer", logger.String("kind", string(event.Kind)))
		return false
	}
}

// suppress records an event the deduplicator swallowed
func (eb *EventBus) suppress() { eb.suppressed.Add(1) }

func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}
	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()
	log := eb.logger.With(logger.Int("worker_id", id))

	for {
		select {
		case <-eb.ctx.Done():
			eb.drain(log)
			return
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		}
	}
}

// drain delivers what was queued before shutdown
func (eb *EventBus) drain(log logger.Logger) {
	for {
		select {
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		default:
			return
		}
	}
}

func (eb *EventBus) processEvent(event Event, log logger.Logger) {
	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.errs.Add(1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.String("kind", string(event.Kind)),
						logger.String("panic", fmt.Sprint(r)))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				eb.errs.Add(1)
				log.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.String("kind", string(event.Kind)),
					logger.Error(err))
				return
			}
			eb.processed.Add(1)
		}()
	}
}

// Shutdown stops accepting events, lets workers drain the buffer and waits
// up to timeout for them
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	eb.mu.Lock()
	eb.running.Store(false)
	eb.cancel()
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Debug("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		return errors.Newf("event bus shutdown timed out after %s", timeout).
			Component(ComponentEvents).
			Category(errors.CategoryTimeout).
			Build()
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsReceived:   eb.received.Load(),
		EventsSuppressed: eb.suppressed.Load(),
		EventsProcessed:  eb.processed.Load(),
		EventsDropped:    eb.dropped.Load(),
		ConsumerErrors:   eb.errs.Load(),
	}
}
