// Package controller is the composition root of the control core. It wires
// the event loop, resource arbiter, ANC machine, sync factory and pipeline
// together and is the only place that knows about all of them.
package controller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/graph"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/observability"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/resource"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// DefaultStopTimeout bounds the final drain in Run
const DefaultStopTimeout = 2 * time.Second

// Scheduler is the loop the controller dispatches on. Both eventloop.Loop
// and eventloop.Manual satisfy it.
type Scheduler interface {
	eventloop.Scheduler
	SetDispatcher(d eventloop.Dispatcher)
}

type runner interface {
	Run(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Hardware are the device collaborators. Sources, Timeline and Peer may be
// nil on a device without a peer link.
type Hardware struct {
	Drivers  resource.Drivers
	Graphs   graph.Factory
	ANC      anc.Driver
	Bridge   anc.SilenceBridge
	Sources  pipeline.MediaSources
	Timeline syncproto.Timeline
	Peer     syncproto.Peer
}

// Config is the read-only configuration of every component
type Config struct {
	Name     string
	Side     string
	Resource resource.Config
	Pipeline pipeline.Config
	ANC      anc.Config
	Sync     syncproto.Config
	// QueueSize is used when the controller creates its own loop
	QueueSize int
	// CheckInvariants verifies pipeline invariants after every event
	CheckInvariants bool
	StopTimeout     time.Duration
}

// Notifier receives every outbound notification. events.Publisher
// implements it.
type Notifier interface {
	pipeline.StateListener
	anc.Listener
	syncproto.Observer
}

// Deps are the collaborators. Scheduler, Notifier and Metrics may be nil.
type Deps struct {
	Hardware  Hardware
	Store     anc.Store
	Scheduler Scheduler
	Notifier  Notifier
	Metrics   *observability.Metrics
}

// Controller owns the control core. Post, Status and Run are safe for
// concurrent use; everything else happens on the loop.
type Controller struct {
	cfg    Config
	sched  Scheduler
	logger logger.Logger

	arbiter  *resource.Arbiter
	anc      *anc.Machine
	pipeline *pipeline.Machine
	sync     *syncproto.Factory
	tracker  *graph.Tracker
	metrics  *observability.Metrics

	status     atomic.Pointer[Status]
	seq        uint64
	hwFailures atomic.Uint64
	started    atomic.Bool
}

// New builds the control core. The components are created in dependency
// order: arbiter, ANC, sync factory, pipeline.
func New(cfg Config, deps Deps, log logger.Logger) (*Controller, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module(ComponentController)
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	sched := deps.Scheduler
	if sched == nil {
		sched = eventloop.NewLoop(eventloop.Config{QueueSize: cfg.QueueSize}, nil, log)
	}

	c := &Controller{
		cfg:     cfg,
		sched:   sched,
		logger:  log,
		tracker: graph.NewTracker(),
		metrics: deps.Metrics,
	}

	hw := deps.Hardware
	c.arbiter = resource.New(cfg.Resource, hw.Drivers, sched, log)

	c.anc = anc.New(cfg.ANC, anc.Deps{
		Driver: hw.ANC,
		Store:  deps.Store,
		Bridge: hw.Bridge,
		Amp:    c.arbiter.Amp,
		Mics:   c.arbiter.Mics,
	}, log)

	c.sync = syncproto.NewFactory(cfg.Sync, syncproto.Deps{
		Timeline: hw.Timeline,
		Peer:     hw.Peer,
	}, sched, log)

	c.pipeline = pipeline.New(cfg.Pipeline, pipeline.Deps{
		Graphs:  hw.Graphs,
		Tracker: c.tracker,
		Sources: hw.Sources,
		Sync:    c.sync,
		ANC:     c.anc,
		Amp:     c.arbiter.Amp,
		Clock:   c.arbiter.Clock,
		Mics:    c.arbiter.Mics,
		Paths:   c.arbiter.Paths,
	}, sched, log)

	var resObs resourceObservers
	var syncObs syncObservers
	if deps.Notifier != nil {
		c.pipeline.AddListener(deps.Notifier)
		c.anc.Register(deps.Notifier)
		syncObs = append(syncObs, deps.Notifier)
	}
	if m := deps.Metrics; m != nil {
		c.pipeline.AddListener(m.Pipeline)
		c.anc.Register(m.ANC)
		resObs = append(resObs, m.Resource)
		syncObs = append(syncObs, m.Sync)
		if err := m.RegisterHardwareFailures(c.hwFailures.Load); err != nil {
			return nil, errors.New(err).
				Component(ComponentController).
				Category(errors.CategoryConfiguration).
				Build()
		}
	}
	if len(resObs) > 0 {
		c.arbiter.SetObserver(resObs)
	}
	if len(syncObs) > 0 {
		c.sync.SetObserver(syncObs)
	}

	sched.SetDispatcher(eventloop.DispatcherFunc(c.Dispatch))
	c.publishStatus()
	return c, nil
}

// Post queues ev for the loop. It returns false when the queue is full or
// the loop has stopped.
func (c *Controller) Post(ev eventloop.Event) bool {
	return c.sched.Post(ev)
}

// Submit is Post with an error for callers that report failures
func (c *Controller) Submit(ev eventloop.Event) error {
	if !c.sched.Post(ev) {
		return errors.New(ErrQueueFull).
			Context("event", ev.EventName()).
			Build()
	}
	return nil
}

// Status returns the latest snapshot. It never blocks the loop.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// Tracker exposes the graph leak tracker
func (c *Controller) Tracker() *graph.Tracker { return c.tracker }

// RegisterANCListener adds an ANC listener. Listeners must be registered
// before Run; the ANC machine is owned by the loop afterwards.
func (c *Controller) RegisterANCListener(l anc.Listener) (anc.SubscriptionID, error) {
	if c.started.Load() {
		return "", ErrStarted
	}
	return c.anc.Register(l), nil
}

// AddStateListener adds a pipeline transition listener. Like
// RegisterANCListener it must be called before Run.
func (c *Controller) AddStateListener(l pipeline.StateListener) error {
	if c.started.Load() {
		return ErrStarted
	}
	c.pipeline.AddListener(l)
	return nil
}

// Start posts the boot sequence: ANC initialisation then power on
func (c *Controller) Start() {
	c.started.Store(true)
	c.Post(anc.Initialise{})
	c.Post(anc.PowerOn{})
}

// Run starts the control core and blocks until ctx is done. On the way out
// the pipeline is stopped and the ANC machine powered off, so persisted
// state is released before the loop exits.
func (c *Controller) Run(ctx context.Context) error {
	r, ok := c.sched.(runner)
	if !ok {
		return ErrNotRunnable
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(loopCtx) }()

	c.Start()
	c.logger.Info("controller started",
		logger.String("name", c.cfg.Name),
		logger.String("side", c.cfg.Side))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	c.Post(pipeline.Stop{Reason: "shutdown"})
	c.Post(anc.PowerOff{})
	stopErr := r.Stop(c.cfg.StopTimeout)
	cancel()
	runErr := <-errCh

	c.logger.Info("controller stopped",
		logger.String("state", c.Status().Pipeline.State))
	return errors.Join(runErr, stopErr)
}
