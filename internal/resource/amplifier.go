package resource

import (
	"maps"
	"time"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/logger"
)

// AmpDriver switches the physical amplifier
type AmpDriver interface {
	SetAmplifier(on bool) error
}

// amplifierOff is the deferred physical disable. gen ties it to the release
// that scheduled it, so a re-acquire in between makes it stale.
type amplifierOff struct {
	gen uint64
}

func (amplifierOff) EventName() string { return "amplifier-off" }

// Amplifier reference-counts amplifier users. The physical enable happens
// on the first acquire; the physical disable is deferred by OffDelay after
// the last release so quick off/on sequences never click.
type Amplifier struct {
	driver   AmpDriver
	sched    eventloop.Scheduler
	offDelay time.Duration
	logger   logger.Logger
	observer Observer

	count        int
	owners       map[string]int
	physicallyOn bool
	offTimer     eventloop.TimerID
	offGen       uint64
}

// NewAmplifier creates an amplifier arbiter
func NewAmplifier(driver AmpDriver, sched eventloop.Scheduler, offDelay time.Duration, log logger.Logger) *Amplifier {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Amplifier{
		driver:   driver,
		sched:    sched,
		offDelay: offDelay,
		logger:   log,
		owners:   make(map[string]int),
	}
}

// Acquire adds a reference for owner, switching the amplifier on if needed.
// A failed physical enable leaves the count unchanged.
func (a *Amplifier) Acquire(owner string) error {
	if a.count == 0 {
		a.cancelOff()
		if !a.physicallyOn {
			if err := a.driver.SetAmplifier(true); err != nil {
				return errors.New(err).
					Component(ComponentResource).
					Category(errors.CategoryHardware).
					Context("resource", "amplifier").
					Context("owner", owner).
					Context("operation", "amplifier_on").
					Build()
			}
			a.physicallyOn = true
			a.logger.Debug("amplifier on", logger.String("owner", owner))
		}
	}

	a.count++
	a.owners[owner]++
	a.notify()
	return nil
}

// Release drops a reference held by owner. Releasing with no matching
// reference returns ErrAmplifierUnderflow and changes nothing.
func (a *Amplifier) Release(owner string) error {
	if a.count == 0 || a.owners[owner] == 0 {
		a.logger.Warn("amplifier release without reference",
			logger.String("owner", owner),
			logger.Int("count", a.count))
		return errors.New(ErrAmplifierUnderflow).
			Context("owner", owner).
			Context("count", a.count).
			Build()
	}

	a.count--
	a.owners[owner]--
	if a.owners[owner] == 0 {
		delete(a.owners, owner)
	}

	if a.count == 0 {
		a.scheduleOff()
	}
	a.notify()
	return nil
}

func (a *Amplifier) scheduleOff() {
	a.offGen++
	if a.offDelay <= 0 || a.sched == nil {
		a.switchOff()
		return
	}
	a.offTimer = a.sched.PostAfter(a.offDelay, amplifierOff{gen: a.offGen})
}

func (a *Amplifier) cancelOff() {
	if a.offTimer != 0 && a.sched != nil {
		a.sched.Cancel(a.offTimer)
	}
	a.offTimer = 0
	a.offGen++
}

func (a *Amplifier) switchOff() {
	if !a.physicallyOn {
		return
	}
	if err := a.driver.SetAmplifier(false); err != nil {
		a.logger.Error("amplifier off failed", logger.Error(err))
		return
	}
	a.physicallyOn = false
	a.logger.Debug("amplifier off")
	a.notify()
}

// HandleEvent consumes the deferred off event. It returns false for events
// that are not the amplifier's.
func (a *Amplifier) HandleEvent(ev eventloop.Event) bool {
	off, ok := ev.(amplifierOff)
	if !ok {
		return false
	}
	if off.gen != a.offGen || a.count != 0 {
		return true
	}
	a.offTimer = 0
	a.switchOff()
	return true
}

// Count returns the number of live references
func (a *Amplifier) Count() int { return a.count }

// PhysicallyOn reports the last state set on the driver
func (a *Amplifier) PhysicallyOn() bool { return a.physicallyOn }

// OffPending reports whether a deferred disable is scheduled
func (a *Amplifier) OffPending() bool { return a.offTimer != 0 }

// Owners returns references per owner
func (a *Amplifier) Owners() map[string]int {
	return maps.Clone(a.owners)
}

func (a *Amplifier) notify() {
	if a.observer != nil {
		a.observer.AmplifierChanged(a.count, a.physicallyOn)
	}
}
