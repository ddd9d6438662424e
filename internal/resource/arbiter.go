// Package resource arbitrates shared hardware between the pipeline and ANC:
// the reference-counted amplifier, the derived DSP clock profile and the
// microphone lease table. Everything here runs on the event loop.
package resource

import (
	"time"

	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/logger"
)

// Observer is told about every resource change, typically to update metrics
type Observer interface {
	AmplifierChanged(count int, physicallyOn bool)
	ClockChanged(p ClockProfile)
	MicUsersChanged(mic MicID, users int)
}

// Config is the read-only resource configuration injected at start-up
type Config struct {
	AmpOffDelay   time.Duration
	CodecProfiles map[string]ClockProfile
	Mics          MicPaths
}

// Drivers are the hardware collaborators
type Drivers struct {
	Amp   AmpDriver
	Clock ClockDriver
	Mic   MicDriver
}

// Arbiter aggregates the amplifier, clock and microphone arbiters
type Arbiter struct {
	Amp   *Amplifier
	Clock *ClockArbiter
	Mics  *Microphones
	Paths MicPaths
}

// Snapshot is a point-in-time copy of arbiter state
type Snapshot struct {
	AmpCount    int                `json:"amp_count"`
	AmpOn       bool               `json:"amp_on"`
	AmpOwners   map[string]int     `json:"amp_owners,omitempty"`
	Clock       string             `json:"clock"`
	ClockReason string             `json:"clock_reason,omitempty"`
	Microphones map[MicID][]string `json:"microphones,omitempty"`
}

// New creates an arbiter. sched receives the amplifier off timer.
func New(cfg Config, d Drivers, sched eventloop.Scheduler, log logger.Logger) *Arbiter {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("resource")
	return &Arbiter{
		Amp:   NewAmplifier(d.Amp, sched, cfg.AmpOffDelay, log.Module("amp")),
		Clock: NewClockArbiter(d.Clock, cfg.CodecProfiles, log.Module("clock")),
		Mics:  NewMicrophones(d.Mic, cfg.Mics.IDs(), log.Module("mic")),
		Paths: cfg.Mics,
	}
}

// SetObserver installs o on all three arbiters
func (a *Arbiter) SetObserver(o Observer) {
	a.Amp.observer = o
	a.Clock.observer = o
	a.Mics.observer = o
}

// HandleEvent routes resource events. It returns false when ev is not one.
func (a *Arbiter) HandleEvent(ev eventloop.Event) bool {
	return a.Amp.HandleEvent(ev)
}

// Snapshot copies the current arbiter state
func (a *Arbiter) Snapshot() Snapshot {
	s := Snapshot{
		AmpCount:    a.Amp.Count(),
		AmpOn:       a.Amp.PhysicallyOn(),
		AmpOwners:   a.Amp.Owners(),
		Clock:       a.Clock.Current().String(),
		ClockReason: a.Clock.Reason(),
		Microphones: make(map[MicID][]string),
	}
	for id := range a.Mics.mics {
		if users := a.Mics.Users(id); len(users) > 0 {
			s.Microphones[id] = users
		}
	}
	return s
}
