package simhw

import (
	"maps"
	"sync"

	"github.com/tphakala/twsaudio/internal/resource"
)

// Amp is a simulated amplifier switch
type Amp struct {
	rec    *Recorder
	faults *Faults

	mu       sync.Mutex
	on       bool
	switches int
}

// SetAmplifier switches the amplifier. Fault keys: amp.on, amp.off.
func (a *Amp) SetAmplifier(on bool) error {
	op := "amp.off"
	if on {
		op = "amp.on"
	}
	if err := a.faults.check(op); err != nil {
		a.rec.record("%s:failed", op)
		return err
	}
	a.mu.Lock()
	a.on = on
	a.switches++
	a.mu.Unlock()
	a.rec.record("%s", op)
	return nil
}

// On reports the physical state
func (a *Amp) On() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

// Switches counts physical transitions
func (a *Amp) Switches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.switches
}

// Clock is a simulated DSP clock
type Clock struct {
	rec    *Recorder
	faults *Faults

	mu      sync.Mutex
	profile resource.ClockProfile
	changes int
}

// SetClockProfile applies p. Fault key: clock.set.
func (c *Clock) SetClockProfile(p resource.ClockProfile) error {
	if err := c.faults.check("clock.set"); err != nil {
		return err
	}
	c.mu.Lock()
	c.profile = p
	c.changes++
	c.mu.Unlock()
	c.rec.record("clock.set:%s", p)
	return nil
}

// Profile returns the applied profile
func (c *Clock) Profile() resource.ClockProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// Mics is a simulated microphone bank
type Mics struct {
	rec    *Recorder
	faults *Faults

	mu   sync.Mutex
	open map[resource.MicID]int
}

// OpenMic opens mic at rate. Fault keys: mic.open, mic.open:<id>.
func (m *Mics) OpenMic(mic resource.MicID, rate int) error {
	if err := m.faults.check("mic.open", "mic.open:"+string(mic)); err != nil {
		return err
	}
	m.mu.Lock()
	m.open[mic] = rate
	m.mu.Unlock()
	m.rec.record("mic.open:%s:%d", mic, rate)
	return nil
}

// ReconfigureMic changes the rate of an open mic
func (m *Mics) ReconfigureMic(mic resource.MicID, rate int) error {
	if err := m.faults.check("mic.reconfigure", "mic.reconfigure:"+string(mic)); err != nil {
		return err
	}
	m.mu.Lock()
	m.open[mic] = rate
	m.mu.Unlock()
	m.rec.record("mic.reconfigure:%s:%d", mic, rate)
	return nil
}

// CloseMic closes mic
func (m *Mics) CloseMic(mic resource.MicID) error {
	m.mu.Lock()
	delete(m.open, mic)
	m.mu.Unlock()
	m.rec.record("mic.close:%s", mic)
	return m.faults.check("mic.close", "mic.close:"+string(mic))
}

// Open returns the open mics and their rates
func (m *Mics) Open() map[resource.MicID]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.open)
}

// ANC is a simulated noise-cancellation path
type ANC struct {
	rec    *Recorder
	faults *Faults

	mu      sync.Mutex
	enabled bool
	tuning  bool
	mode    int
	gain    int
}

// Enable switches the path on. Fault key: anc.enable.
func (a *ANC) Enable(mode, gain int) error {
	if err := a.faults.check("anc.enable"); err != nil {
		a.rec.record("anc.enable:failed")
		return err
	}
	a.mu.Lock()
	a.enabled, a.mode, a.gain = true, mode, gain
	a.mu.Unlock()
	a.rec.record("anc.enable:%d:%d", mode, gain)
	return nil
}

// Disable switches the path off. Fault key: anc.disable.
func (a *ANC) Disable() error {
	if err := a.faults.check("anc.disable"); err != nil {
		return err
	}
	a.mu.Lock()
	a.enabled = false
	a.mu.Unlock()
	a.rec.record("anc.disable")
	return nil
}

// SetMode changes the mode. Fault key: anc.mode.
func (a *ANC) SetMode(mode int) error {
	if err := a.faults.check("anc.mode"); err != nil {
		a.rec.record("anc.mode:failed")
		return err
	}
	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
	a.rec.record("anc.mode:%d", mode)
	return nil
}

// SetLeakthroughGain changes the gain. Fault key: anc.gain.
func (a *ANC) SetLeakthroughGain(gain int) error {
	if err := a.faults.check("anc.gain"); err != nil {
		return err
	}
	a.mu.Lock()
	a.gain = gain
	a.mu.Unlock()
	a.rec.record("anc.gain:%d", gain)
	return nil
}

// EnterTuning hands the path to the tool. Fault key: anc.tuning.
func (a *ANC) EnterTuning() error {
	if err := a.faults.check("anc.tuning"); err != nil {
		return err
	}
	a.mu.Lock()
	a.tuning = true
	a.mu.Unlock()
	a.rec.record("anc.tuning:enter")
	return nil
}

// ExitTuning takes the path back
func (a *ANC) ExitTuning() error {
	a.mu.Lock()
	a.tuning = false
	a.mu.Unlock()
	a.rec.record("anc.tuning:exit")
	return nil
}

// State returns the physical state
func (a *ANC) State() (enabled bool, mode, gain int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled, a.mode, a.gain
}

// Bridge is a simulated silence bridge
type Bridge struct {
	rec *Recorder

	mu     sync.Mutex
	active bool
}

func (b *Bridge) StartSilence() error {
	b.mu.Lock()
	b.active = true
	b.mu.Unlock()
	b.rec.record("bridge.start")
	return nil
}

func (b *Bridge) StopSilence() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()
	b.rec.record("bridge.stop")
	return nil
}

// Active reports whether silence is playing
func (b *Bridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Sources tracks which media connections are open. Unknown sources are
// available.
type Sources struct {
	mu     sync.Mutex
	closed map[string]bool
}

// Available reports whether source is open
func (s *Sources) Available(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed[source]
}

// SetAvailable opens or closes source
func (s *Sources) SetAvailable(source string, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if available {
		delete(s.closed, source)
		return
	}
	s.closed[source] = true
}
