package simhw

import (
	"sync"
	"time"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/resource"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// ErrTimelineUnavailable is returned by conversions before the shared
// clock is known
var ErrTimelineUnavailable = errors.New(errors.NewStd("shared clock not available")).
	Component(ComponentSimHW).
	Category(errors.CategoryTimeout).
	Build()

// Timeline converts between the local clock and the shared clock by a
// fixed offset
type Timeline struct {
	mu        sync.Mutex
	offset    time.Duration
	available bool
}

// SetOffset sets the shared clock offset and marks the timeline available
func (t *Timeline) SetOffset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = d
	t.available = true
}

// SetAvailable marks the shared clock known or lost
func (t *Timeline) SetAvailable(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.available = ok
}

func (t *Timeline) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

func (t *Timeline) ToShared(local time.Time) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.available {
		return time.Time{}, ErrTimelineUnavailable
	}
	return local.Add(t.offset), nil
}

func (t *Timeline) ToLocal(shared time.Time) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.available {
		return time.Time{}, ErrTimelineUnavailable
	}
	return shared.Add(-t.offset), nil
}

// Peer is the simulated link to the other earbud. Sent samples and roles
// are recorded; OnRole lets a scenario react to a role change.
type Peer struct {
	rec    *Recorder
	faults *Faults

	mu      sync.Mutex
	samples []syncproto.Sample
	roles   []syncproto.Role
	onRole  func(syncproto.Role)
}

// SendSample records s. Fault key: peer.sample.
func (p *Peer) SendSample(s syncproto.Sample) error {
	if err := p.faults.check("peer.sample"); err != nil {
		return err
	}
	p.mu.Lock()
	p.samples = append(p.samples, s)
	p.mu.Unlock()
	p.rec.record("peer.sample:%d", s.Seq)
	return nil
}

// SendRole records r. Fault key: peer.role.
func (p *Peer) SendRole(r syncproto.Role) error {
	if err := p.faults.check("peer.role"); err != nil {
		return err
	}
	p.mu.Lock()
	p.roles = append(p.roles, r)
	hook := p.onRole
	p.mu.Unlock()
	p.rec.record("peer.role:%s", r)
	if hook != nil {
		hook(r)
	}
	return nil
}

// OnRole sets the role hook
func (p *Peer) OnRole(fn func(syncproto.Role)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRole = fn
}

// Samples returns the sent samples
func (p *Peer) Samples() []syncproto.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syncproto.Sample(nil), p.samples...)
}

// Roles returns the roles sent to the peer
func (p *Peer) Roles() []syncproto.Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syncproto.Role(nil), p.roles...)
}

// Hardware bundles one of every simulated collaborator sharing a recorder
// and fault table
type Hardware struct {
	Rec      *Recorder
	Faults   *Faults
	Graphs   *GraphFactory
	Amp      *Amp
	Clock    *Clock
	Mics     *Mics
	ANC      *ANC
	Bridge   *Bridge
	Sources  *Sources
	Timeline *Timeline
	Peer     *Peer
}

// New creates a full simulated device
func New() *Hardware {
	rec := NewRecorder()
	faults := NewFaults()
	return &Hardware{
		Rec:      rec,
		Faults:   faults,
		Graphs:   NewGraphFactory(rec, faults),
		Amp:      &Amp{rec: rec, faults: faults},
		Clock:    &Clock{rec: rec, faults: faults},
		Mics:     &Mics{rec: rec, faults: faults, open: make(map[resource.MicID]int)},
		ANC:      &ANC{rec: rec, faults: faults},
		Bridge:   &Bridge{rec: rec},
		Sources:  &Sources{closed: make(map[string]bool)},
		Timeline: &Timeline{},
		Peer:     &Peer{rec: rec, faults: faults},
	}
}

// Drivers returns the resource arbiter drivers
func (h *Hardware) Drivers() resource.Drivers {
	return resource.Drivers{Amp: h.Amp, Clock: h.Clock, Mic: h.Mics}
}
