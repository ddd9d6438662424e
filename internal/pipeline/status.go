package pipeline

import (
	"github.com/tphakala/twsaudio/internal/graph"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// State returns the current state
func (m *Machine) State() State { return m.ctx.State }

// Context returns a copy of the context record
func (m *Machine) Context() Context { return m.ctx }

// Volume returns the current output volume
func (m *Machine) Volume() int { return m.ctx.Volume }

// Session returns the active sync session, nil outside relay-capable states
func (m *Machine) Session() *syncproto.Session { return m.ctx.Session }

// Status is a serialisable snapshot of the machine
type Status struct {
	State            string            `json:"state"`
	Phase            string            `json:"phase,omitempty"`
	Codec            Codec             `json:"codec"`
	Source           string            `json:"source,omitempty"`
	Chain            string            `json:"chain,omitempty"`
	Volume           int               `json:"volume"`
	MicMuted         bool              `json:"mic_muted"`
	Joined           bool              `json:"joined"`
	Receiver         bool              `json:"receiver"`
	InputGraph       string            `json:"input_graph,omitempty"`
	OutputGraph      string            `json:"output_graph,omitempty"`
	AmpUsers         int               `json:"amp_users"`
	Tone             string            `json:"tone,omitempty"`
	QueuedTones      int               `json:"queued_tones"`
	ToneLock         bool              `json:"tone_lock"`
	PendingStop      bool              `json:"pending_stop"`
	Generation       uint64            `json:"generation"`
	Sync             *syncproto.Status `json:"sync,omitempty"`
	Accepted         uint64            `json:"accepted"`
	Rejected         uint64            `json:"rejected"`
	HardwareFailures uint64            `json:"hardware_failures"`
	Transitions      uint64            `json:"transitions"`
}

// Status returns a snapshot for the status surfaces
func (m *Machine) Status() Status {
	c := &m.ctx
	st := Status{
		State:            c.State.String(),
		Codec:            c.Codec,
		Source:           c.Source,
		Chain:            c.Chain,
		Volume:           c.Volume,
		MicMuted:         c.MicMuted,
		Joined:           c.Joined,
		Receiver:         c.Receiver,
		InputGraph:       c.Input.Name(),
		OutputGraph:      c.Output.Name(),
		AmpUsers:         c.AmpUsers,
		QueuedTones:      len(c.ToneQueue),
		ToneLock:         c.ToneLock,
		PendingStop:      c.PendingStop,
		Generation:       c.Generation,
		Accepted:         m.accepted,
		Rejected:         m.rejected,
		HardwareFailures: m.hwFailures,
		Transitions:      m.transitions,
	}
	if c.Next != PhaseNone {
		st.Phase = c.Next.String()
	}
	if c.Tone != nil {
		st.Tone = c.Tone.Ref
	}
	if c.Session != nil {
		ss := c.Session.Status()
		st.Sync = &ss
	}
	return st
}

// CheckInvariants verifies the context against the current state: idle
// holds no graphs, amplifier or microphones; every other state holds the
// graphs it is built from; a session exists exactly in relay-capable states.
func (m *Machine) CheckInvariants() error {
	c := &m.ctx
	for _, h := range []*graph.Handle{c.Input, c.Output} {
		if h != nil && !h.Live() {
			return invariantError(c.State, "destroyed graph handle still referenced")
		}
	}
	if c.AmpUsers < 0 || c.AmpUsers > 1 {
		return invariantError(c.State, "amplifier usage out of range")
	}
	if (c.Session != nil) != c.State.RelayCapable() {
		return invariantError(c.State, "sync session does not match state")
	}

	needOut, needIn := m.requiredGraphs()
	switch {
	case c.State == StateIdle:
		if c.Input != nil || c.Output != nil {
			return invariantError(c.State, "idle with graph handles")
		}
		if c.AmpUsers != 0 {
			return invariantError(c.State, "idle holding the amplifier")
		}
		if len(c.Mics) != 0 {
			return invariantError(c.State, "idle holding microphones")
		}
	case needOut && c.Output == nil:
		return invariantError(c.State, "missing output graph")
	case needIn && c.Input == nil:
		return invariantError(c.State, "missing input graph")
	}
	return nil
}

func (m *Machine) requiredGraphs() (out, in bool) {
	c := &m.ctx
	switch c.State {
	case StateIdle, StateMusicStartingA:
		return false, false
	case StateTonePlaying, StateMusicStartingB, StateVoiceRelayReceiverActive:
		return true, false
	case StateMusicStartingC, StateMusicStreaming, StateMusicStreamingWithRelay,
		StateVoiceActive, StateVoiceActiveWithRelay, StateLeakThroughStandalone, StateAncTuning:
		return true, true
	case StateMusicStartingAsRelayReceiver:
		return c.Next >= PhaseInput, c.Next >= PhaseConnect
	}
	return false, false
}
