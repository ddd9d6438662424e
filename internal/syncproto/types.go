// Package syncproto aligns the rendering timelines of two earbuds that play
// the same stream. A Session lives exactly as long as the pipeline stays in
// a relay-capable state. It negotiates once (init, in-progress, complete),
// falls back to unsynchronized rendering on timeout, and changes role in
// place on handover.
package syncproto

import (
	"fmt"
	"time"

	"github.com/tphakala/twsaudio/internal/errors"
)

// Role is this device's part in the shared timeline
type Role int

const (
	RoleUnsyncPrimary Role = iota
	RoleSyncPrimary
	RoleSyncSecondary
	RoleSecondaryJoining
)

func (r Role) String() string {
	switch r {
	case RoleUnsyncPrimary:
		return "unsynchronized-primary"
	case RoleSyncPrimary:
		return "synchronized-primary"
	case RoleSyncSecondary:
		return "synchronized-secondary"
	case RoleSecondaryJoining:
		return "secondary-joining"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Primary reports whether the role drives the timeline
func (r Role) Primary() bool {
	return r == RoleUnsyncPrimary || r == RoleSyncPrimary
}

// Opposite is the role the peer must take when this device takes r
func (r Role) Opposite() Role {
	switch r {
	case RoleSyncPrimary:
		return RoleSyncSecondary
	case RoleSyncSecondary, RoleSecondaryJoining:
		return RoleSyncPrimary
	default:
		return RoleUnsyncPrimary
	}
}

// ParseRole parses a role name as printed by Role.String
func ParseRole(s string) (Role, error) {
	for r := RoleUnsyncPrimary; r <= RoleSecondaryJoining; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, errors.Newf("unknown sync role %q", s).
		Component(ComponentSync).
		Category(errors.CategoryValidation).
		Build()
}

// Mode is how rendering start is coordinated
type Mode int

const (
	// ModeUnsynchronized renders immediately with no coordination
	ModeUnsynchronized Mode = iota
	// ModeSynchronized exchanges timeline samples and gates render start
	ModeSynchronized
	// ModeSecondaryJoin decodes muted and unmutes once converged
	ModeSecondaryJoin
	// ModePreAligned trusts render timestamps carried by the transport
	ModePreAligned
)

var modeNames = [...]string{"unsynchronized", "synchronized", "secondary-join", "pre-aligned"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses a mode name
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if s == name {
			return Mode(i), nil
		}
	}
	return ModeUnsynchronized, errors.Newf("unknown sync mode %q", s).
		Component(ComponentSync).
		Category(errors.CategoryValidation).
		Build()
}

// Progress is the negotiation progress flag
type Progress int

const (
	NotStarted Progress = iota
	InProgress
	Complete
)

func (p Progress) String() string {
	switch p {
	case NotStarted:
		return "not-started"
	case InProgress:
		return "in-progress"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("progress(%d)", int(p))
	}
}

// Sample pairs a local instant with the same instant in the shared clock domain
type Sample struct {
	Seq    uint64    `json:"seq"`
	Local  time.Time `json:"local"`
	Shared time.Time `json:"shared"`
}

// Timeline converts between the local clock and the shared wall clock
type Timeline interface {
	Available() bool
	ToShared(local time.Time) (time.Time, error)
	ToLocal(shared time.Time) (time.Time, error)
}

// Peer is the link to the other earbud
type Peer interface {
	SendSample(s Sample) error
	SendRole(r Role) error
}

// Renderer is the output path the session gates
type Renderer interface {
	Mute(muted bool) error
	StartRender(localAt time.Time) error
}

// Observer is told about fallbacks and handovers, typically for metrics
type Observer interface {
	SyncFallback(sessionID string)
	SyncHandover(sessionID string, from, to Role, vetoed bool)
}

// Config holds protocol timing
type Config struct {
	// ConvergenceTimeout bounds the wait for a converged timeline
	ConvergenceTimeout time.Duration
	// SettleMargin is added to the remaining convergence time before unmuting
	SettleMargin time.Duration
	// SampleInterval is the period of timeline samples sent by a primary
	SampleInterval time.Duration
	// StartLead delays a synchronized render start so both sides can meet it
	StartLead time.Duration
}

// DefaultConfig returns the protocol defaults
func DefaultConfig() Config {
	return Config{
		ConvergenceTimeout: 2 * time.Second,
		SettleMargin:       50 * time.Millisecond,
		SampleInterval:     100 * time.Millisecond,
		StartLead:          40 * time.Millisecond,
	}
}

// Inbound events from the hardware timeline and the peer link
type (
	// Converged reports that the local timeline converged, or will after Remaining
	Converged struct{ Remaining time.Duration }
	// PeerSample is a timeline sample received from the peer
	PeerSample struct{ Sample Sample }
	// HandoverRequest asks the session to take a new role
	HandoverRequest struct{ Role Role }
)

func (Converged) EventName() string       { return "sync.converged" }
func (PeerSample) EventName() string      { return "sync.peer-sample" }
func (HandoverRequest) EventName() string { return "sync.handover" }

// deferred events stamped with the session that scheduled them
type (
	timeoutEvent struct{ session string }
	sampleTick   struct{ session string }
	unmuteEvent  struct{ session string }
)

func (timeoutEvent) EventName() string { return "sync.timeout" }
func (sampleTick) EventName() string   { return "sync.sample-tick" }
func (unmuteEvent) EventName() string  { return "sync.unmute" }
