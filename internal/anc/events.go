package anc

import (
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
)

// Event is an inbound ANC event
type Event interface {
	eventloop.Event
	ancEvent()
}

type (
	// Initialise loads persisted state and moves to powered-off
	Initialise struct{}
	// PowerOn restores the persisted enabled flag and mode
	PowerOn struct{}
	// PowerOff persists flagged state and disables the path
	PowerOff struct{}
	// Enable switches noise cancellation on
	Enable struct{}
	// Disable switches noise cancellation off
	Disable struct{}
	// SetMode selects a mode in 1..Modes
	SetMode struct{ Mode int }
	// ActivateTuning hands the ANC path to an external tuning tool
	ActivateTuning struct{}
	// DeactivateTuning returns from tuning to disabled
	DeactivateTuning struct{}
	// SetLeakthroughGain sets the ambient passthrough gain
	SetLeakthroughGain struct{ Gain int }
)

func (Initialise) EventName() string         { return "anc.initialise" }
func (PowerOn) EventName() string            { return "anc.power-on" }
func (PowerOff) EventName() string           { return "anc.power-off" }
func (Enable) EventName() string             { return "anc.enable" }
func (Disable) EventName() string            { return "anc.disable" }
func (SetMode) EventName() string            { return "anc.set-mode" }
func (ActivateTuning) EventName() string     { return "anc.activate-tuning" }
func (DeactivateTuning) EventName() string   { return "anc.deactivate-tuning" }
func (SetLeakthroughGain) EventName() string { return "anc.set-leakthrough-gain" }

func (Initialise) ancEvent()         {}
func (PowerOn) ancEvent()            {}
func (PowerOff) ancEvent()           {}
func (Enable) ancEvent()             {}
func (Disable) ancEvent()            {}
func (SetMode) ancEvent()            {}
func (ActivateTuning) ancEvent()     {}
func (DeactivateTuning) ancEvent()   {}
func (SetLeakthroughGain) ancEvent() {}

// ParseEvent builds an event from its name and optional argument, as used
// by the HTTP surface and simulator scenarios
func ParseEvent(name string, arg int) (Event, error) {
	switch name {
	case "initialise", "initialize":
		return Initialise{}, nil
	case "power-on":
		return PowerOn{}, nil
	case "power-off":
		return PowerOff{}, nil
	case "enable":
		return Enable{}, nil
	case "disable":
		return Disable{}, nil
	case "set-mode":
		return SetMode{Mode: arg}, nil
	case "activate-tuning":
		return ActivateTuning{}, nil
	case "deactivate-tuning":
		return DeactivateTuning{}, nil
	case "set-leakthrough-gain":
		return SetLeakthroughGain{Gain: arg}, nil
	default:
		return nil, errors.Newf("unknown anc event %q", name).
			Component(ComponentANC).
			Category(errors.CategoryValidation).
			Build()
	}
}

// Result tells whether an event was accepted in the current state
type Result int

const (
	Accepted Result = iota
	Rejected
)

func (r Result) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "rejected"
}
