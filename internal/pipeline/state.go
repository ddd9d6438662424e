// Package pipeline implements the top-level audio use-case state machine.
//
// Exactly one use case is active at a time. The Machine owns the processing
// graphs of that use case, builds them in the order the graph contract
// requires and tears them down in reverse. Music starts in phases that
// self-post through the event loop; every phase step carries the context
// generation so a stop that lands between phases wins. Relay-capable states
// own a sync session for as long as the state lasts.
package pipeline

import "fmt"

// State is the active use case
type State int

const (
	StateIdle State = iota
	StateTonePlaying
	StateMusicStartingA
	StateMusicStartingB
	StateMusicStartingC
	StateMusicStreaming
	StateMusicStreamingWithRelay
	StateMusicStartingAsRelayReceiver
	StateVoiceActive
	StateVoiceActiveWithRelay
	StateVoiceRelayReceiverActive
	StateLeakThroughStandalone
	StateAncTuning
)

// AllStates lists every state in declaration order
var AllStates = []State{
	StateIdle,
	StateTonePlaying,
	StateMusicStartingA,
	StateMusicStartingB,
	StateMusicStartingC,
	StateMusicStreaming,
	StateMusicStreamingWithRelay,
	StateMusicStartingAsRelayReceiver,
	StateVoiceActive,
	StateVoiceActiveWithRelay,
	StateVoiceRelayReceiverActive,
	StateLeakThroughStandalone,
	StateAncTuning,
}

var stateNames = [...]string{
	"idle",
	"tone-playing",
	"music-starting-a",
	"music-starting-b",
	"music-starting-c",
	"music-streaming",
	"music-streaming-with-relay",
	"music-starting-as-relay-receiver",
	"voice-active",
	"voice-active-with-relay",
	"voice-relay-receiver-active",
	"leak-through-standalone",
	"anc-tuning",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("pipeline-state(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState parses a state name
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return StateIdle, false
}

// Music reports whether s belongs to the music family, starting or running
func (s State) Music() bool {
	switch s {
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver:
		return true
	}
	return false
}

// Voice reports whether s is a voice call state
func (s State) Voice() bool {
	return s == StateVoiceActive || s == StateVoiceActiveWithRelay || s == StateVoiceRelayReceiverActive
}

// RelayCapable reports whether s owns a sync session
func (s State) RelayCapable() bool {
	return s == StateMusicStreamingWithRelay || s == StateVoiceActiveWithRelay || s == StateVoiceRelayReceiverActive
}

// Mixing reports whether tones are mixed into the running output graph
func (s State) Mixing() bool {
	switch s {
	case StateMusicStreaming, StateMusicStreamingWithRelay,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive,
		StateLeakThroughStandalone:
		return true
	}
	return false
}

// Starting reports whether a phased start is in progress
func (s State) Starting() bool {
	switch s {
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC, StateMusicStartingAsRelayReceiver:
		return true
	}
	return false
}

// Phase is the next construction step of a phased start
type Phase int

const (
	PhaseNone Phase = iota
	// PhaseOutput allocates the render graph
	PhaseOutput
	// PhaseInput allocates the decode graph
	PhaseInput
	// PhaseConnect configures, joins, attaches and starts both graphs
	PhaseConnect
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseOutput:
		return "output"
	case PhaseInput:
		return "input"
	case PhaseConnect:
		return "connect"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}
