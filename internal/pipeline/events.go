package pipeline

import (
	"strconv"
	"time"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// Event is an inbound pipeline event
type Event interface {
	eventloop.Event
	pipelineEvent()
}

// Codec describes the negotiated media stream
type Codec struct {
	Name              string `json:"name"`
	SampleRate        int    `json:"sample_rate"`
	ContentProtection bool   `json:"content_protection"`
	BitrateCap        int    `json:"bitrate_cap"`
}

type (
	// StartMusic starts streaming from a media source. Volume 0 keeps the
	// current volume.
	StartMusic struct {
		Codec  Codec
		Volume int
		Source string
	}
	// StopMusic stops the music use case; Reason is logged
	StopMusic struct{ Reason string }
	// SetVolume sets the output volume
	SetVolume struct{ Value int }
	// StartVoice starts a voice call on the given processing chain
	StartVoice struct {
		Chain       string
		LinkQuality int
		Volume      int
	}
	// StopVoice ends the voice call
	StopVoice struct{}
	// MuteMic mutes the uplink
	MuteMic struct{ Muted bool }
	// StartRelay starts forwarding the active stream to the peer
	StartRelay struct {
		// Mode overrides the configured relay sync mode when set
		Mode *syncproto.Mode
	}
	// StopRelay stops forwarding, or ends playback of a relayed stream
	StopRelay struct{}
	// StartRelayReceiver starts rendering a stream relayed by the peer
	StartRelayReceiver struct {
		Codec  Codec
		Volume int
		Mode   *syncproto.Mode
	}
	// StartVoiceRelayReceiver starts rendering a voice call relayed by the peer
	StartVoiceRelayReceiver struct {
		Chain  string
		Volume int
	}
	// PlayTone plays a tone or prompt
	PlayTone struct {
		Ref           string
		SampleRate    int
		At            time.Time
		Interruptible bool
	}
	// ToneComplete reports that a tone finished. Seq is the sequence number
	// of the play command it answers; a completion for any other play is
	// stale and ignored. Zero completes whatever tone is playing.
	ToneComplete struct {
		Ref string
		Seq uint64
	}
	// EnterTuning routes microphones and speaker to an external tuning tool
	EnterTuning struct{}
	// ExitTuning leaves tuning
	ExitTuning struct{}
	// StartLeakThrough passes ambient sound through when nothing else plays
	StartLeakThrough struct{}
	// StopLeakThrough ends ambient passthrough
	StopLeakThrough struct{}
	// Stop ends whatever use case is active
	Stop struct{ Reason string }
)

func (StartMusic) EventName() string              { return "pipeline.start-music" }
func (StopMusic) EventName() string               { return "pipeline.stop-music" }
func (SetVolume) EventName() string               { return "pipeline.set-volume" }
func (StartVoice) EventName() string              { return "pipeline.start-voice" }
func (StopVoice) EventName() string               { return "pipeline.stop-voice" }
func (MuteMic) EventName() string                 { return "pipeline.mute-mic" }
func (StartRelay) EventName() string              { return "pipeline.start-relay" }
func (StopRelay) EventName() string               { return "pipeline.stop-relay" }
func (StartRelayReceiver) EventName() string      { return "pipeline.start-relay-receiver" }
func (StartVoiceRelayReceiver) EventName() string { return "pipeline.start-voice-relay-receiver" }
func (PlayTone) EventName() string                { return "pipeline.play-tone" }
func (ToneComplete) EventName() string            { return "pipeline.tone-complete" }
func (EnterTuning) EventName() string             { return "pipeline.enter-tuning" }
func (ExitTuning) EventName() string              { return "pipeline.exit-tuning" }
func (StartLeakThrough) EventName() string        { return "pipeline.start-leak-through" }
func (StopLeakThrough) EventName() string         { return "pipeline.stop-leak-through" }
func (Stop) EventName() string                    { return "pipeline.stop" }

func (StartMusic) pipelineEvent()              {}
func (StopMusic) pipelineEvent()               {}
func (SetVolume) pipelineEvent()               {}
func (StartVoice) pipelineEvent()              {}
func (StopVoice) pipelineEvent()               {}
func (MuteMic) pipelineEvent()                 {}
func (StartRelay) pipelineEvent()              {}
func (StopRelay) pipelineEvent()               {}
func (StartRelayReceiver) pipelineEvent()      {}
func (StartVoiceRelayReceiver) pipelineEvent() {}
func (PlayTone) pipelineEvent()                {}
func (ToneComplete) pipelineEvent()            {}
func (EnterTuning) pipelineEvent()             {}
func (ExitTuning) pipelineEvent()              {}
func (StartLeakThrough) pipelineEvent()        {}
func (StopLeakThrough) pipelineEvent()         {}
func (Stop) pipelineEvent()                    {}

// self-posted events stamped with the context generation that scheduled them
type (
	phaseStep       struct{ gen uint64 }
	toneLockTimeout struct{ gen uint64 }
)

func (phaseStep) EventName() string       { return "pipeline.phase-step" }
func (toneLockTimeout) EventName() string { return "pipeline.tone-lock-timeout" }

func (phaseStep) pipelineEvent()       {}
func (toneLockTimeout) pipelineEvent() {}

// Internal reports whether ev was posted by the machine itself
func Internal(ev Event) bool {
	switch ev.(type) {
	case phaseStep, toneLockTimeout:
		return true
	}
	return false
}

// Args carries optional event arguments for ParseEvent
type Args struct {
	Codec         string `json:"codec" yaml:"codec"`
	SampleRate    int    `json:"sample_rate" yaml:"sample_rate"`
	Protected     bool   `json:"content_protection" yaml:"content_protection"`
	BitrateCap    int    `json:"bitrate_cap" yaml:"bitrate_cap"`
	Volume        int    `json:"volume" yaml:"volume"`
	Source        string `json:"source" yaml:"source"`
	Chain         string `json:"chain" yaml:"chain"`
	LinkQuality   int    `json:"link_quality" yaml:"link_quality"`
	Muted         bool   `json:"muted" yaml:"muted"`
	Mode          string `json:"mode" yaml:"mode"`
	Tone          string `json:"tone" yaml:"tone"`
	Interruptible bool   `json:"interruptible" yaml:"interruptible"`
	Reason        string `json:"reason" yaml:"reason"`
}

func (a Args) codec() Codec {
	return Codec{Name: a.Codec, SampleRate: a.SampleRate, ContentProtection: a.Protected, BitrateCap: a.BitrateCap}
}

func (a Args) mode() (*syncproto.Mode, error) {
	if a.Mode == "" {
		return nil, nil
	}
	m, err := syncproto.ParseMode(a.Mode)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseEvent builds an event from its short name, as used by the HTTP
// surface and simulator scenarios
func ParseEvent(name string, a Args) (Event, error) {
	switch name {
	case "start-music":
		return StartMusic{Codec: a.codec(), Volume: a.Volume, Source: a.Source}, nil
	case "stop-music":
		return StopMusic{Reason: a.Reason}, nil
	case "set-volume":
		return SetVolume{Value: a.Volume}, nil
	case "start-voice":
		return StartVoice{Chain: a.Chain, LinkQuality: a.LinkQuality, Volume: a.Volume}, nil
	case "stop-voice":
		return StopVoice{}, nil
	case "mute-mic":
		return MuteMic{Muted: a.Muted}, nil
	case "start-relay":
		mode, err := a.mode()
		if err != nil {
			return nil, err
		}
		return StartRelay{Mode: mode}, nil
	case "stop-relay":
		return StopRelay{}, nil
	case "start-relay-receiver":
		mode, err := a.mode()
		if err != nil {
			return nil, err
		}
		return StartRelayReceiver{Codec: a.codec(), Volume: a.Volume, Mode: mode}, nil
	case "start-voice-relay-receiver":
		return StartVoiceRelayReceiver{Chain: a.Chain, Volume: a.Volume}, nil
	case "play-tone":
		return PlayTone{Ref: a.Tone, SampleRate: a.SampleRate, Interruptible: a.Interruptible}, nil
	case "tone-complete":
		return ToneComplete{Ref: a.Tone}, nil
	case "enter-tuning":
		return EnterTuning{}, nil
	case "exit-tuning":
		return ExitTuning{}, nil
	case "start-leak-through":
		return StartLeakThrough{}, nil
	case "stop-leak-through":
		return StopLeakThrough{}, nil
	case "stop":
		return Stop{Reason: a.Reason}, nil
	}
	return nil, errors.Newf("unknown pipeline event %s", strconv.Quote(name)).
		Component(ComponentPipeline).
		Category(errors.CategoryValidation).
		Build()
}

// Result is the outcome of Handle
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
