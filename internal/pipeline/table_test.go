package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// driveTo brings a fresh machine into s. Starting states are reached by
// stepping the phase events one at a time.
func (h *harness) driveTo(s State) {
	h.t.Helper()
	aac := music("aac")
	switch s {
	case StateIdle:
	case StateTonePlaying:
		h.send(PlayTone{Ref: "beep", Interruptible: true})
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC:
		h.handle(aac)
		for h.m.State() != s {
			require.True(h.t, h.loop.Step())
		}
	case StateMusicStreaming:
		h.send(aac)
	case StateMusicStreamingWithRelay:
		h.send(aac)
		h.send(StartRelay{})
	case StateMusicStartingAsRelayReceiver:
		h.handle(StartRelayReceiver{Codec: aac.Codec})
	case StateVoiceActive:
		h.send(StartVoice{Chain: "msbc"})
	case StateVoiceActiveWithRelay:
		h.send(StartVoice{Chain: "msbc"})
		h.send(StartRelay{})
	case StateVoiceRelayReceiverActive:
		h.send(StartVoiceRelayReceiver{Chain: "msbc"})
	case StateLeakThroughStandalone:
		h.send(StartLeakThrough{})
	case StateAncTuning:
		h.send(EnterTuning{})
	}
	require.Equal(h.t, s, h.m.State())
}

// column order of the expectation strings below
var tableEvents = []Event{
	music("aac"),
	StopMusic{},
	SetVolume{Value: 20},
	StartVoice{Chain: "msbc"},
	StopVoice{},
	MuteMic{Muted: true},
	StartRelay{},
	StopRelay{},
	StartRelayReceiver{Codec: Codec{Name: "aac", SampleRate: 48000}},
	StartVoiceRelayReceiver{Chain: "msbc"},
	PlayTone{Ref: "chime", Interruptible: true},
	ToneComplete{},
	EnterTuning{},
	ExitTuning{},
	StartLeakThrough{},
	StopLeakThrough{},
	Stop{},
}

// A accepted, R rejected, P contract violation
var expectedResults = map[State]string{
	StateIdle:                         "AAAAARRAAAAAAAAAA",
	StateTonePlaying:                  "ARAARRRRAAAAARRRA",
	StateMusicStartingA:               "AAARRRARRRAARRRRA",
	StateMusicStartingB:               "AAAPRRARRRAARRRRA",
	StateMusicStartingC:               "AAAPRRARRRAARRRRA",
	StateMusicStreaming:               "AAAPRRARRRAARRRRA",
	StateMusicStreamingWithRelay:      "AAAPRRAARRAARRRRA",
	StateMusicStartingAsRelayReceiver: "RAARRRRAARAARRRRA",
	StateVoiceActive:                  "RRARAAARRRAARRRRA",
	StateVoiceActiveWithRelay:         "RRARAAAARRAARRRRA",
	StateVoiceRelayReceiverActive:     "RRARARRARAAARRRRA",
	StateLeakThroughStandalone:        "ARAARRRRAAAAARAAA",
	StateAncTuning:                    "RRRRRRRRRRRAAARRA",
}

func TestStateEventTable(t *testing.T) {
	t.Parallel()
	require.Len(t, expectedResults, len(AllStates))

	for _, s := range AllStates {
		want := expectedResults[s]
		require.Len(t, want, len(tableEvents), s.String())
		for i, ev := range tableEvents {
			t.Run(s.String()+"/"+ev.EventName(), func(t *testing.T) {
				t.Parallel()
				h := newHarness(t)
				h.driveTo(s)

				switch want[i] {
				case 'P':
					assert.Panics(t, func() { h.m.Handle(ev) })
				case 'A':
					assert.Equal(t, Accepted, h.handle(ev))
				case 'R':
					assert.Equal(t, Rejected, h.handle(ev))
					assert.Equal(t, s, h.m.State())
				}
			})
		}
	}
}

// a stop waiting for a locked tone: only stops, volume and tone completion
// get through, and a voice start over music graphs is still a violation
var expectedDuringPendingStop = map[State]string{
	StateMusicStreaming: "RAAPRRRRRRRARRRRA",
	StateVoiceActive:    "RRARARRRRRRARRRRA",
}

func TestStateEventTableDuringPendingStop(t *testing.T) {
	t.Parallel()
	for s, want := range expectedDuringPendingStop {
		require.Len(t, want, len(tableEvents), s.String())
		for i, ev := range tableEvents {
			t.Run(s.String()+"/"+ev.EventName(), func(t *testing.T) {
				t.Parallel()
				h := newHarness(t)
				h.driveTo(s)
				h.send(PlayTone{Ref: "incoming-call"})
				h.send(Stop{})
				require.True(t, h.m.Context().PendingStop)

				switch want[i] {
				case 'P':
					assert.Panics(t, func() { h.m.Handle(ev) })
				case 'A':
					assert.Equal(t, Accepted, h.handle(ev))
				case 'R':
					assert.Equal(t, Rejected, h.handle(ev))
					assert.Equal(t, s, h.m.State())
					assert.True(t, h.m.Context().PendingStop)
				}
			})
		}
	}
}

func TestStopFromEveryStateLeavesNothing(t *testing.T) {
	t.Parallel()
	for _, s := range AllStates {
		t.Run(s.String(), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.driveTo(s)
			assert.Equal(t, Accepted, h.send(Stop{Reason: "test"}))
			h.assertClean()
		})
	}
}

func TestStatePredicates(t *testing.T) {
	t.Parallel()
	for _, s := range AllStates {
		parsed, ok := ParseState(s.String())
		require.True(t, ok)
		assert.Equal(t, s, parsed)
		assert.False(t, s.Music() && s.Voice(), s.String())
	}
	assert.True(t, StateMusicStartingB.Starting())
	assert.False(t, StateMusicStreaming.Starting())
	assert.True(t, StateVoiceRelayReceiverActive.RelayCapable())
	assert.False(t, StateVoiceActive.RelayCapable())
	_, ok := ParseState("bogus")
	assert.False(t, ok)
}
