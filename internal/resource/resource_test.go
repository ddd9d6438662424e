package resource

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
)

type fakeHW struct {
	calls   []string
	failAmp bool
	failClk bool
	failMic map[string]bool
}

func newFakeHW() *fakeHW { return &fakeHW{failMic: map[string]bool{}} }

func (f *fakeHW) SetAmplifier(on bool) error {
	f.calls = append(f.calls, fmt.Sprintf("amp:%t", on))
	if f.failAmp {
		return fmt.Errorf("amplifier busy")
	}
	return nil
}

func (f *fakeHW) SetClockProfile(p ClockProfile) error {
	f.calls = append(f.calls, "clock:"+p.String())
	if f.failClk {
		return fmt.Errorf("clock busy")
	}
	return nil
}

func (f *fakeHW) mic(op string, mic MicID, rate int) error {
	f.calls = append(f.calls, fmt.Sprintf("mic:%s:%s:%d", op, mic, rate))
	if f.failMic[op] {
		return fmt.Errorf("mic %s failed", op)
	}
	return nil
}

func (f *fakeHW) OpenMic(mic MicID, rate int) error        { return f.mic("open", mic, rate) }
func (f *fakeHW) ReconfigureMic(mic MicID, rate int) error { return f.mic("reconfigure", mic, rate) }
func (f *fakeHW) CloseMic(mic MicID) error                 { return f.mic("close", mic, 0) }

type recordingObserver struct {
	amp   []int
	clock []ClockProfile
	mics  map[MicID]int
}

func (o *recordingObserver) AmplifierChanged(count int, _ bool) { o.amp = append(o.amp, count) }
func (o *recordingObserver) ClockChanged(p ClockProfile)        { o.clock = append(o.clock, p) }
func (o *recordingObserver) MicUsersChanged(mic MicID, n int) {
	if o.mics == nil {
		o.mics = map[MicID]int{}
	}
	o.mics[mic] = n
}

func newTestAmplifier(t *testing.T, delay time.Duration) (*Amplifier, *fakeHW, *eventloop.Manual) {
	t.Helper()
	hw := newFakeHW()
	sched := eventloop.NewManual(time.Unix(0, 0), nil)
	amp := NewAmplifier(hw, sched, delay, nil)
	sched.SetDispatcher(eventloop.DispatcherFunc(func(ev eventloop.Event) { amp.HandleEvent(ev) }))
	return amp, hw, sched
}

func TestAmplifierDeferredOff(t *testing.T) {
	t.Parallel()

	amp, hw, sched := newTestAmplifier(t, 500*time.Millisecond)

	require.NoError(t, amp.Acquire("tone"))
	require.NoError(t, amp.Acquire("music"))
	assert.Equal(t, 2, amp.Count())
	assert.Equal(t, []string{"amp:true"}, hw.calls)

	require.NoError(t, amp.Release("tone"))
	require.NoError(t, amp.Release("music"))
	assert.Equal(t, 0, amp.Count())
	assert.True(t, amp.PhysicallyOn(), "disable must wait for the off delay")
	assert.True(t, amp.OffPending())

	sched.Advance(499 * time.Millisecond)
	assert.True(t, amp.PhysicallyOn())

	sched.Advance(time.Millisecond)
	assert.False(t, amp.PhysicallyOn())
	assert.False(t, amp.OffPending())
	assert.Equal(t, []string{"amp:true", "amp:false"}, hw.calls)
}

func TestAmplifierReacquireCancelsOff(t *testing.T) {
	t.Parallel()

	amp, hw, sched := newTestAmplifier(t, time.Second)

	require.NoError(t, amp.Acquire("tone"))
	require.NoError(t, amp.Release("tone"))
	sched.Advance(200 * time.Millisecond)
	require.NoError(t, amp.Acquire("music"))
	assert.Equal(t, 0, sched.PendingTimers())

	sched.Advance(2 * time.Second)
	assert.True(t, amp.PhysicallyOn())
	assert.Equal(t, []string{"amp:true"}, hw.calls, "no click between tone and music")
}

func TestAmplifierUnderflow(t *testing.T) {
	t.Parallel()

	amp, _, _ := newTestAmplifier(t, 0)

	err := amp.Release("nobody")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmplifierUnderflow)
	assert.Equal(t, 0, amp.Count())

	require.NoError(t, amp.Acquire("tone"))
	assert.ErrorIs(t, amp.Release("music"), ErrAmplifierUnderflow)
	assert.Equal(t, 1, amp.Count())
	assert.Equal(t, map[string]int{"tone": 1}, amp.Owners())

	require.NoError(t, amp.Release("tone"))
	assert.False(t, amp.PhysicallyOn(), "zero delay switches off immediately")
}

func TestAmplifierEnableFailureKeepsCount(t *testing.T) {
	t.Parallel()

	amp, hw, _ := newTestAmplifier(t, 0)
	hw.failAmp = true

	err := amp.Acquire("tone")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHardware))
	assert.Equal(t, 0, amp.Count())
	assert.False(t, amp.PhysicallyOn())
}

func TestAmplifierStaleOffEventIgnored(t *testing.T) {
	t.Parallel()

	amp, _, _ := newTestAmplifier(t, time.Second)
	require.NoError(t, amp.Acquire("tone"))

	assert.True(t, amp.HandleEvent(amplifierOff{gen: 99}))
	assert.True(t, amp.PhysicallyOn())

	type other struct{ eventloop.Event }
	assert.False(t, amp.HandleEvent(other{}))
}

func TestClockDerivePriority(t *testing.T) {
	t.Parallel()

	c := NewClockArbiter(newFakeHW(), map[string]ClockProfile{"SBC": ClockLow, "ldac": ClockHigh}, nil)

	tests := []struct {
		name   string
		in     ClockInputs
		want   ClockProfile
		reason string
	}{
		{"idle", ClockInputs{}, ClockSlow, "idle"},
		{"tone alone", ClockInputs{TonePlaying: true}, ClockLow, "tone"},
		{"tone over codec", ClockInputs{TonePlaying: true, Codec: "ldac"}, ClockHigh, "codec"},
		{"known codec", ClockInputs{Codec: "sbc"}, ClockLow, "codec"},
		{"unknown codec", ClockInputs{Codec: "opus"}, ClockMedium, "codec"},
		{"voice over codec", ClockInputs{VoiceCapture: true, Codec: "sbc"}, ClockHigh, "voice-capture"},
		{"anc boost wins", ClockInputs{AncBoost: true, VoiceCapture: true, TonePlaying: true, Codec: "sbc"}, ClockBoost, "anc-boost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, reason := c.Derive(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestClockApplyOnlyOnChange(t *testing.T) {
	t.Parallel()

	hw := newFakeHW()
	c := NewClockArbiter(hw, nil, nil)
	obs := &recordingObserver{}
	c.observer = obs

	_, err := c.Apply(ClockInputs{})
	require.NoError(t, err)
	_, err = c.Apply(ClockInputs{})
	require.NoError(t, err)
	p, err := c.Apply(ClockInputs{Codec: "aac"})
	require.NoError(t, err)
	assert.Equal(t, ClockMedium, p)

	assert.Equal(t, []string{"clock:slow", "clock:medium"}, hw.calls)
	assert.Equal(t, []ClockProfile{ClockSlow, ClockMedium}, obs.clock)

	hw.failClk = true
	p, err = c.Apply(ClockInputs{AncBoost: true})
	require.Error(t, err)
	assert.Equal(t, ClockMedium, p)
	assert.Equal(t, ClockMedium, c.Current())
}

func TestParseClockProfile(t *testing.T) {
	t.Parallel()

	p, err := ParseClockProfile("Boost")
	require.NoError(t, err)
	assert.Equal(t, ClockBoost, p)

	_, err = ParseClockProfile("turbo")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestMicOpenReconfigureClose(t *testing.T) {
	t.Parallel()

	hw := newFakeHW()
	m := NewMicrophones(hw, nil, nil)

	require.NoError(t, m.Acquire(Lease{Mic: "ff", User: "anc", Rate: 16000}))
	require.NoError(t, m.Acquire(Lease{Mic: "ff", User: "voice", Rate: 16000, Exclusive: true}))
	require.NoError(t, m.Acquire(Lease{Mic: "ff", User: "tuning", Rate: 48000}))
	assert.Equal(t, 48000, m.Rate("ff"))
	assert.Equal(t, []string{"anc", "voice", "tuning"}, m.Users("ff"))

	require.NoError(t, m.Release("ff", "voice"))
	require.NoError(t, m.Release("ff", "anc"))
	assert.True(t, m.IsOpen("ff"))
	require.NoError(t, m.Release("ff", "tuning"))
	assert.False(t, m.IsOpen("ff"))
	assert.Equal(t, 0, m.Rate("ff"))

	assert.Equal(t, []string{
		"mic:open:ff:16000",
		"mic:reconfigure:ff:48000",
		"mic:close:ff:0",
	}, hw.calls)

	assert.ErrorIs(t, m.Release("ff", "tuning"), ErrMicNotHeld)
}

func TestMicPriorityRules(t *testing.T) {
	t.Parallel()

	m := NewMicrophones(newFakeHW(), nil, nil)

	var preempted []string
	onPreempt := func(mic MicID, user string) { preempted = append(preempted, string(mic)+"/"+user) }

	require.NoError(t, m.Acquire(Lease{Mic: "voice", User: "call", Exclusive: true, OnPreempt: onPreempt}))

	// equal priority exclusive is refused
	err := m.Acquire(Lease{Mic: "voice", User: "assistant", Exclusive: true})
	assert.ErrorIs(t, err, ErrMicBusy)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	// snooping next to a normal holder is fine
	require.NoError(t, m.Acquire(Lease{Mic: "voice", User: "meter"}))

	// high priority exclusive preempts
	require.NoError(t, m.Acquire(Lease{Mic: "voice", User: "tuning", Exclusive: true, Priority: PriorityHigh}))
	assert.Equal(t, []string{"voice/call"}, preempted)
	assert.Equal(t, []string{"meter", "tuning"}, m.Users("voice"))
	assert.False(t, m.Holds("voice", "call"))

	// normal requests of any kind are refused while a high holder exists
	assert.ErrorIs(t, m.Acquire(Lease{Mic: "voice", User: "call", Exclusive: true}), ErrMicBusy)
	assert.ErrorIs(t, m.Acquire(Lease{Mic: "voice", User: "probe"}), ErrMicBusy)

	// high vs high is refused, not preempted
	assert.ErrorIs(t, m.Acquire(Lease{Mic: "voice", User: "factory", Exclusive: true, Priority: PriorityHigh}), ErrMicBusy)
	assert.ErrorIs(t, m.Acquire(Lease{Mic: "voice", User: "meter"}), ErrMicBusy, "same user twice")
}

func TestMicOpenFailureLeavesNoLease(t *testing.T) {
	t.Parallel()

	hw := newFakeHW()
	hw.failMic["open"] = true
	m := NewMicrophones(hw, []MicID{"ff"}, nil)

	err := m.Acquire(Lease{Mic: "ff", User: "anc", Rate: 16000})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHardware))
	assert.Empty(t, m.Users("ff"))
	assert.Equal(t, 0, m.TotalLeases())

	assert.ErrorIs(t, m.Acquire(Lease{Mic: "other", User: "anc"}), ErrUnknownMic)
}

func TestMicPaths(t *testing.T) {
	t.Parallel()

	paths := MicPaths{MicFeedForward: "mic0", MicFeedBack: "mic1", MicReference: "mic0"}

	id, err := paths.Lookup(MicFeedBack)
	require.NoError(t, err)
	assert.Equal(t, MicID("mic1"), id)

	_, err = paths.Lookup(MicVoice)
	assert.ErrorIs(t, err, ErrUnknownMic)
	assert.Equal(t, []MicID{"mic0", "mic1"}, paths.IDs())
}

func TestArbiterSnapshotAndObserver(t *testing.T) {
	t.Parallel()

	hw := newFakeHW()
	sched := eventloop.NewManual(time.Unix(0, 0), nil)
	a := New(Config{
		AmpOffDelay: time.Second,
		Mics:        MicPaths{MicVoice: "mic2"},
	}, Drivers{Amp: hw, Clock: hw, Mic: hw}, sched, nil)
	sched.SetDispatcher(eventloop.DispatcherFunc(func(ev eventloop.Event) { a.HandleEvent(ev) }))

	obs := &recordingObserver{}
	a.SetObserver(obs)

	require.NoError(t, a.Amp.Acquire("music"))
	require.NoError(t, a.Mics.Acquire(Lease{Mic: "mic2", User: "voice", Exclusive: true, Rate: 16000}))
	_, err := a.Clock.Apply(ClockInputs{VoiceCapture: true})
	require.NoError(t, err)

	snap := a.Snapshot()
	assert.Equal(t, 1, snap.AmpCount)
	assert.True(t, snap.AmpOn)
	assert.Equal(t, "high", snap.Clock)
	assert.Equal(t, "voice-capture", snap.ClockReason)
	assert.Equal(t, map[MicID][]string{"mic2": {"voice"}}, snap.Microphones)

	require.NoError(t, a.Amp.Release("music"))
	sched.Advance(time.Second)
	assert.False(t, a.Amp.PhysicallyOn())
	assert.Equal(t, []int{1, 0, 0}, obs.amp)
	assert.Equal(t, 1, obs.mics["mic2"])
}
