package anc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twsaudio/internal/resource"
)

type fakeDriver struct {
	calls  []string
	failOn map[string]int
}

func newFakeDriver() *fakeDriver { return &fakeDriver{failOn: map[string]int{}} }

// call records op and fails while failOn[op] > 0
func (d *fakeDriver) call(op string) error {
	d.calls = append(d.calls, op)
	if d.failOn[op] > 0 {
		d.failOn[op]--
		return fmt.Errorf("%s: hardware busy", op)
	}
	return nil
}

func (d *fakeDriver) Enable(mode, gain int) error {
	return d.call(fmt.Sprintf("enable:%d:%d", mode, gain))
}
func (d *fakeDriver) Disable() error                 { return d.call("disable") }
func (d *fakeDriver) SetMode(mode int) error         { return d.call(fmt.Sprintf("mode:%d", mode)) }
func (d *fakeDriver) SetLeakthroughGain(g int) error { return d.call(fmt.Sprintf("gain:%d", g)) }
func (d *fakeDriver) EnterTuning() error             { return d.call("enter-tuning") }
func (d *fakeDriver) ExitTuning() error              { return d.call("exit-tuning") }

type fakeStore struct {
	p        Persisted
	getErr   error
	gets     int
	releases int
}

func (s *fakeStore) Get() (Persisted, error) {
	s.gets++
	return s.p, s.getErr
}

func (s *fakeStore) Release(p Persisted) error {
	s.releases++
	s.p = p
	return nil
}

type fakeBridge struct{ running bool }

func (b *fakeBridge) StartSilence() error {
	b.running = true
	return nil
}

func (b *fakeBridge) StopSilence() error {
	b.running = false
	return nil
}

type fakeAmp struct{ owners map[string]int }

func (a *fakeAmp) Acquire(owner string) error {
	if a.owners == nil {
		a.owners = map[string]int{}
	}
	a.owners[owner]++
	return nil
}

func (a *fakeAmp) Release(owner string) error {
	if a.owners[owner] == 0 {
		return resource.ErrAmplifierUnderflow
	}
	a.owners[owner]--
	return nil
}

func testConfig() Config {
	return Config{
		Modes:          4,
		DefaultMode:    1,
		BoostModes:     []int{4},
		PersistEnabled: true,
		PersistMode:    true,
		PersistGain:    true,
	}
}

func poweredOn(t *testing.T, cfg Config, deps Deps) *Machine {
	t.Helper()
	m := New(cfg, deps, nil)
	require.Equal(t, Accepted, m.Handle(Initialise{}))
	require.Equal(t, Accepted, m.Handle(PowerOn{}))
	return m
}

func TestPowerCycleRestoresPersistedModeAndEnable(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	store := &fakeStore{}
	m := poweredOn(t, testConfig(), Deps{Driver: drv, Store: store})
	assert.Equal(t, StateDisabled, m.State())

	require.Equal(t, Accepted, m.Handle(Enable{}))
	require.Equal(t, Accepted, m.Handle(SetMode{Mode: 2}))
	require.Equal(t, Accepted, m.Handle(PowerOff{}))
	assert.Equal(t, StatePoweredOff, m.State())
	assert.False(t, m.Enabled())
	assert.Equal(t, Persisted{Enabled: true, Mode: 2}, store.p)

	require.Equal(t, Accepted, m.Handle(PowerOn{}))
	assert.Equal(t, StateEnabled, m.State())
	assert.True(t, m.Enabled())
	assert.Equal(t, 2, m.ActiveMode())

	assert.Equal(t, 1, store.gets, "persisted state is read once")
	assert.Equal(t, 1, store.releases, "persisted state is written on power-off only")
}

func TestPersistFlagsLimitRestore(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PersistMode = false
	store := &fakeStore{p: Persisted{Enabled: true, Mode: 3, LeakthroughGain: 7}}
	m := poweredOn(t, cfg, Deps{Driver: newFakeDriver(), Store: store})

	assert.Equal(t, StateEnabled, m.State())
	assert.Equal(t, 1, m.ActiveMode(), "unflagged mode starts at the default")
	assert.Equal(t, 7, m.LeakthroughGain())

	m.Handle(SetMode{Mode: 4})
	m.Handle(PowerOff{})
	assert.Equal(t, 3, store.p.Mode, "unflagged mode keeps its stored value")
}

func TestPowerOnStaysDisabledWithoutPersistedFlag(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PersistEnabled = false
	m := poweredOn(t, cfg, Deps{Driver: newFakeDriver(), Store: &fakeStore{p: Persisted{Enabled: true, Mode: 2}}})
	assert.Equal(t, StateDisabled, m.State())
	assert.Equal(t, 2, m.RequestedMode())
}

func TestRequestsWhilePoweredOffOverridePersisted(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	store := &fakeStore{p: Persisted{Enabled: true, Mode: 2, LeakthroughGain: 5}}
	m := New(testConfig(), Deps{Driver: drv, Store: store}, nil)
	require.Equal(t, Accepted, m.Handle(Initialise{}))

	require.Equal(t, Accepted, m.Handle(SetMode{Mode: 3}))
	require.Equal(t, Accepted, m.Handle(SetLeakthroughGain{Gain: 9}))
	require.Equal(t, Accepted, m.Handle(PowerOn{}))

	assert.Equal(t, StateEnabled, m.State())
	assert.Equal(t, 3, m.RequestedMode())
	assert.Equal(t, 3, m.ActiveMode())
	assert.Equal(t, 9, m.LeakthroughGain())
	assert.Equal(t, []string{"enable:3:9"}, drv.calls)

	require.Equal(t, Accepted, m.Handle(PowerOff{}))
	assert.Equal(t, Persisted{Enabled: true, Mode: 3, LeakthroughGain: 9}, store.p)
	assert.False(t, m.modeRequested, "override is one-shot")
	assert.False(t, m.gainRequested, "override is one-shot")
}

func TestModeSetWhileDisabledAppliedOnEnable(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	m := poweredOn(t, testConfig(), Deps{Driver: drv})

	require.Equal(t, Accepted, m.Handle(SetMode{Mode: 3}))
	assert.Equal(t, 3, m.RequestedMode())
	assert.Equal(t, 0, m.ActiveMode())
	assert.Empty(t, drv.calls, "no physical call while disabled")

	require.Equal(t, Accepted, m.Handle(Enable{}))
	assert.Equal(t, 3, m.ActiveMode())
	assert.Equal(t, []string{"enable:3:0"}, drv.calls)
}

func TestEnableFailureRetriedOnNextEvent(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	drv.failOn["enable:1:0"] = 1
	m := poweredOn(t, testConfig(), Deps{Driver: drv})

	require.Equal(t, Accepted, m.Handle(Enable{}))
	assert.Equal(t, StateEnabled, m.State())
	assert.True(t, m.RequestedEnabled())
	assert.False(t, m.Enabled())
	assert.True(t, m.PendingRetry())

	// any external event triggers the retry first
	require.Equal(t, Accepted, m.Handle(SetLeakthroughGain{Gain: 0}))
	assert.True(t, m.Enabled())
	assert.False(t, m.PendingRetry())
	assert.Equal(t, []string{"enable:1:0", "enable:1:0"}, drv.calls)
}

func TestModeFailureKeepsLastKnownGood(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	m := poweredOn(t, testConfig(), Deps{Driver: drv})
	require.Equal(t, Accepted, m.Handle(Enable{}))

	drv.failOn["mode:2"] = 1
	require.Equal(t, Accepted, m.Handle(SetMode{Mode: 2}))
	assert.Equal(t, 1, m.ActiveMode())
	assert.Equal(t, 2, m.RequestedMode())
	assert.True(t, m.PendingRetry())

	require.Equal(t, Accepted, m.Handle(Enable{}))
	assert.Equal(t, 2, m.ActiveMode())
	assert.False(t, m.PendingRetry())
}

func TestInvalidModeAndGainRejected(t *testing.T) {
	t.Parallel()

	m := poweredOn(t, testConfig(), Deps{Driver: newFakeDriver()})
	assert.Equal(t, Rejected, m.Handle(SetMode{Mode: 0}))
	assert.Equal(t, Rejected, m.Handle(SetMode{Mode: 5}))
	assert.Equal(t, Rejected, m.Handle(SetLeakthroughGain{Gain: -1}))
	assert.Equal(t, 1, m.RequestedMode())
}

func TestEventsBeforeInitialiseRejected(t *testing.T) {
	t.Parallel()

	m := New(testConfig(), Deps{Driver: newFakeDriver()}, nil)
	for _, ev := range []Event{PowerOn{}, PowerOff{}, Enable{}, Disable{}, SetMode{Mode: 1}, ActivateTuning{}, DeactivateTuning{}, SetLeakthroughGain{Gain: 1}} {
		assert.Equal(t, Rejected, m.Handle(ev), ev.EventName())
	}
	assert.Equal(t, StateUninitialized, m.State())
	assert.Equal(t, Accepted, m.Handle(Initialise{}))
	assert.Equal(t, Rejected, m.Handle(Initialise{}))
}

func TestStoreErrorFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	store := &fakeStore{getErr: fmt.Errorf("flash unreadable")}
	cfg := testConfig()
	cfg.DefaultMode = 2
	m := poweredOn(t, cfg, Deps{Driver: newFakeDriver(), Store: store})
	assert.Equal(t, StateDisabled, m.State())
	assert.Equal(t, 2, m.RequestedMode())
}

func TestTuningForcesDisable(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	m := poweredOn(t, testConfig(), Deps{Driver: drv})
	require.Equal(t, Accepted, m.Handle(Enable{}))

	require.Equal(t, Accepted, m.Handle(ActivateTuning{}))
	assert.Equal(t, StateTuningActive, m.State())
	assert.True(t, m.TuningActive())
	assert.False(t, m.Enabled())
	assert.True(t, m.NeedsClockBoost())

	assert.Equal(t, Rejected, m.Handle(Enable{}))
	assert.Equal(t, Rejected, m.Handle(Disable{}))
	assert.Equal(t, Accepted, m.Handle(SetMode{Mode: 3}))

	require.Equal(t, Accepted, m.Handle(DeactivateTuning{}))
	assert.Equal(t, StateDisabled, m.State())
	assert.Equal(t, []string{"enable:1:0", "disable", "enter-tuning", "exit-tuning"}, drv.calls)
}

func TestEnterTuningFailureLeavesDisabled(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	drv.failOn["enter-tuning"] = 1
	m := poweredOn(t, testConfig(), Deps{Driver: drv})

	require.Equal(t, Accepted, m.Handle(ActivateTuning{}))
	assert.Equal(t, StateDisabled, m.State())
}

func TestListenersNotifiedInRegistrationOrder(t *testing.T) {
	t.Parallel()

	m := poweredOn(t, testConfig(), Deps{Driver: newFakeDriver()})

	var got []string
	first := m.Register(ListenerFunc(func(n Notification) { got = append(got, "a:"+string(n.Kind)) }))
	second := m.Register(ListenerFunc(func(n Notification) { got = append(got, "b:"+string(n.Kind)) }))
	assert.NotEqual(t, first, second)

	m.Handle(Enable{})
	assert.Equal(t, []string{
		"a:state-changed", "b:state-changed",
		"a:mode-changed", "b:mode-changed",
	}, got)

	got = nil
	assert.True(t, m.Unregister(first))
	assert.False(t, m.Unregister(first))
	m.Handle(SetLeakthroughGain{Gain: 5})
	assert.Equal(t, []string{"b:gain-changed"}, got)

	got = nil
	m.Handle(SetLeakthroughGain{Gain: 5})
	assert.Empty(t, got, "no notification without a change")
}

func TestSilenceBridgeFollowsPipelineIdle(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{}
	amp := &fakeAmp{}
	m := poweredOn(t, testConfig(), Deps{Driver: newFakeDriver(), Bridge: bridge, Amp: amp})

	m.Handle(Enable{})
	assert.True(t, bridge.running)
	assert.True(t, m.BridgeActive())
	assert.Equal(t, 1, amp.owners[SilenceOwner])

	m.OnPipelineTransition(false)
	assert.False(t, bridge.running)
	assert.Equal(t, 0, amp.owners[SilenceOwner])

	m.OnPipelineTransition(true)
	assert.True(t, bridge.running)

	m.Handle(PowerOff{})
	assert.False(t, bridge.running)
	assert.Equal(t, 0, amp.owners[SilenceOwner])
}

type fakeMics struct {
	busy   bool
	leases map[resource.MicID]string
}

func (f *fakeMics) Acquire(l resource.Lease) error {
	if f.busy {
		return resource.ErrMicBusy
	}
	if f.leases == nil {
		f.leases = map[resource.MicID]string{}
	}
	f.leases[l.Mic] = l.User
	return nil
}

func (f *fakeMics) Release(mic resource.MicID, _ string) error {
	delete(f.leases, mic)
	return nil
}

func TestMicLeasesHeldWhileEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Mics = []resource.MicID{"ff", "fb"}
	mics := &fakeMics{busy: true}
	m := poweredOn(t, cfg, Deps{Driver: newFakeDriver(), Mics: mics})

	m.Handle(Enable{})
	assert.False(t, m.Enabled(), "busy mics block the enable")
	assert.True(t, m.PendingRetry())

	mics.busy = false
	m.Handle(SetLeakthroughGain{Gain: 1})
	assert.True(t, m.Enabled())
	assert.Len(t, mics.leases, 2)

	m.Handle(Disable{})
	assert.Empty(t, mics.leases)
}

func TestNeedsClockBoostForBoostModes(t *testing.T) {
	t.Parallel()

	m := poweredOn(t, testConfig(), Deps{Driver: newFakeDriver()})
	m.Handle(SetMode{Mode: 4})
	assert.False(t, m.NeedsClockBoost(), "disabled path needs no boost")

	m.Handle(Enable{})
	assert.True(t, m.NeedsClockBoost())

	m.Handle(SetMode{Mode: 2})
	assert.False(t, m.NeedsClockBoost())
}

func TestParseEvent(t *testing.T) {
	t.Parallel()

	ev, err := ParseEvent("set-mode", 3)
	require.NoError(t, err)
	assert.Equal(t, SetMode{Mode: 3}, ev)

	_, err = ParseEvent("explode", 0)
	assert.Error(t, err)
}
