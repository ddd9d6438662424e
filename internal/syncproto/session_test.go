package syncproto

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeTimeline maps local to shared by a fixed offset
type fakeTimeline struct {
	available bool
	offset    time.Duration
}

func (f *fakeTimeline) Available() bool { return f.available }
func (f *fakeTimeline) ToShared(local time.Time) (time.Time, error) {
	if !f.available {
		return time.Time{}, fmt.Errorf("timeline unavailable")
	}
	return local.Add(f.offset), nil
}
func (f *fakeTimeline) ToLocal(shared time.Time) (time.Time, error) {
	return shared.Add(-f.offset), nil
}

type fakePeer struct {
	samples  []Sample
	roles    []Role
	failRole bool
}

func (p *fakePeer) SendSample(s Sample) error {
	p.samples = append(p.samples, s)
	return nil
}

func (p *fakePeer) SendRole(r Role) error {
	if p.failRole {
		return fmt.Errorf("link down")
	}
	p.roles = append(p.roles, r)
	return nil
}

type fakeRenderer struct {
	calls []string
}

func (r *fakeRenderer) Mute(muted bool) error {
	r.calls = append(r.calls, fmt.Sprintf("mute:%t", muted))
	return nil
}

func (r *fakeRenderer) StartRender(at time.Time) error {
	r.calls = append(r.calls, "render:"+at.Sub(epoch).String())
	return nil
}

type countingObserver struct {
	fallbacks int
	handovers []string
}

func (o *countingObserver) SyncFallback(string) { o.fallbacks++ }
func (o *countingObserver) SyncHandover(_ string, from, to Role, vetoed bool) {
	o.handovers = append(o.handovers, fmt.Sprintf("%s->%s:%t", from, to, vetoed))
}

type harness struct {
	sched    *eventloop.Manual
	timeline *fakeTimeline
	peer     *fakePeer
	renderer *fakeRenderer
	observer *countingObserver
	session  *Session
}

func newHarness(t *testing.T, role Role, mode Mode) *harness {
	t.Helper()
	h := &harness{
		sched:    eventloop.NewManual(epoch, nil),
		timeline: &fakeTimeline{available: true, offset: time.Hour},
		peer:     &fakePeer{},
		renderer: &fakeRenderer{},
		observer: &countingObserver{},
	}
	cfg := Config{
		ConvergenceTimeout: time.Second,
		SettleMargin:       20 * time.Millisecond,
		SampleInterval:     100 * time.Millisecond,
		StartLead:          40 * time.Millisecond,
	}
	h.session = NewSession(cfg, role, mode, Deps{
		Timeline: h.timeline,
		Peer:     h.peer,
		Renderer: h.renderer,
		Observer: h.observer,
	}, h.sched, nil)
	h.sched.SetDispatcher(eventloop.DispatcherFunc(func(ev eventloop.Event) {
		h.session.HandleEvent(ev)
	}))
	return h
}

func TestUnsynchronizedCompletesImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncPrimary, ModeUnsynchronized)
	require.NoError(t, h.session.Start())

	assert.Equal(t, Complete, h.session.Progress())
	assert.Equal(t, RoleUnsyncPrimary, h.session.Role())
	assert.Equal(t, []string{"render:0s"}, h.renderer.calls)
	assert.Equal(t, 0, h.sched.PendingTimers())

	assert.ErrorIs(t, h.session.Start(), ErrAlreadyStarted)
}

func TestPreAlignedKeepsRole(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncSecondary, ModePreAligned)
	require.NoError(t, h.session.Start())
	assert.Equal(t, Complete, h.session.Progress())
	assert.Equal(t, RoleSyncSecondary, h.session.Role())
}

func TestSynchronizedPrimaryConverges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncPrimary, ModeSynchronized)
	require.NoError(t, h.session.Start())
	assert.Equal(t, InProgress, h.session.Progress())
	assert.Empty(t, h.renderer.calls, "render start is gated")

	h.sched.Advance(250 * time.Millisecond)
	require.Len(t, h.peer.samples, 3)
	assert.Equal(t, epoch.Add(200*time.Millisecond+time.Hour), h.peer.samples[2].Shared)

	h.sched.Post(Converged{})
	h.sched.RunPending()
	assert.Equal(t, Complete, h.session.Progress())
	assert.False(t, h.session.FellBack())
	assert.Equal(t, []string{"render:290ms"}, h.renderer.calls)

	// samples keep flowing after completion, the timeout does not fire
	h.sched.Advance(2 * time.Second)
	assert.Equal(t, 0, h.observer.fallbacks)
	assert.Greater(t, len(h.peer.samples), 3)
}

func TestTimeoutFallsBackExactlyOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncSecondary, ModeSynchronized)
	require.NoError(t, h.session.Start())

	h.sched.Advance(999 * time.Millisecond)
	assert.Equal(t, InProgress, h.session.Progress())

	h.sched.Advance(time.Millisecond)
	assert.Equal(t, Complete, h.session.Progress())
	assert.True(t, h.session.FellBack())
	assert.Equal(t, RoleUnsyncPrimary, h.session.Role())
	assert.Equal(t, ModeUnsynchronized, h.session.Mode())
	assert.Equal(t, []string{"render:1s"}, h.renderer.calls)

	// a stray duplicate timeout and a late convergence change nothing
	h.session.HandleEvent(timeoutEvent{session: h.session.ID()})
	h.session.HandleEvent(Converged{})
	h.sched.Advance(5 * time.Second)
	assert.Equal(t, 1, h.observer.fallbacks)
	assert.Len(t, h.renderer.calls, 1)
}

func TestTimelineUnavailableStillBounded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncPrimary, ModeSynchronized)
	h.timeline.available = false
	require.NoError(t, h.session.Start())

	h.sched.Advance(time.Second)
	assert.Empty(t, h.peer.samples)
	assert.True(t, h.session.FellBack())
	assert.Equal(t, 1, h.observer.fallbacks)
}

func TestSecondaryJoinUnmutesAfterSettle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncSecondary, ModeSecondaryJoin)
	require.NoError(t, h.session.Start())
	assert.Equal(t, RoleSecondaryJoining, h.session.Role())
	assert.True(t, h.session.Muted())
	assert.Equal(t, []string{"mute:true", "render:0s"}, h.renderer.calls, "decode starts muted at once")

	h.sched.Advance(100 * time.Millisecond)
	h.sched.Post(Converged{Remaining: 300 * time.Millisecond})
	h.sched.RunPending()

	h.sched.Advance(319 * time.Millisecond)
	assert.True(t, h.session.Muted())
	assert.Equal(t, InProgress, h.session.Progress())

	h.sched.Advance(time.Millisecond)
	assert.False(t, h.session.Muted())
	assert.Equal(t, Complete, h.session.Progress())
	assert.Equal(t, RoleSyncSecondary, h.session.Role())

	// convergence arrived before the timeout, so it never fires
	h.sched.Advance(2 * time.Second)
	assert.False(t, h.session.FellBack())
}

func TestSecondaryJoinTimeoutUnmutes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncSecondary, ModeSecondaryJoin)
	require.NoError(t, h.session.Start())

	h.sched.Advance(time.Second)
	assert.True(t, h.session.FellBack())
	assert.False(t, h.session.Muted())
	assert.Equal(t, []string{"mute:true", "render:0s", "mute:false"}, h.renderer.calls)
}

func TestHandoverVetoedWhileInProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncPrimary, ModeSynchronized)
	require.NoError(t, h.session.Start())

	err := h.session.Handover(RoleSyncSecondary)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandoverVetoed)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
	assert.Equal(t, RoleSyncPrimary, h.session.Role())
	assert.Empty(t, h.peer.roles)
	assert.Equal(t, []string{"synchronized-primary->synchronized-secondary:true"}, h.observer.handovers)
}

func TestHandoverAfterCompleteReconfiguresInPlace(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncPrimary, ModeSynchronized)
	require.NoError(t, h.session.Start())
	h.sched.Post(Converged{})
	h.sched.RunPending()
	id := h.session.ID()

	h.sched.Post(HandoverRequest{Role: RoleSyncSecondary})
	h.sched.RunPending()

	assert.Equal(t, id, h.session.ID(), "same session after handover")
	assert.Equal(t, RoleSyncSecondary, h.session.Role())
	assert.Equal(t, []Role{RoleSyncPrimary}, h.peer.roles, "peer takes the opposite role")

	// a secondary stops sending samples
	sent := len(h.peer.samples)
	h.sched.Advance(time.Second)
	assert.Len(t, h.peer.samples, sent)

	require.NoError(t, h.session.Handover(RoleSyncPrimary))
	assert.Equal(t, []Role{RoleSyncPrimary, RoleSyncSecondary}, h.peer.roles)
	h.sched.Advance(time.Second)
	assert.Greater(t, len(h.peer.samples), sent)
	assert.Equal(t, 2, h.session.Status().Handovers)
}

func TestHandoverPeerFailureKeepsRole(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncPrimary, ModePreAligned)
	require.NoError(t, h.session.Start())
	h.peer.failRole = true

	err := h.session.Handover(RoleSyncSecondary)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.Equal(t, RoleSyncPrimary, h.session.Role())
}

func TestCloseCancelsTimersAndIgnoresStaleEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncPrimary, ModeSynchronized)
	require.NoError(t, h.session.Start())
	require.Positive(t, h.sched.PendingTimers())

	h.session.Close()
	assert.Equal(t, 0, h.sched.PendingTimers())
	assert.True(t, h.session.Closed())
	assert.ErrorIs(t, h.session.Handover(RoleSyncSecondary), ErrSessionClosed)

	h.session.HandleEvent(Converged{})
	assert.Equal(t, InProgress, h.session.Progress())
	assert.Equal(t, 0, h.observer.fallbacks)

	// deferred events from another session are consumed but ignored
	other := newHarness(t, RoleSyncPrimary, ModeSynchronized)
	assert.True(t, other.session.HandleEvent(timeoutEvent{session: h.session.ID()}))
	assert.False(t, other.session.FellBack())
}

func TestPeerSampleOffset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, RoleSyncSecondary, ModeSynchronized)
	require.NoError(t, h.session.Start())

	h.sched.Advance(30 * time.Millisecond)
	h.sched.Post(PeerSample{Sample: Sample{Seq: 1, Shared: epoch.Add(time.Hour)}})
	h.sched.RunPending()

	st := h.session.Status()
	assert.Equal(t, uint64(1), st.SamplesReceived)
	assert.Equal(t, "30ms", st.PeerOffset)
	assert.Equal(t, uint64(1), h.session.LastPeerSample().Seq)
}

func TestIsEvent(t *testing.T) {
	t.Parallel()

	assert.True(t, IsEvent(Converged{}))
	assert.True(t, IsEvent(sampleTick{}))
	assert.False(t, IsEvent(nil))
}

func TestRoleOppositeAndParseMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RoleSyncSecondary, RoleSyncPrimary.Opposite())
	assert.Equal(t, RoleSyncPrimary, RoleSecondaryJoining.Opposite())
	assert.Equal(t, RoleUnsyncPrimary, RoleUnsyncPrimary.Opposite())

	m, err := ParseMode("secondary-join")
	require.NoError(t, err)
	assert.Equal(t, ModeSecondaryJoin, m)
	_, err = ParseMode("telepathic")
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	for r := RoleUnsyncPrimary; r <= RoleSecondaryJoining; r++ {
		got, err := ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("bystander")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
