package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/twsaudio/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type named string

func (n named) EventName() string { return string(n) }

type recorder struct {
	mu     sync.Mutex
	events []string
	onEach func(Event)
}

func (r *recorder) Dispatch(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev.EventName())
	hook := r.onEach
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestLoopDispatchesInArrivalOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	loop := NewLoop(Config{QueueSize: 16}, rec, nil)

	for _, n := range []string{"a", "b", "c"} {
		require.True(t, loop.Post(named(n)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.names()) == 3 }, time.Second, time.Millisecond)
	require.NoError(t, loop.Stop(time.Second))

	assert.Equal(t, []string{"a", "b", "c"}, rec.names())
	stats := loop.Stats()
	assert.Equal(t, uint64(3), stats.Received)
	assert.Equal(t, uint64(3), stats.Dispatched)
}

func TestLoopQueueFullDrops(t *testing.T) {
	t.Parallel()

	loop := NewLoop(Config{QueueSize: 1}, &recorder{}, nil)
	assert.True(t, loop.Post(named("first")))
	assert.False(t, loop.Post(named("second")))
	assert.Equal(t, uint64(1), loop.Stats().Dropped)
}

func TestLoopRejectsPostAfterStop(t *testing.T) {
	t.Parallel()

	loop := NewLoop(Config{}, &recorder{}, nil)
	require.NoError(t, loop.Stop(time.Second))
	assert.False(t, loop.Post(named("late")))
}

func TestLoopRunWithoutDispatcher(t *testing.T) {
	t.Parallel()

	loop := NewLoop(Config{}, nil, nil)
	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoDispatcher)
}

func TestLoopCancelledTimerIsDropped(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	loop := NewLoop(Config{}, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	cancelled := loop.PostAfter(20*time.Millisecond, named("cancelled"))
	loop.PostAfter(30*time.Millisecond, named("fired"))
	assert.True(t, loop.Cancel(cancelled))
	assert.False(t, loop.Cancel(cancelled))

	require.Eventually(t, func() bool { return len(rec.names()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, loop.Stop(time.Second))

	assert.Equal(t, []string{"fired"}, rec.names())
	stats := loop.Stats()
	assert.Equal(t, uint64(1), stats.TimersCancelled)
	assert.Equal(t, uint64(1), stats.TimersFired)
}

func TestLoopTimerSurvivesFullQueue(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	rec := &recorder{onEach: func(ev Event) {
		if ev.EventName() == "block" {
			<-release
		}
	}}
	loop := NewLoop(Config{QueueSize: 1}, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	require.True(t, loop.Post(named("block")))
	require.Eventually(t, func() bool { return len(rec.names()) == 1 }, time.Second, time.Millisecond)
	require.True(t, loop.Post(named("filler")))
	require.False(t, loop.Post(named("overflow")), "queue should be saturated")

	loop.PostAfter(5*time.Millisecond, named("sync-timeout"))
	require.Eventually(t, func() bool {
		loop.mu.Lock()
		defer loop.mu.Unlock()
		return len(loop.due) == 1
	}, time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return len(rec.names()) == 3 }, time.Second, time.Millisecond)
	require.NoError(t, loop.Stop(time.Second))

	assert.ElementsMatch(t, []string{"block", "filler", "sync-timeout"}, rec.names())
	stats := loop.Stats()
	assert.Equal(t, uint64(1), stats.TimersFired)
	assert.Equal(t, uint64(1), stats.Dropped, "only the explicit overflow post is dropped")
}

func TestLoopSelfPostedEventsFollowQueuedOnes(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	loop := NewLoop(Config{}, rec, nil)
	rec.onEach = func(ev Event) {
		if ev.EventName() == "phase-a" {
			loop.Post(named("phase-b"))
		}
	}

	loop.Post(named("phase-a"))
	loop.Post(named("stop"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rec.names()) == 3 }, time.Second, time.Millisecond)
	require.NoError(t, loop.Stop(time.Second))
	assert.Equal(t, []string{"phase-a", "stop", "phase-b"}, rec.names())
}

func TestLoopStopDrainsQueue(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	started := make(chan struct{})
	rec := &recorder{}
	rec.onEach = func(ev Event) {
		if ev.EventName() == "slow" {
			close(started)
			<-block
		}
	}
	loop := NewLoop(Config{}, rec, nil)
	loop.Post(named("slow"))
	loop.Post(named("queued"))
	go func() { _ = loop.Run(context.Background()) }()
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- loop.Stop(time.Second) }()
	close(block)

	require.NoError(t, <-stopped)
	assert.Equal(t, []string{"slow", "queued"}, rec.names())
}

func TestLoopContractViolationPropagates(t *testing.T) {
	t.Parallel()

	loop := NewLoop(Config{}, DispatcherFunc(func(Event) {
		errors.ContractViolation("pipeline", "voice while music")
	}), nil)

	assert.Panics(t, func() { loop.dispatch(named("start-voice")) })
}

func TestManualRunPending(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	m := NewManual(time.Unix(0, 0), rec)
	rec.onEach = func(ev Event) {
		if ev.EventName() == "a" {
			m.Post(named("a2"))
		}
	}

	m.Post(named("a"))
	m.Post(named("b"))
	assert.Equal(t, 2, m.Pending())

	assert.Equal(t, 3, m.RunPending())
	assert.Equal(t, []string{"a", "b", "a2"}, rec.names())
	assert.Equal(t, 0, m.Pending())
}

func TestManualStep(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	m := NewManual(time.Unix(0, 0), rec)
	m.Post(named("a"))
	m.Post(named("b"))

	assert.True(t, m.Step())
	assert.Equal(t, []string{"a"}, rec.names())
	assert.Equal(t, 1, m.Pending())
	assert.True(t, m.Step())
	assert.False(t, m.Step())
	assert.Equal(t, uint64(2), m.Dispatched())
}

func TestManualAdvanceFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	start := time.Unix(100, 0)
	m := NewManual(start, rec)

	m.PostAfter(30*time.Millisecond, named("late"))
	m.PostAfter(10*time.Millisecond, named("early"))
	m.PostAfter(10*time.Millisecond, named("early-second"))
	m.PostAfter(time.Second, named("beyond"))

	m.Advance(50 * time.Millisecond)

	assert.Equal(t, []string{"early", "early-second", "late"}, rec.names())
	assert.Equal(t, start.Add(50*time.Millisecond), m.Now())
	assert.Equal(t, 1, m.PendingTimers())
}

func TestManualTimerSeesItsDeadlineAsNow(t *testing.T) {
	t.Parallel()

	start := time.Unix(0, 0)
	var firedAt time.Time
	var m *Manual
	m = NewManual(start, DispatcherFunc(func(Event) { firedAt = m.Now() }))

	m.PostAfter(25*time.Millisecond, named("tick"))
	m.Advance(time.Second)

	assert.Equal(t, start.Add(25*time.Millisecond), firedAt)
}

func TestManualTimerChain(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	m := NewManual(time.Unix(0, 0), rec)
	rec.onEach = func(ev Event) {
		if ev.EventName() == "first" {
			m.PostAfter(10*time.Millisecond, named("second"))
		}
	}

	m.PostAfter(10*time.Millisecond, named("first"))
	m.Advance(15 * time.Millisecond)
	assert.Equal(t, []string{"first"}, rec.names())

	m.Advance(5 * time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, rec.names())
}

func TestManualCancel(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	m := NewManual(time.Unix(0, 0), rec)

	id := m.PostAfter(time.Millisecond, named("x"))
	assert.True(t, m.Cancel(id))
	assert.False(t, m.Cancel(id))

	m.Advance(time.Second)
	assert.Empty(t, rec.names())
}
