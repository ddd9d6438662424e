package pipeline

import (
	"time"

	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/graph"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/resource"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// AmpOwner is the amplifier owner name used by the pipeline
const AmpOwner = "pipeline"

const micUser = "pipeline"

// MediaSources reports whether the connection that feeds a decode graph is
// still open
type MediaSources interface {
	Available(source string) bool
}

// SyncFactory creates the session owned by a relay-capable state
type SyncFactory interface {
	NewSession(role syncproto.Role, mode syncproto.Mode, r syncproto.Renderer) *syncproto.Session
}

// ANCView is what the pipeline needs from the ANC sub-state-machine
type ANCView interface {
	NeedsClockBoost() bool
	TuningActive() bool
	OnPipelineTransition(idle bool)
}

// Amplifier is the reference-counted amplifier
type Amplifier interface {
	Acquire(owner string) error
	Release(owner string) error
}

// Clock applies the derived DSP clock profile
type Clock interface {
	Apply(in resource.ClockInputs) (resource.ClockProfile, error)
}

// Microphones leases physical microphones
type Microphones interface {
	Acquire(l resource.Lease) error
	Release(mic resource.MicID, user string) error
}

// StateListener observes every committed transition
type StateListener interface {
	PipelineStateChanged(from, to State)
}

// StateListenerFunc adapts a function to StateListener
type StateListenerFunc func(from, to State)

func (f StateListenerFunc) PipelineStateChanged(from, to State) { f(from, to) }

// Config is the read-only pipeline configuration
type Config struct {
	DefaultVolume   int
	MaxVolume       int
	MaxPhaseRetries int
	PhaseRetryDelay time.Duration
	ToneLockTimeout time.Duration
	MaxQueuedTones  int
	ToneRate        int
	VoiceRate       int
	MicRate         int
	// RelayMode is the sync mode of a relay this device starts
	RelayMode syncproto.Mode
	// ReceiverMode is the sync mode used when rendering a relayed stream
	ReceiverMode syncproto.Mode
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() Config {
	return Config{
		DefaultVolume:   64,
		MaxVolume:       127,
		MaxPhaseRetries: 5,
		PhaseRetryDelay: 20 * time.Millisecond,
		ToneLockTimeout: 3 * time.Second,
		MaxQueuedTones:  4,
		ToneRate:        16000,
		VoiceRate:       16000,
		MicRate:         48000,
		RelayMode:       syncproto.ModeSynchronized,
		ReceiverMode:    syncproto.ModeSecondaryJoin,
	}
}

// Deps are the collaborators. Sources, Sync, ANC, Clock and Mics may be nil.
type Deps struct {
	Graphs  graph.Factory
	Tracker *graph.Tracker
	Sources MediaSources
	Sync    SyncFactory
	ANC     ANCView
	Amp     Amplifier
	Clock   Clock
	Mics    Microphones
	Paths   resource.MicPaths
}

// Context is the mutable record owned by the machine
type Context struct {
	State State
	// Next is the phase a pending phaseStep will run
	Next Phase

	Input  *graph.Handle
	Output *graph.Handle
	// OutputTone is set while Output is a standalone tone graph
	OutputTone bool
	// Joined is false when the decode graph was left unjoined because its
	// source went away before the start completed
	Joined bool

	Codec    Codec
	Source   string
	Chain    string
	Volume   int
	MicMuted bool
	Receiver bool

	AmpUsers int
	Mics     []resource.MicID
	Session  *syncproto.Session

	Tone *PlayTone
	// ToneSeq is the sequence number of the play command for Tone
	ToneSeq     uint64
	ToneQueue   []PlayTone
	ToneLock    bool
	PendingStop bool

	Generation   uint64
	PhaseRetries int

	relayMode  *syncproto.Mode
	recvMode   syncproto.Mode
	phaseTimer eventloop.TimerID
	lockTimer  eventloop.TimerID
}

// Machine is the pipeline state machine. It is not safe for concurrent
// use; every method runs on the event loop.
type Machine struct {
	cfg    Config
	deps   Deps
	sched  eventloop.Scheduler
	logger logger.Logger

	ctx       Context
	listeners []StateListener

	tonePlays   uint64
	accepted    uint64
	rejected    uint64
	hwFailures  uint64
	transitions uint64
}

// New creates a machine in StateIdle
func New(cfg Config, deps Deps, sched eventloop.Scheduler, log logger.Logger) *Machine {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	def := DefaultConfig()
	if cfg.MaxVolume <= 0 {
		cfg.MaxVolume = def.MaxVolume
	}
	if cfg.DefaultVolume < 0 || cfg.DefaultVolume > cfg.MaxVolume {
		cfg.DefaultVolume = min(def.DefaultVolume, cfg.MaxVolume)
	}
	if cfg.MaxPhaseRetries < 0 {
		cfg.MaxPhaseRetries = 0
	}
	if cfg.ToneRate <= 0 {
		cfg.ToneRate = def.ToneRate
	}
	if cfg.VoiceRate <= 0 {
		cfg.VoiceRate = def.VoiceRate
	}
	if cfg.MicRate <= 0 {
		cfg.MicRate = def.MicRate
	}
	if cfg.ToneLockTimeout <= 0 {
		cfg.ToneLockTimeout = def.ToneLockTimeout
	}
	return &Machine{
		cfg:    cfg,
		deps:   deps,
		sched:  sched,
		logger: log.Module("pipeline"),
		ctx:    Context{Volume: cfg.DefaultVolume},
	}
}

// AddListener registers l for state changes
func (m *Machine) AddListener(l StateListener) {
	m.listeners = append(m.listeners, l)
}

// Handle processes one event to completion
func (m *Machine) Handle(ev Event) Result {
	before := m.transitions
	from := m.ctx.State

	res := m.dispatch(ev)
	if res == Rejected {
		m.rejected++
		m.logger.Warn("event rejected",
			logger.String("event", ev.EventName()),
			logger.String("state", from.String()))
	} else {
		m.accepted++
	}

	if m.transitions != before && m.deps.ANC != nil {
		m.deps.ANC.OnPipelineTransition(m.ctx.State == StateIdle)
	}
	m.RecomputeClock()
	return res
}

func (m *Machine) dispatch(ev Event) Result {
	if m.ctx.PendingStop && !allowedDuringStop(ev) {
		if _, voice := ev.(StartVoice); voice {
			m.checkVoiceOverMusic()
		}
		return Rejected
	}
	switch e := ev.(type) {
	case StartMusic:
		return m.onStartMusic(e)
	case StopMusic:
		return m.onStopMusic(e)
	case SetVolume:
		return m.onSetVolume(e)
	case StartVoice:
		return m.onStartVoice(e)
	case StopVoice:
		return m.onStopVoice()
	case MuteMic:
		return m.onMuteMic(e)
	case StartRelay:
		return m.onStartRelay(e)
	case StopRelay:
		return m.onStopRelay()
	case StartRelayReceiver:
		return m.onStartRelayReceiver(e)
	case StartVoiceRelayReceiver:
		return m.onStartVoiceRelayReceiver(e)
	case PlayTone:
		return m.onPlayTone(e)
	case ToneComplete:
		return m.onToneComplete(e)
	case EnterTuning:
		return m.onEnterTuning()
	case ExitTuning:
		return m.onExitTuning()
	case StartLeakThrough:
		return m.onStartLeakThrough()
	case StopLeakThrough:
		return m.onStopLeakThrough()
	case Stop:
		return m.onStop(e)
	case phaseStep:
		return m.onPhaseStep(e)
	case toneLockTimeout:
		return m.onToneLockTimeout(e)
	}
	return Rejected
}

// while a stop waits for a locked tone only stops, volume and tone
// completion get through
func allowedDuringStop(ev Event) bool {
	switch ev.(type) {
	case Stop, StopMusic, StopVoice, StopRelay, StopLeakThrough, ExitTuning,
		SetVolume, ToneComplete, toneLockTimeout:
		return true
	}
	return false
}

func (m *Machine) transition(to State) {
	from := m.ctx.State
	if from == to {
		return
	}
	m.ctx.State = to
	m.transitions++
	m.logger.Info("pipeline state changed",
		logger.String("from", from.String()),
		logger.String("to", to.String()))
	for _, l := range m.listeners {
		l.PipelineStateChanged(from, to)
	}
}

// RecomputeClock derives and applies the DSP clock profile. The controller
// also calls it after ANC transitions.
func (m *Machine) RecomputeClock() {
	if m.deps.Clock == nil {
		return
	}
	if _, err := m.deps.Clock.Apply(m.clockInputs()); err != nil {
		m.logger.Warn("failed to apply clock profile",
			logger.Error(err),
			logger.String("operation", "apply_clock"))
	}
}

func (m *Machine) clockInputs() resource.ClockInputs {
	c := &m.ctx
	in := resource.ClockInputs{TonePlaying: c.Tone != nil}
	if m.deps.ANC != nil {
		in.AncBoost = m.deps.ANC.NeedsClockBoost()
	}
	switch c.State {
	case StateVoiceActive, StateVoiceActiveWithRelay, StateAncTuning:
		in.VoiceCapture = true
	case StateVoiceRelayReceiverActive:
		in.Codec = c.Chain
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver:
		in.Codec = c.Codec.Name
	case StateLeakThroughStandalone:
		in.Codec = passthroughNodeName
	case StateIdle, StateTonePlaying:
	}
	return in
}

func (m *Machine) ancTuning() bool {
	return m.deps.ANC != nil && m.deps.ANC.TuningActive()
}

func (m *Machine) sourceAvailable(source string) bool {
	if m.deps.Sources == nil {
		return true
	}
	return m.deps.Sources.Available(source)
}

func (m *Machine) clampVolume(v int) int {
	return max(0, min(v, m.cfg.MaxVolume))
}

// teardown is the one reverse path shared by stop and failure: close the
// session, stop, detach, disconnect and destroy the graphs, then give back
// the amplifier and microphones
func (m *Machine) teardown(reason string) {
	c := &m.ctx
	c.Generation++
	m.cancelTimers()

	if c.Session != nil {
		c.Session.Close()
		c.Session = nil
	}
	m.cutTone()
	if err := graph.Teardown(c.Output, c.Input); err != nil {
		m.hwFailures++
		m.logger.Warn("graph teardown reported errors",
			logger.Error(err),
			logger.String("operation", "teardown"))
	}
	c.Input, c.Output = nil, nil
	m.releaseAmp()
	m.releaseMics()

	c.Next = PhaseNone
	c.OutputTone = false
	c.Joined = false
	c.Codec = Codec{}
	c.Source = ""
	c.Chain = ""
	c.MicMuted = false
	c.Receiver = false
	c.Tone = nil
	c.ToneSeq = 0
	c.ToneQueue = nil
	c.ToneLock = false
	c.PendingStop = false
	c.PhaseRetries = 0
	c.relayMode = nil

	m.logger.Debug("pipeline torn down", logger.String("reason", reason))
	m.transition(StateIdle)
}

// fail rolls a failed build back to idle
func (m *Machine) fail(op string, err error) {
	m.hwFailures++
	m.logger.Warn("use case start failed, rolling back",
		logger.Error(err),
		logger.String("operation", op),
		logger.String("state", m.ctx.State.String()))
	m.teardown("failure")
}

func (m *Machine) cancelTimers() {
	c := &m.ctx
	if c.phaseTimer != 0 {
		m.sched.Cancel(c.phaseTimer)
		c.phaseTimer = 0
	}
	if c.lockTimer != 0 {
		m.sched.Cancel(c.lockTimer)
		c.lockTimer = 0
	}
}

func (m *Machine) acquireAmp() error {
	if m.ctx.AmpUsers > 0 || m.deps.Amp == nil {
		return nil
	}
	if err := m.deps.Amp.Acquire(AmpOwner); err != nil {
		return err
	}
	m.ctx.AmpUsers++
	return nil
}

func (m *Machine) releaseAmp() {
	if m.ctx.AmpUsers == 0 || m.deps.Amp == nil {
		return
	}
	m.ctx.AmpUsers--
	if err := m.deps.Amp.Release(AmpOwner); err != nil {
		m.logger.Warn("amplifier release failed", logger.Error(err))
	}
}

func (m *Machine) acquireMic(role resource.MicRole, rate int, exclusive bool, prio resource.Priority) error {
	if m.deps.Mics == nil {
		return nil
	}
	id, err := m.deps.Paths.Lookup(role)
	if err != nil {
		m.logger.Debug("no microphone for role", logger.String("role", string(role)))
		return nil
	}
	for _, held := range m.ctx.Mics {
		if held == id {
			return nil
		}
	}
	lease := resource.Lease{
		Mic:       id,
		User:      micUser,
		Rate:      rate,
		Exclusive: exclusive,
		Priority:  prio,
		OnPreempt: m.onMicPreempted,
	}
	if err := m.deps.Mics.Acquire(lease); err != nil {
		return err
	}
	m.ctx.Mics = append(m.ctx.Mics, id)
	return nil
}

func (m *Machine) releaseMics() {
	for _, id := range m.ctx.Mics {
		if err := m.deps.Mics.Release(id, micUser); err != nil {
			m.logger.Debug("microphone release failed",
				logger.String("mic", string(id)),
				logger.Error(err))
		}
	}
	m.ctx.Mics = nil
}

// onMicPreempted runs inside another component's Acquire; the stop is
// posted so it runs as its own event
func (m *Machine) onMicPreempted(mic resource.MicID, _ string) {
	for i, id := range m.ctx.Mics {
		if id == mic {
			m.ctx.Mics = append(m.ctx.Mics[:i], m.ctx.Mics[i+1:]...)
			break
		}
	}
	m.logger.Warn("microphone preempted", logger.String("mic", string(mic)))
	m.sched.Post(Stop{Reason: "microphone preempted"})
}

// startGraphs runs configure and connect on both handles, joins them when
// edge is set, then attaches and starts them. An unavailable upstream is
// left connected and the downstream runs standalone. up may be nil.
func (m *Machine) startGraphs(up, down *graph.Handle, edge *graph.Edge, upAvailable bool) error {
	for _, h := range []*graph.Handle{up, down} {
		if h == nil {
			continue
		}
		if err := h.Configure(); err != nil {
			return err
		}
		if err := h.Connect(); err != nil {
			return err
		}
	}

	runUp := up != nil
	if edge != nil {
		res, err := graph.Join(up, down, *edge, upAvailable)
		if err != nil {
			return err
		}
		m.ctx.Joined = res == graph.JoinFull
		runUp = m.ctx.Joined
		if !m.ctx.Joined {
			m.logger.Info("upstream unavailable, starting render standalone",
				logger.String("graph", down.Name()),
				logger.String("source", m.ctx.Source))
		}
	}

	if runUp {
		if err := up.Attach(); err != nil {
			return err
		}
	}
	if err := down.Attach(); err != nil {
		return err
	}
	if err := m.acquireAmp(); err != nil {
		return err
	}
	if runUp {
		if err := up.Start(); err != nil {
			return err
		}
	}
	return down.Start()
}

func (m *Machine) setOutput(node, key string, value any) error {
	if m.ctx.Output == nil {
		return graph.ErrNodeNotFound
	}
	return m.ctx.Output.Set(node, key, value)
}

// outputRenderer lets a sync session gate the current output graph
type outputRenderer struct{ m *Machine }

func (r outputRenderer) Mute(muted bool) error {
	return r.m.setOutput(NodeVolume, "mute", muted)
}

func (r outputRenderer) StartRender(at time.Time) error {
	return r.m.setOutput(NodeMixer, "render_at", at)
}

// HandleSyncEvent forwards a sync protocol event to the active session. It
// returns false when no session claims the event.
func (m *Machine) HandleSyncEvent(ev eventloop.Event) bool {
	if m.ctx.Session == nil {
		return false
	}
	return m.ctx.Session.HandleEvent(ev)
}

// Handover changes the role of the active session in place
func (m *Machine) Handover(to syncproto.Role) error {
	if m.ctx.Session == nil {
		return syncproto.ErrSessionClosed
	}
	return m.ctx.Session.Handover(to)
}
