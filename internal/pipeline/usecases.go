package pipeline

import (
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/graph"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/resource"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

func (m *Machine) onStartVoice(e StartVoice) Result {
	if m.ancTuning() {
		return Rejected
	}
	c := &m.ctx
	switch c.State {
	case StateIdle:
		m.startVoice(e)
		return Accepted
	case StateTonePlaying, StateLeakThroughStandalone:
		m.teardown("preempted by voice")
		m.startVoice(e)
		return Accepted
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver:
		m.checkVoiceOverMusic()
		return Rejected
	case StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive, StateAncTuning:
		return Rejected
	}
	return Rejected
}

// checkVoiceOverMusic panics when a voice start reaches a machine that
// still owns music graphs, whether or not a stop is pending
func (m *Machine) checkVoiceOverMusic() {
	c := &m.ctx
	if !m.musicGraphsExist() {
		return
	}
	m.logger.Error("voice start while music graphs exist",
		logger.String("state", c.State.String()),
		logger.String("output", c.Output.Name()),
		logger.String("input", c.Input.Name()),
		logger.Bool("pending_stop", c.PendingStop))
	errors.ContractViolation(ComponentPipeline, "voice start while music graphs exist",
		"state", c.State.String())
}

func (m *Machine) musicGraphsExist() bool {
	c := &m.ctx
	return c.State.Music() && ((c.Output != nil && !c.OutputTone) || c.Input != nil)
}

// startVoice builds the downlink render graph and the uplink capture graph
// in one go; the echo canceller is joined to the render mixer
func (m *Machine) startVoice(e StartVoice) {
	c := &m.ctx
	c.Generation++
	c.Chain = e.Chain
	if e.Volume > 0 {
		c.Volume = m.clampVolume(e.Volume)
	}

	out, err := graph.Create(m.deps.Graphs, voiceOutputSpec(e.Chain, m.cfg.VoiceRate, c.Volume), m.deps.Tracker)
	if err != nil {
		m.fail("create_voice_output", err)
		return
	}
	c.Output = out
	in, err := graph.Create(m.deps.Graphs, voiceInputSpec(e.Chain, m.cfg.VoiceRate, e.LinkQuality), m.deps.Tracker)
	if err != nil {
		m.fail("create_voice_input", err)
		return
	}
	c.Input = in

	if err := m.acquireMic(resource.MicVoice, m.cfg.VoiceRate, true, resource.PriorityNormal); err != nil {
		m.fail("acquire_voice_mic", err)
		return
	}
	if err := m.acquireMic(resource.MicReference, m.cfg.VoiceRate, false, resource.PriorityNormal); err != nil {
		m.fail("acquire_reference_mic", err)
		return
	}

	edge := echoReferenceJoin()
	if err := m.startGraphs(out, in, &edge, true); err != nil {
		m.fail("start_voice", err)
		return
	}
	m.transition(StateVoiceActive)
	m.playNextTone()
}

func (m *Machine) onStopVoice() Result {
	switch m.ctx.State {
	case StateIdle:
		return Accepted
	case StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive:
		return m.stop("stop voice")
	case StateTonePlaying, StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver,
		StateLeakThroughStandalone, StateAncTuning:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onMuteMic(e MuteMic) Result {
	c := &m.ctx
	switch c.State {
	case StateVoiceActive, StateVoiceActiveWithRelay:
		if err := c.Input.Set(NodeMic, "muted", e.Muted); err != nil {
			m.hwFailures++
			m.logger.Warn("failed to set microphone mute",
				logger.Error(err),
				logger.String("operation", "mute_mic"))
			return Accepted
		}
		c.MicMuted = e.Muted
		return Accepted
	case StateIdle, StateTonePlaying, StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver,
		StateVoiceRelayReceiverActive, StateLeakThroughStandalone, StateAncTuning:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onStartVoiceRelayReceiver(e StartVoiceRelayReceiver) Result {
	if m.ancTuning() || m.deps.Sync == nil {
		return Rejected
	}
	switch m.ctx.State {
	case StateIdle:
		m.startVoiceReceiver(e)
		return Accepted
	case StateTonePlaying, StateLeakThroughStandalone:
		m.teardown("preempted by voice relay")
		m.startVoiceReceiver(e)
		return Accepted
	case StateVoiceRelayReceiverActive:
		return Accepted
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver,
		StateVoiceActive, StateVoiceActiveWithRelay, StateAncTuning:
		return Rejected
	}
	return Rejected
}

// startVoiceReceiver renders a relayed call through the output graph only
func (m *Machine) startVoiceReceiver(e StartVoiceRelayReceiver) {
	c := &m.ctx
	c.Generation++
	c.Chain = e.Chain
	c.Receiver = true
	c.Source = RelaySource
	if e.Volume > 0 {
		c.Volume = m.clampVolume(e.Volume)
	}

	out, err := graph.Create(m.deps.Graphs, voiceRelayOutputSpec(e.Chain, m.cfg.VoiceRate, c.Volume), m.deps.Tracker)
	if err != nil {
		m.fail("create_voice_relay_output", err)
		return
	}
	c.Output = out
	if err := m.startGraphs(nil, out, nil, false); err != nil {
		m.fail("start_voice_relay", err)
		return
	}

	mode := m.cfg.ReceiverMode
	role := syncproto.RoleSyncSecondary
	if mode == syncproto.ModeSecondaryJoin {
		role = syncproto.RoleSecondaryJoining
	}
	c.Session = m.deps.Sync.NewSession(role, mode, outputRenderer{m})
	m.transition(StateVoiceRelayReceiverActive)
	if err := c.Session.Start(); err != nil {
		m.logger.Warn("sync session failed to start", logger.Error(err))
	}
	m.playNextTone()
}

func (m *Machine) onStartLeakThrough() Result {
	switch m.ctx.State {
	case StateIdle:
		m.startLeakThrough()
		return Accepted
	case StateLeakThroughStandalone:
		return Accepted
	case StateTonePlaying, StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive, StateAncTuning:
		return Rejected
	}
	return Rejected
}

// startLeakThrough feeds the feed-forward microphone through a passthrough
// stage into an ordinary render graph, so tones still mix in
func (m *Machine) startLeakThrough() {
	c := &m.ctx
	c.Generation++
	out, err := graph.Create(m.deps.Graphs, renderSpec("ambient-render", m.cfg.MicRate, c.Volume), m.deps.Tracker)
	if err != nil {
		m.fail("create_leak_through_output", err)
		return
	}
	c.Output = out
	in, err := graph.Create(m.deps.Graphs, leakThroughInputSpec(m.cfg.MicRate), m.deps.Tracker)
	if err != nil {
		m.fail("create_leak_through_input", err)
		return
	}
	c.Input = in
	if err := m.acquireMic(resource.MicFeedForward, m.cfg.MicRate, false, resource.PriorityNormal); err != nil {
		m.fail("acquire_feed_forward_mic", err)
		return
	}
	edge := leakThroughJoin()
	if err := m.startGraphs(in, out, &edge, true); err != nil {
		m.fail("start_leak_through", err)
		return
	}
	m.transition(StateLeakThroughStandalone)
}

func (m *Machine) onStopLeakThrough() Result {
	switch m.ctx.State {
	case StateIdle:
		return Accepted
	case StateLeakThroughStandalone:
		return m.stop("stop leak-through")
	case StateTonePlaying, StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive, StateAncTuning:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onEnterTuning() Result {
	switch m.ctx.State {
	case StateIdle:
		m.startTuning()
		return Accepted
	case StateTonePlaying, StateLeakThroughStandalone:
		m.teardown("preempted by tuning")
		m.startTuning()
		return Accepted
	case StateAncTuning:
		return Accepted
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive:
		return Rejected
	}
	return Rejected
}

// startTuning routes both noise-cancellation microphones to the tool. The
// leases are high priority so a normal exclusive holder is preempted.
func (m *Machine) startTuning() {
	c := &m.ctx
	c.Generation++
	out, err := graph.Create(m.deps.Graphs, tuningOutputSpec(m.cfg.MicRate), m.deps.Tracker)
	if err != nil {
		m.fail("create_tuning_output", err)
		return
	}
	c.Output = out
	in, err := graph.Create(m.deps.Graphs, tuningInputSpec(m.cfg.MicRate), m.deps.Tracker)
	if err != nil {
		m.fail("create_tuning_input", err)
		return
	}
	c.Input = in
	for _, role := range []resource.MicRole{resource.MicFeedForward, resource.MicFeedBack} {
		if err := m.acquireMic(role, m.cfg.MicRate, true, resource.PriorityHigh); err != nil {
			m.fail("acquire_tuning_mic", err)
			return
		}
	}
	if err := m.startGraphs(out, in, nil, true); err != nil {
		m.fail("start_tuning", err)
		return
	}
	m.transition(StateAncTuning)
}

func (m *Machine) onExitTuning() Result {
	switch m.ctx.State {
	case StateIdle:
		return Accepted
	case StateAncTuning:
		return m.stop("exit tuning")
	case StateTonePlaying, StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive, StateLeakThroughStandalone:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onStop(e Stop) Result {
	switch m.ctx.State {
	case StateIdle:
		return Accepted
	case StateTonePlaying, StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive,
		StateLeakThroughStandalone, StateAncTuning:
		return m.stop(reasonOr(e.Reason, "stop"))
	}
	return Rejected
}

// stop tears the use case down, unless a non-interruptible tone is playing
// in a running use case: then teardown waits for ToneComplete or the tone
// lock timeout. Starts in progress never wait.
func (m *Machine) stop(reason string) Result {
	c := &m.ctx
	if c.Tone != nil && c.ToneLock && !c.State.Starting() {
		if !c.PendingStop {
			c.PendingStop = true
			c.lockTimer = m.sched.PostAfter(m.cfg.ToneLockTimeout, toneLockTimeout{gen: c.Generation})
			m.logger.Info("stop deferred until tone completes",
				logger.String("reason", reason),
				logger.String("tone", c.Tone.Ref))
		}
		return Accepted
	}
	m.teardown(reason)
	return Accepted
}

func (m *Machine) onSetVolume(e SetVolume) Result {
	c := &m.ctx
	switch c.State {
	case StateAncTuning:
		return Rejected
	case StateIdle, StateTonePlaying, StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive, StateLeakThroughStandalone:
		c.Volume = m.clampVolume(e.Value)
		if c.Output.Live() && c.Output.HasNode(NodeVolume) {
			if err := c.Output.Set(NodeVolume, "level", c.Volume); err != nil {
				m.hwFailures++
				m.logger.Warn("failed to set volume",
					logger.Error(err),
					logger.String("operation", "set_volume"))
			}
		}
		return Accepted
	}
	return Rejected
}
