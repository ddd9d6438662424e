package pipeline

import (
	"time"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/graph"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

func (m *Machine) onStartMusic(e StartMusic) Result {
	if m.ancTuning() {
		return Rejected
	}
	c := &m.ctx
	switch c.State {
	case StateIdle, StateTonePlaying:
		m.beginMusic(e)
		return Accepted
	case StateLeakThroughStandalone:
		m.teardown("preempted by music")
		m.beginMusic(e)
		return Accepted
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay:
		if e.Source == c.Source {
			return Accepted
		}
		return Rejected
	case StateMusicStartingAsRelayReceiver:
		return Rejected
	case StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive:
		// callers gate music on voice themselves; unlike voice on music this
		// is a plain rejection
		return Rejected
	case StateAncTuning:
		return Rejected
	}
	return Rejected
}

// beginMusic enters phase A. A tone carried over from StateTonePlaying is
// dealt with by the first phase.
func (m *Machine) beginMusic(e StartMusic) {
	c := &m.ctx
	c.Codec = e.Codec
	c.Source = e.Source
	if e.Volume > 0 {
		c.Volume = m.clampVolume(e.Volume)
	}
	m.beginPhases(StateMusicStartingA)
}

func (m *Machine) beginPhases(state State) {
	c := &m.ctx
	c.Generation++
	c.Next = PhaseOutput
	c.PhaseRetries = 0
	m.transition(state)
	m.postPhase(0)
}

func (m *Machine) postPhase(delay time.Duration) {
	c := &m.ctx
	ev := phaseStep{gen: c.Generation}
	if delay > 0 {
		c.phaseTimer = m.sched.PostAfter(delay, ev)
		return
	}
	if !m.sched.Post(ev) {
		m.fail("post_phase", errors.Newf("event queue rejected phase step").
			Component(ComponentPipeline).
			Category(errors.CategoryResource).
			Build())
	}
}

func (m *Machine) onPhaseStep(e phaseStep) Result {
	c := &m.ctx
	if e.gen != c.Generation {
		m.logger.Debug("dropping stale phase step",
			logger.Uint64("generation", e.gen),
			logger.Uint64("current", c.Generation))
		return Accepted
	}
	c.phaseTimer = 0
	switch c.State {
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC, StateMusicStartingAsRelayReceiver:
		m.runPhase()
	case StateIdle, StateTonePlaying, StateMusicStreaming, StateMusicStreamingWithRelay,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive,
		StateLeakThroughStandalone, StateAncTuning:
		m.logger.Debug("phase step outside a start", logger.String("state", c.State.String()))
	}
	return Accepted
}

func (m *Machine) runPhase() {
	c := &m.ctx
	switch c.Next {
	case PhaseOutput:
		if c.Tone != nil && c.ToneLock && c.PhaseRetries < m.cfg.MaxPhaseRetries {
			c.PhaseRetries++
			m.logger.Debug("waiting for tone before building output",
				logger.Int("retry", c.PhaseRetries))
			m.postPhase(m.cfg.PhaseRetryDelay)
			return
		}
		if c.Tone != nil || c.OutputTone {
			m.stopTone("preempted by streaming")
		}
		h, err := graph.Create(m.deps.Graphs, musicOutputSpec(c.Codec, c.Volume), m.deps.Tracker)
		if err != nil {
			m.retryPhase("create_output", err)
			return
		}
		c.Output = h
		c.Next = PhaseInput
		c.PhaseRetries = 0
		if c.State == StateMusicStartingA {
			m.transition(StateMusicStartingB)
		}
		m.postPhase(0)

	case PhaseInput:
		spec := musicInputSpec(c.Codec)
		if c.Receiver {
			spec = relayInputSpec(c.Codec)
		}
		h, err := graph.Create(m.deps.Graphs, spec, m.deps.Tracker)
		if err != nil {
			m.retryPhase("create_input", err)
			return
		}
		c.Input = h
		c.Next = PhaseConnect
		c.PhaseRetries = 0
		if c.State == StateMusicStartingB {
			m.transition(StateMusicStartingC)
		}
		m.postPhase(0)

	case PhaseConnect:
		edge := decodeJoin(c.Input.Name())
		if err := m.startGraphs(c.Input, c.Output, &edge, m.sourceAvailable(c.Source)); err != nil {
			m.fail("start_music", err)
			return
		}
		c.Next = PhaseNone
		if c.Receiver {
			m.finishReceiver()
		} else {
			m.transition(StateMusicStreaming)
			if mode := c.relayMode; mode != nil {
				c.relayMode = nil
				if c.Joined {
					m.startRelay(*mode, StateMusicStreamingWithRelay)
				} else {
					m.logger.Warn("dropping requested relay",
						logger.Error(ErrSourceUnavailable),
						logger.String("source", c.Source))
				}
			}
		}
		m.playNextTone()

	case PhaseNone:
		m.logger.Debug("phase step with nothing to run")
	}
}

// retryPhase re-posts the current phase after PhaseRetryDelay until
// MaxPhaseRetries is used up, then rolls back
func (m *Machine) retryPhase(op string, err error) {
	c := &m.ctx
	if c.PhaseRetries < m.cfg.MaxPhaseRetries {
		c.PhaseRetries++
		m.logger.Warn("phase failed, retrying",
			logger.Error(err),
			logger.String("operation", op),
			logger.Int("retry", c.PhaseRetries))
		m.postPhase(m.cfg.PhaseRetryDelay)
		return
	}
	m.fail(op, errors.New(ErrRetriesExhausted).
		Context("operation", op).
		Context("cause", err.Error()).
		Build())
}

func (m *Machine) onStopMusic(e StopMusic) Result {
	switch m.ctx.State {
	case StateIdle:
		return Accepted
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay, StateMusicStartingAsRelayReceiver:
		return m.stop(reasonOr(e.Reason, "stop music"))
	case StateTonePlaying, StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive,
		StateLeakThroughStandalone, StateAncTuning:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onStartRelay(e StartRelay) Result {
	c := &m.ctx
	if m.deps.Sync == nil {
		return Rejected
	}
	mode := m.cfg.RelayMode
	if e.Mode != nil {
		mode = *e.Mode
	}
	switch c.State {
	case StateMusicStreaming:
		if !c.Joined {
			m.logger.Warn("cannot relay without a running decode graph",
				logger.Error(ErrSourceUnavailable),
				logger.String("source", c.Source))
			return Rejected
		}
		m.startRelay(mode, StateMusicStreamingWithRelay)
		return Accepted
	case StateVoiceActive:
		m.startRelay(mode, StateVoiceActiveWithRelay)
		return Accepted
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC:
		// started once streaming is reached
		c.relayMode = &mode
		return Accepted
	case StateMusicStreamingWithRelay, StateVoiceActiveWithRelay:
		return Accepted
	case StateIdle, StateTonePlaying, StateMusicStartingAsRelayReceiver, StateVoiceRelayReceiverActive,
		StateLeakThroughStandalone, StateAncTuning:
		return Rejected
	}
	return Rejected
}

// startRelay enables the forwarder and creates the primary session. A
// forwarder failure leaves the use case running without relay.
func (m *Machine) startRelay(mode syncproto.Mode, to State) {
	c := &m.ctx
	if err := c.Input.Set(NodeForwarder, "enabled", true); err != nil {
		m.hwFailures++
		m.logger.Warn("failed to enable relay forwarder",
			logger.Error(err),
			logger.String("operation", "start_relay"))
		return
	}
	c.Session = m.deps.Sync.NewSession(syncproto.RoleSyncPrimary, mode, outputRenderer{m})
	m.transition(to)
	if err := c.Session.Start(); err != nil {
		m.logger.Warn("sync session failed to start", logger.Error(err))
	}
}

func (m *Machine) stopRelay(to State) {
	c := &m.ctx
	if err := c.Input.Set(NodeForwarder, "enabled", false); err != nil {
		m.logger.Warn("failed to disable relay forwarder", logger.Error(err))
	}
	c.Session.Close()
	c.Session = nil
	m.transition(to)
}

func (m *Machine) onStopRelay() Result {
	c := &m.ctx
	switch c.State {
	case StateIdle:
		return Accepted
	case StateMusicStreamingWithRelay:
		if c.Receiver {
			return m.stop("relay stopped")
		}
		m.stopRelay(StateMusicStreaming)
		return Accepted
	case StateVoiceActiveWithRelay:
		m.stopRelay(StateVoiceActive)
		return Accepted
	case StateMusicStartingAsRelayReceiver, StateVoiceRelayReceiverActive:
		return m.stop("relay stopped")
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC:
		if c.relayMode == nil {
			return Rejected
		}
		c.relayMode = nil
		return Accepted
	case StateTonePlaying, StateMusicStreaming, StateVoiceActive, StateLeakThroughStandalone, StateAncTuning:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onStartRelayReceiver(e StartRelayReceiver) Result {
	if m.ancTuning() || m.deps.Sync == nil {
		return Rejected
	}
	c := &m.ctx
	switch c.State {
	case StateIdle, StateTonePlaying, StateLeakThroughStandalone:
		if c.State == StateLeakThroughStandalone {
			m.teardown("preempted by relay receiver")
		}
		c.Codec = e.Codec
		c.Source = RelaySource
		c.Receiver = true
		c.recvMode = m.cfg.ReceiverMode
		if e.Mode != nil {
			c.recvMode = *e.Mode
		}
		if e.Volume > 0 {
			c.Volume = m.clampVolume(e.Volume)
		}
		m.beginPhases(StateMusicStartingAsRelayReceiver)
		return Accepted
	case StateMusicStartingAsRelayReceiver:
		return Accepted
	case StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStreaming, StateMusicStreamingWithRelay,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive, StateAncTuning:
		return Rejected
	}
	return Rejected
}

func (m *Machine) finishReceiver() {
	c := &m.ctx
	role := syncproto.RoleSyncSecondary
	if c.recvMode == syncproto.ModeSecondaryJoin {
		role = syncproto.RoleSecondaryJoining
	}
	c.Session = m.deps.Sync.NewSession(role, c.recvMode, outputRenderer{m})
	m.transition(StateMusicStreamingWithRelay)
	if err := c.Session.Start(); err != nil {
		m.logger.Warn("sync session failed to start", logger.Error(err))
	}
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
