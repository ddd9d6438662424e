package pipeline

import (
	"github.com/tphakala/twsaudio/internal/graph"
	"github.com/tphakala/twsaudio/internal/logger"
)

func (m *Machine) onPlayTone(e PlayTone) Result {
	c := &m.ctx
	switch c.State {
	case StateIdle:
		m.startToneGraph(e)
		return Accepted
	case StateMusicStreaming, StateMusicStreamingWithRelay,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive,
		StateLeakThroughStandalone:
		if c.Tone == nil {
			m.playTone(e)
			return Accepted
		}
		return m.queueTone(e)
	case StateTonePlaying, StateMusicStartingA, StateMusicStartingB, StateMusicStartingC,
		StateMusicStartingAsRelayReceiver:
		return m.queueTone(e)
	case StateAncTuning:
		return Rejected
	}
	return Rejected
}

func (m *Machine) queueTone(e PlayTone) Result {
	c := &m.ctx
	if len(c.ToneQueue) >= m.cfg.MaxQueuedTones {
		m.logger.Warn("tone queue full", logger.String("tone", e.Ref))
		return Rejected
	}
	c.ToneQueue = append(c.ToneQueue, e)
	return Accepted
}

// startToneGraph builds a standalone tone graph from idle
func (m *Machine) startToneGraph(e PlayTone) {
	c := &m.ctx
	c.Generation++
	rate := e.SampleRate
	if rate <= 0 {
		rate = m.cfg.ToneRate
	}
	h, err := graph.Create(m.deps.Graphs, toneSpec(rate, c.Volume), m.deps.Tracker)
	if err != nil {
		m.fail("create_tone", err)
		return
	}
	c.Output = h
	c.OutputTone = true
	if err := m.startGraphs(nil, h, nil, false); err != nil {
		m.fail("start_tone", err)
		return
	}
	m.transition(StateTonePlaying)
	m.playTone(e)
}

// playTone hands the tone to the tone node of the running output graph
func (m *Machine) playTone(e PlayTone) {
	c := &m.ctx
	m.tonePlays++
	seq := m.tonePlays
	err := c.Output.Set(NodeTone, ToneParamSeq, seq)
	if err == nil && !e.At.IsZero() {
		err = c.Output.Set(NodeTone, ToneParamAt, e.At)
	}
	if err == nil {
		err = c.Output.Set(NodeTone, ToneParamPlay, e.Ref)
	}
	if err != nil {
		m.hwFailures++
		m.logger.Warn("failed to play tone",
			logger.Error(err),
			logger.String("tone", e.Ref),
			logger.String("operation", "play_tone"))
		if c.State == StateTonePlaying && len(c.ToneQueue) == 0 {
			m.teardown("tone failed")
		}
		return
	}
	c.Tone = &e
	c.ToneSeq = seq
	c.ToneLock = !e.Interruptible
}

// playNextTone starts the next queued tone if nothing is playing
func (m *Machine) playNextTone() {
	c := &m.ctx
	for c.Tone == nil && len(c.ToneQueue) > 0 && c.Output.Started() {
		next := c.ToneQueue[0]
		c.ToneQueue = c.ToneQueue[1:]
		m.playTone(next)
		if c.State == StateIdle {
			return
		}
	}
}

// stopTone cuts the current tone. A standalone tone graph is torn down with
// it; queued tones stay queued.
func (m *Machine) stopTone(reason string) {
	c := &m.ctx
	if c.Tone != nil {
		m.logger.Debug("tone stopped",
			logger.String("tone", c.Tone.Ref),
			logger.String("reason", reason))
	}
	m.cutTone()
	c.Tone = nil
	c.ToneSeq = 0
	c.ToneLock = false
	if c.OutputTone {
		if err := c.Output.Teardown(); err != nil {
			m.logger.Warn("tone graph teardown reported errors", logger.Error(err))
		}
		c.Output = nil
		c.OutputTone = false
		m.releaseAmp()
	}
}

// cutTone tells the tone node to stop the playing tone, which also drops
// its outstanding completion
func (m *Machine) cutTone() {
	c := &m.ctx
	if c.Tone == nil || !c.Output.Live() {
		return
	}
	if err := c.Output.Set(NodeTone, ToneParamStop, c.ToneSeq); err != nil {
		m.logger.Debug("tone stop failed", logger.Error(err))
	}
}

func (m *Machine) onToneComplete(e ToneComplete) Result {
	c := &m.ctx
	if e.Seq != 0 && (c.Tone == nil || e.Seq != c.ToneSeq) {
		m.logger.Debug("stale tone completion ignored",
			logger.String("tone", e.Ref),
			logger.Uint64("seq", e.Seq),
			logger.Uint64("playing", c.ToneSeq))
		return Accepted
	}
	switch c.State {
	case StateTonePlaying:
		m.toneDone()
		if c.PendingStop {
			m.teardown("deferred stop")
			return Accepted
		}
		m.playNextTone()
		if c.Tone == nil && c.State == StateTonePlaying {
			m.teardown("tones finished")
		}
		return Accepted
	case StateMusicStreaming, StateMusicStreamingWithRelay,
		StateVoiceActive, StateVoiceActiveWithRelay, StateVoiceRelayReceiverActive,
		StateLeakThroughStandalone:
		m.toneDone()
		if c.PendingStop {
			m.teardown("deferred stop")
			return Accepted
		}
		m.playNextTone()
		return Accepted
	case StateMusicStartingA, StateMusicStartingAsRelayReceiver:
		// phase A stops waiting and drops the tone graph on its next step
		m.toneDone()
		return Accepted
	case StateIdle, StateMusicStartingB, StateMusicStartingC, StateAncTuning:
		return Accepted
	}
	return Accepted
}

func (m *Machine) toneDone() {
	c := &m.ctx
	if c.Tone != nil {
		m.logger.Debug("tone complete", logger.String("tone", c.Tone.Ref))
	}
	c.Tone = nil
	c.ToneSeq = 0
	c.ToneLock = false
}

func (m *Machine) onToneLockTimeout(e toneLockTimeout) Result {
	c := &m.ctx
	if e.gen != c.Generation || !c.PendingStop {
		return Accepted
	}
	c.lockTimer = 0
	m.logger.Warn("tone lock timed out, forcing stop",
		logger.Duration("timeout", m.cfg.ToneLockTimeout))
	m.teardown("tone lock timeout")
	return Accepted
}
