package syncproto

import (
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/logger"
)

// Deps are the session collaborators. Observer may be nil.
type Deps struct {
	Timeline Timeline
	Peer     Peer
	Renderer Renderer
	Observer Observer
}

// Session is one negotiation of a shared rendering timeline. All methods
// run on the event loop.
type Session struct {
	id     string
	cfg    Config
	deps   Deps
	sched  eventloop.Scheduler
	logger logger.Logger

	role     Role
	mode     Mode
	progress Progress
	fellBack bool
	closed   bool

	muted         bool
	renderStarted bool
	renderAt      time.Time

	timeoutTimer eventloop.TimerID
	sampleTimer  eventloop.TimerID
	unmuteTimer  eventloop.TimerID

	seq             uint64
	samplesSent     uint64
	samplesReceived uint64
	lastPeer        Sample
	peerOffset      time.Duration
	handovers       int
	startedAt       time.Time
	completedAt     time.Time
}

// NewSession creates a session that has not started negotiating
func NewSession(cfg Config, role Role, mode Mode, deps Deps, sched eventloop.Scheduler, log logger.Logger) *Session {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		sched:  sched,
		logger: log.Module("sync").With(logger.String("session", id[:8])),
		role:   role,
		mode:   mode,
	}
}

// Start begins negotiation. Unsynchronized and pre-aligned sessions render
// at once and complete immediately.
func (s *Session) Start() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.progress != NotStarted {
		return ErrAlreadyStarted
	}
	now := s.sched.Now()
	s.startedAt = now
	s.logger.Info("sync session starting",
		logger.String("role", s.role.String()),
		logger.String("mode", s.mode.String()))

	switch s.mode {
	case ModeUnsynchronized, ModePreAligned:
		if s.mode == ModeUnsynchronized {
			s.role = RoleUnsyncPrimary
		}
		if err := s.startRender(now); err != nil {
			return err
		}
		s.complete("immediate")
	case ModeSynchronized:
		s.progress = InProgress
		s.armTimeout()
		if s.role == RoleSyncPrimary {
			s.tick()
		}
	case ModeSecondaryJoin:
		s.role = RoleSecondaryJoining
		s.progress = InProgress
		if err := s.setMuted(true); err != nil {
			return err
		}
		if err := s.startRender(now); err != nil {
			return err
		}
		s.armTimeout()
	}
	return nil
}

func (s *Session) armTimeout() {
	s.timeoutTimer = s.sched.PostAfter(s.cfg.ConvergenceTimeout, timeoutEvent{session: s.id})
}

// HandleEvent handles sync events, returning false for anything else.
// Deferred events from another session are consumed and ignored.
func (s *Session) HandleEvent(ev eventloop.Event) bool {
	switch e := ev.(type) {
	case Converged:
		s.onConverged(e.Remaining)
	case PeerSample:
		s.onPeerSample(e.Sample)
	case HandoverRequest:
		if err := s.Handover(e.Role); err != nil {
			s.logger.Warn("handover request failed",
				logger.String("role", e.Role.String()),
				logger.Error(err))
		}
	case timeoutEvent:
		if e.session == s.id {
			s.onTimeout()
		}
	case sampleTick:
		if e.session == s.id {
			s.sampleTimer = 0
			s.tick()
		}
	case unmuteEvent:
		if e.session == s.id {
			s.unmuteTimer = 0
			s.onUnmute()
		}
	default:
		return false
	}
	return true
}

// IsEvent reports whether ev belongs to a sync session
func IsEvent(ev eventloop.Event) bool {
	switch ev.(type) {
	case Converged, PeerSample, HandoverRequest, timeoutEvent, sampleTick, unmuteEvent:
		return true
	}
	return false
}

func (s *Session) onConverged(remaining time.Duration) {
	if s.closed || s.progress != InProgress {
		s.logger.Debug("late convergence ignored", logger.String("progress", s.progress.String()))
		return
	}
	s.cancel(&s.timeoutTimer)

	switch s.mode {
	case ModeSynchronized:
		at := s.anchor()
		if err := s.startRender(at); err != nil {
			s.logger.Warn("synchronized render start failed", logger.Error(err))
			s.fallback("render start failed")
			return
		}
		s.complete("converged")
	case ModeSecondaryJoin:
		if remaining < 0 {
			remaining = 0
		}
		s.cancel(&s.unmuteTimer)
		s.unmuteTimer = s.sched.PostAfter(remaining+s.cfg.SettleMargin, unmuteEvent{session: s.id})
		s.logger.Debug("unmute scheduled",
			logger.Duration("remaining", remaining),
			logger.Duration("settle", s.cfg.SettleMargin))
	case ModeUnsynchronized, ModePreAligned:
	}
}

// anchor picks the local instant both sides can meet
func (s *Session) anchor() time.Time {
	now := s.sched.Now()
	tl := s.deps.Timeline
	if tl == nil || !tl.Available() {
		return now.Add(s.cfg.StartLead)
	}
	shared, err := tl.ToShared(now)
	if err != nil {
		return now.Add(s.cfg.StartLead)
	}
	local, err := tl.ToLocal(shared.Add(s.cfg.StartLead))
	if err != nil {
		return now.Add(s.cfg.StartLead)
	}
	return local
}

func (s *Session) onUnmute() {
	if s.closed || s.progress != InProgress {
		return
	}
	if err := s.setMuted(false); err != nil {
		s.logger.Warn("unmute failed", logger.Error(err))
	}
	s.role = RoleSyncSecondary
	s.complete("joined")
}

func (s *Session) onTimeout() {
	s.timeoutTimer = 0
	if s.closed || s.progress != InProgress {
		return
	}
	s.fallback("convergence timeout")
}

// fallback degrades to unsynchronized rendering. It runs at most once per session.
func (s *Session) fallback(reason string) {
	if s.fellBack {
		return
	}
	s.fellBack = true
	s.cancel(&s.timeoutTimer)
	s.cancel(&s.sampleTimer)
	s.cancel(&s.unmuteTimer)

	err := errors.Newf("sync fallback: %s", reason).
		Component(ComponentSync).
		Category(errors.CategoryTimeout).
		Context("session", s.id).
		Context("role", s.role.String()).
		Context("mode", s.mode.String()).
		Build()
	s.logger.Warn("falling back to unsynchronized rendering", logger.Error(err))

	s.mode = ModeUnsynchronized
	s.role = RoleUnsyncPrimary
	if s.muted {
		if err := s.setMuted(false); err != nil {
			s.logger.Warn("unmute on fallback failed", logger.Error(err))
		}
	}
	if !s.renderStarted {
		if err := s.startRender(s.sched.Now()); err != nil {
			s.logger.Warn("render start on fallback failed", logger.Error(err))
		}
	}
	s.complete("fallback")
	if s.deps.Observer != nil {
		s.deps.Observer.SyncFallback(s.id)
	}
}

func (s *Session) complete(how string) {
	s.progress = Complete
	s.cancel(&s.timeoutTimer)
	s.completedAt = s.sched.Now()
	s.logger.Info("sync session complete",
		logger.String("how", how),
		logger.String("role", s.role.String()),
		logger.Duration("took", s.completedAt.Sub(s.startedAt)))
}

// tick sends one timeline sample and schedules the next while primary
func (s *Session) tick() {
	if s.closed || s.role != RoleSyncPrimary {
		return
	}
	if tl := s.deps.Timeline; tl != nil && tl.Available() && s.deps.Peer != nil {
		local := s.sched.Now()
		if shared, err := tl.ToShared(local); err == nil {
			s.seq++
			sample := Sample{Seq: s.seq, Local: local, Shared: shared}
			if err := s.deps.Peer.SendSample(sample); err != nil {
				s.logger.Debug("sample send failed", logger.Error(err))
			} else {
				s.samplesSent++
			}
		}
	}
	if s.cfg.SampleInterval > 0 {
		s.sampleTimer = s.sched.PostAfter(s.cfg.SampleInterval, sampleTick{session: s.id})
	}
}

func (s *Session) onPeerSample(sample Sample) {
	if s.closed {
		return
	}
	s.samplesReceived++
	s.lastPeer = sample
	tl := s.deps.Timeline
	if tl == nil || !tl.Available() {
		return
	}
	if shared, err := tl.ToShared(s.sched.Now()); err == nil {
		s.peerOffset = shared.Sub(sample.Shared)
	}
}

// Handover changes the role in place and tells the peer to take the
// opposite role. It is vetoed while negotiation is in progress.
func (s *Session) Handover(to Role) error {
	if s.closed {
		return ErrSessionClosed
	}
	from := s.role
	if s.progress == InProgress {
		if s.deps.Observer != nil {
			s.deps.Observer.SyncHandover(s.id, from, to, true)
		}
		s.logger.Info("handover vetoed", logger.String("from", from.String()), logger.String("to", to.String()))
		return errors.New(ErrHandoverVetoed).
			Context("session", s.id).
			Context("from", from.String()).
			Context("to", to.String()).
			Build()
	}
	if to == from {
		return nil
	}

	if s.deps.Peer != nil {
		if err := s.deps.Peer.SendRole(to.Opposite()); err != nil {
			return errors.New(err).
				Component(ComponentSync).
				Category(errors.CategoryNetwork).
				Context("operation", "send_role").
				Context("role", to.Opposite().String()).
				Build()
		}
	}

	s.role = to
	s.handovers++
	if s.mode == ModeSecondaryJoin {
		s.mode = ModeSynchronized
	}
	switch {
	case to == RoleSyncPrimary && s.sampleTimer == 0:
		s.tick()
	case to != RoleSyncPrimary:
		s.cancel(&s.sampleTimer)
	}

	s.logger.Info("handover complete", logger.String("from", from.String()), logger.String("to", to.String()))
	if s.deps.Observer != nil {
		s.deps.Observer.SyncHandover(s.id, from, to, false)
	}
	return nil
}

// Close cancels every pending timer. The session cannot be reused.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancel(&s.timeoutTimer)
	s.cancel(&s.sampleTimer)
	s.cancel(&s.unmuteTimer)
	s.logger.Debug("sync session closed")
}

func (s *Session) cancel(id *eventloop.TimerID) {
	if *id != 0 {
		s.sched.Cancel(*id)
		*id = 0
	}
}

func (s *Session) setMuted(muted bool) error {
	if s.deps.Renderer == nil {
		s.muted = muted
		return nil
	}
	if err := s.deps.Renderer.Mute(muted); err != nil {
		return s.hardwareError("mute", err)
	}
	s.muted = muted
	return nil
}

func (s *Session) startRender(at time.Time) error {
	if s.renderStarted {
		return nil
	}
	if s.deps.Renderer != nil {
		if err := s.deps.Renderer.StartRender(at); err != nil {
			return s.hardwareError("start_render", err)
		}
	}
	s.renderStarted = true
	s.renderAt = at
	return nil
}

func (s *Session) hardwareError(op string, err error) error {
	return errors.New(err).
		Component(ComponentSync).
		Category(errors.CategoryHardware).
		Context("session", s.id).
		Context("operation", op).
		Build()
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Role returns the current role
func (s *Session) Role() Role { return s.role }

// Mode returns the current mode
func (s *Session) Mode() Mode { return s.mode }

// Progress returns the negotiation progress
func (s *Session) Progress() Progress { return s.progress }

// FellBack reports whether the session degraded to unsynchronized rendering
func (s *Session) FellBack() bool { return s.fellBack }

// Muted reports whether the session holds the renderer muted
func (s *Session) Muted() bool { return s.muted }

// RenderAt returns the local instant rendering was started for
func (s *Session) RenderAt() time.Time { return s.renderAt }

// LastPeerSample returns the most recent sample received from the peer
func (s *Session) LastPeerSample() Sample { return s.lastPeer }

// Closed reports whether Close was called
func (s *Session) Closed() bool { return s.closed }

// Status is a point-in-time copy of a session
type Status struct {
	ID              string `json:"id"`
	Role            string `json:"role"`
	Mode            string `json:"mode"`
	Progress        string `json:"progress"`
	FellBack        bool   `json:"fell_back"`
	Muted           bool   `json:"muted"`
	Handovers       int    `json:"handovers"`
	SamplesSent     uint64 `json:"samples_sent"`
	SamplesReceived uint64 `json:"samples_received"`
	PeerOffset      string `json:"peer_offset,omitempty"`
}

// Status copies the session state
func (s *Session) Status() Status {
	st := Status{
		ID:              s.id,
		Role:            s.role.String(),
		Mode:            s.mode.String(),
		Progress:        s.progress.String(),
		FellBack:        s.fellBack,
		Muted:           s.muted,
		Handovers:       s.handovers,
		SamplesSent:     s.samplesSent,
		SamplesReceived: s.samplesReceived,
	}
	if s.samplesReceived > 0 {
		st.PeerOffset = s.peerOffset.String()
	}
	return st
}

// Factory creates sessions sharing one configuration and set of collaborators
type Factory struct {
	cfg    Config
	deps   Deps
	sched  eventloop.Scheduler
	logger logger.Logger
}

// NewFactory creates a session factory
func NewFactory(cfg Config, deps Deps, sched eventloop.Scheduler, log logger.Logger) *Factory {
	return &Factory{cfg: cfg, deps: deps, sched: sched, logger: log}
}

// NewSession creates a session with the shared collaborators. A non-nil r
// replaces the factory renderer, since each pipeline use case renders
// through its own output graph.
func (f *Factory) NewSession(role Role, mode Mode, r Renderer) *Session {
	deps := f.deps
	if r != nil {
		deps.Renderer = r
	}
	return NewSession(f.cfg, role, mode, deps, f.sched, f.logger)
}

// SetObserver sets the observer for sessions created from now on
func (f *Factory) SetObserver(o Observer) {
	f.deps.Observer = o
}
