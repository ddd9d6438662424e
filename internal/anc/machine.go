// Package anc implements the active-noise-cancellation sub-state-machine.
//
// The machine keeps the requested and the physically applied configuration
// apart: a failed enable or mode change leaves the active mode at the last
// known good value and marks a retry that runs at the start of the next
// externally triggered event. Persisted state is read once at Initialise and
// written once per PowerOff.
package anc

import (
	"fmt"
	"slices"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/resource"
)

// State is the ANC lifecycle state
type State int

const (
	StateUninitialized State = iota
	StatePoweredOff
	StateEnabled
	StateDisabled
	StateTuningActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePoweredOff:
		return "powered-off"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateTuningActive:
		return "tuning-active"
	default:
		return fmt.Sprintf("anc-state(%d)", int(s))
	}
}

// Driver is the physical noise-cancellation path
type Driver interface {
	Enable(mode, gain int) error
	Disable() error
	SetMode(mode int) error
	SetLeakthroughGain(gain int) error
	EnterTuning() error
	ExitTuning() error
}

// Persisted is the state carried across power cycles
type Persisted struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	Mode            int  `yaml:"mode" json:"mode"`
	LeakthroughGain int  `yaml:"leakthrough_gain" json:"leakthrough_gain"`
}

// Store gives access to persisted state owned by an external collaborator
type Store interface {
	Get() (Persisted, error)
	Release(p Persisted) error
}

// SilenceBridge plays silence through the output path so an idle gap does
// not starve the ANC feedback loop
type SilenceBridge interface {
	StartSilence() error
	StopSilence() error
}

// Amplifier is the reference-counted amplifier
type Amplifier interface {
	Acquire(owner string) error
	Release(owner string) error
}

// Microphones is the microphone lease table
type Microphones interface {
	Acquire(l resource.Lease) error
	Release(mic resource.MicID, user string) error
}

// Config is the read-only ANC configuration
type Config struct {
	Modes                  int
	DefaultMode            int
	BoostModes             []int
	DefaultLeakthroughGain int
	PersistEnabled         bool
	PersistMode            bool
	PersistGain            bool
	// Mics are snooped while the path is physically enabled
	Mics    []resource.MicID
	MicRate int
}

// Deps are the collaborators. Only Driver is required.
type Deps struct {
	Driver Driver
	Store  Store
	Bridge SilenceBridge
	Amp    Amplifier
	Mics   Microphones
}

const (
	// SilenceOwner is the amplifier owner used by the silence bridge
	SilenceOwner = "anc-silence"
	micUser      = "anc"
)

// Machine is the ANC sub-state-machine. It is not safe for concurrent use.
type Machine struct {
	cfg    Config
	deps   Deps
	logger logger.Logger

	state            State
	requestedEnabled bool
	actualEnabled    bool
	requestedMode    int
	activeMode       int
	gain             int
	activeGain       int
	pendingRetry     bool
	persisted        Persisted

	// set by requests made while powered off; restore keeps them over
	// the persisted values
	modeRequested bool
	gainRequested bool

	micsHeld     bool
	pipelineIdle bool
	bridgeActive bool

	listeners registry
}

// New creates a machine in StateUninitialized
func New(cfg Config, deps Deps, log logger.Logger) *Machine {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if cfg.Modes < 1 {
		cfg.Modes = 1
	}
	if cfg.DefaultMode < 1 || cfg.DefaultMode > cfg.Modes {
		cfg.DefaultMode = 1
	}
	if cfg.DefaultLeakthroughGain < 0 {
		cfg.DefaultLeakthroughGain = 0
	}
	return &Machine{
		cfg:           cfg,
		deps:          deps,
		logger:        log.Module("anc"),
		requestedMode: cfg.DefaultMode,
		gain:          cfg.DefaultLeakthroughGain,
		pipelineIdle:  true,
		persisted: Persisted{
			Mode:            cfg.DefaultMode,
			LeakthroughGain: cfg.DefaultLeakthroughGain,
		},
	}
}

type observed struct {
	state         State
	enabled       bool
	requestedMode int
	activeMode    int
	gain          int
}

func (m *Machine) observe() observed {
	return observed{m.state, m.actualEnabled, m.requestedMode, m.activeMode, m.gain}
}

// Handle processes one event to completion
func (m *Machine) Handle(ev Event) Result {
	before := m.observe()
	if m.pendingRetry {
		m.retry()
	}

	res := m.dispatch(ev)
	if res == Rejected {
		m.logger.Warn("event rejected",
			logger.String("event", ev.EventName()),
			logger.String("state", m.state.String()))
	}

	m.reconcileBridge()
	m.notifyChanges(before)
	return res
}

func (m *Machine) dispatch(ev Event) Result {
	switch e := ev.(type) {
	case Initialise:
		return m.onInitialise()
	case PowerOn:
		return m.onPowerOn()
	case PowerOff:
		return m.onPowerOff()
	case Enable:
		return m.onEnable()
	case Disable:
		return m.onDisable()
	case SetMode:
		return m.onSetMode(e.Mode)
	case SetLeakthroughGain:
		return m.onSetGain(e.Gain)
	case ActivateTuning:
		return m.onActivateTuning()
	case DeactivateTuning:
		return m.onDeactivateTuning()
	default:
		return Rejected
	}
}

func (m *Machine) onInitialise() Result {
	switch m.state {
	case StateUninitialized:
		m.load()
		m.transition(StatePoweredOff)
		return Accepted
	case StatePoweredOff, StateEnabled, StateDisabled, StateTuningActive:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onPowerOn() Result {
	switch m.state {
	case StatePoweredOff:
		m.restore()
		if m.requestedEnabled {
			m.transition(StateEnabled)
			m.applyEnable()
		} else {
			m.transition(StateDisabled)
		}
		return Accepted
	case StateEnabled, StateDisabled, StateTuningActive:
		return Accepted
	case StateUninitialized:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onPowerOff() Result {
	switch m.state {
	case StateTuningActive:
		if err := m.deps.Driver.ExitTuning(); err != nil {
			m.logger.Warn("exit tuning failed", logger.Error(hardwareError("exit_tuning", err)))
		}
		m.powerDown()
		return Accepted
	case StateEnabled, StateDisabled:
		m.powerDown()
		return Accepted
	case StatePoweredOff:
		return Accepted
	case StateUninitialized:
		return Rejected
	}
	return Rejected
}

func (m *Machine) powerDown() {
	if !m.forceDisable() {
		// powered off regardless; the hardware loses power with us
		m.actualEnabled = false
		m.releaseMics()
	}
	m.pendingRetry = false
	m.persist()
	m.transition(StatePoweredOff)
}

func (m *Machine) onEnable() Result {
	switch m.state {
	case StateDisabled:
		m.requestedEnabled = true
		m.transition(StateEnabled)
		m.applyEnable()
		return Accepted
	case StateEnabled:
		return Accepted
	case StateUninitialized, StatePoweredOff, StateTuningActive:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onDisable() Result {
	switch m.state {
	case StateEnabled:
		m.requestedEnabled = false
		m.transition(StateDisabled)
		m.applyDisable()
		return Accepted
	case StateDisabled:
		return Accepted
	case StateUninitialized, StatePoweredOff, StateTuningActive:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onSetMode(mode int) Result {
	if mode < 1 || mode > m.cfg.Modes {
		m.logger.Warn("invalid anc mode", logger.Error(errors.New(ErrInvalidMode).
			Context("mode", mode).
			Context("modes", m.cfg.Modes).
			Build()))
		return Rejected
	}
	switch m.state {
	case StatePoweredOff:
		m.requestedMode = mode
		m.modeRequested = true
		return Accepted
	case StateDisabled, StateTuningActive:
		m.requestedMode = mode
		return Accepted
	case StateEnabled:
		m.requestedMode = mode
		if m.actualEnabled {
			m.applyMode()
		}
		return Accepted
	case StateUninitialized:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onSetGain(gain int) Result {
	if gain < 0 {
		m.logger.Warn("invalid leakthrough gain", logger.Error(errors.New(ErrInvalidGain).
			Context("gain", gain).
			Build()))
		return Rejected
	}
	switch m.state {
	case StatePoweredOff:
		m.gain = gain
		m.gainRequested = true
		return Accepted
	case StateDisabled, StateTuningActive:
		m.gain = gain
		return Accepted
	case StateEnabled:
		m.gain = gain
		if m.actualEnabled {
			m.applyGain()
		}
		return Accepted
	case StateUninitialized:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onActivateTuning() Result {
	switch m.state {
	case StateEnabled, StateDisabled:
		m.requestedEnabled = false
		if !m.forceDisable() {
			m.transition(StateDisabled)
			return Accepted
		}
		if err := m.deps.Driver.EnterTuning(); err != nil {
			m.logger.Warn("enter tuning failed", logger.Error(hardwareError("enter_tuning", err)))
			m.transition(StateDisabled)
			return Accepted
		}
		m.transition(StateTuningActive)
		return Accepted
	case StateTuningActive:
		return Accepted
	case StateUninitialized, StatePoweredOff:
		return Rejected
	}
	return Rejected
}

func (m *Machine) onDeactivateTuning() Result {
	switch m.state {
	case StateTuningActive:
		if err := m.deps.Driver.ExitTuning(); err != nil {
			m.logger.Warn("exit tuning failed", logger.Error(hardwareError("exit_tuning", err)))
		}
		m.transition(StateDisabled)
		return Accepted
	case StateUninitialized, StatePoweredOff, StateEnabled, StateDisabled:
		return Rejected
	}
	return Rejected
}

func (m *Machine) transition(to State) {
	if m.state == to {
		return
	}
	m.logger.Info("anc state changed",
		logger.String("from", m.state.String()),
		logger.String("to", to.String()))
	m.state = to
}

// applyEnable brings the physical path in line with the requested mode and gain
func (m *Machine) applyEnable() {
	if m.actualEnabled {
		return
	}
	if err := m.acquireMics(); err != nil {
		m.markRetry("acquire_mics", err)
		return
	}
	if err := m.deps.Driver.Enable(m.requestedMode, m.gain); err != nil {
		m.releaseMics()
		m.markRetry("enable", err)
		return
	}
	m.actualEnabled = true
	m.activeMode = m.requestedMode
	m.activeGain = m.gain
}

func (m *Machine) applyDisable() {
	if !m.actualEnabled {
		return
	}
	if err := m.deps.Driver.Disable(); err != nil {
		m.markRetry("disable", err)
		return
	}
	m.actualEnabled = false
	m.releaseMics()
}

// forceDisable disables the physical path and reports whether it is off
func (m *Machine) forceDisable() bool {
	m.applyDisable()
	return !m.actualEnabled
}

func (m *Machine) applyMode() {
	if err := m.deps.Driver.SetMode(m.requestedMode); err != nil {
		m.markRetry("set_mode", err)
		return
	}
	m.activeMode = m.requestedMode
}

func (m *Machine) applyGain() {
	if err := m.deps.Driver.SetLeakthroughGain(m.gain); err != nil {
		m.markRetry("set_leakthrough_gain", err)
		return
	}
	m.activeGain = m.gain
}

func (m *Machine) markRetry(op string, err error) {
	m.pendingRetry = true
	m.logger.Warn("anc hardware call failed, retrying on next event",
		logger.String("operation", op),
		logger.Int("active_mode", m.activeMode),
		logger.Error(hardwareError(op, err)))
}

// retry re-attempts whatever the last failed physical call left out of line
func (m *Machine) retry() {
	m.pendingRetry = false
	if m.state != StateEnabled && m.state != StateDisabled {
		return
	}
	m.logger.Debug("retrying anc hardware state")
	switch {
	case m.requestedEnabled && !m.actualEnabled:
		m.applyEnable()
	case !m.requestedEnabled && m.actualEnabled:
		m.applyDisable()
	}
	if !m.actualEnabled {
		return
	}
	if m.activeMode != m.requestedMode {
		m.applyMode()
	}
	if m.activeGain != m.gain {
		m.applyGain()
	}
}

func (m *Machine) acquireMics() error {
	if m.deps.Mics == nil || m.micsHeld {
		return nil
	}
	for i, mic := range m.cfg.Mics {
		err := m.deps.Mics.Acquire(resource.Lease{Mic: mic, User: micUser, Rate: m.cfg.MicRate})
		if err != nil {
			for _, held := range m.cfg.Mics[:i] {
				_ = m.deps.Mics.Release(held, micUser)
			}
			return err
		}
	}
	m.micsHeld = true
	return nil
}

func (m *Machine) releaseMics() {
	if m.deps.Mics == nil || !m.micsHeld {
		return
	}
	for _, mic := range m.cfg.Mics {
		if err := m.deps.Mics.Release(mic, micUser); err != nil {
			m.logger.Warn("mic release failed", logger.String("mic", string(mic)), logger.Error(err))
		}
	}
	m.micsHeld = false
}

// load reads persisted state once, falling back to configured defaults
func (m *Machine) load() {
	if m.deps.Store == nil {
		m.logger.Debug("no persisted state store, using defaults")
		return
	}
	p, err := m.deps.Store.Get()
	if err != nil {
		m.logger.Warn("reading persisted anc state failed, using defaults",
			logger.Error(errors.New(err).
				Component(ComponentANC).
				Category(errors.CategoryPersistence).
				Context("operation", "get").
				Build()))
		return
	}
	if p.Mode < 1 || p.Mode > m.cfg.Modes {
		p.Mode = m.cfg.DefaultMode
	}
	if p.LeakthroughGain < 0 {
		p.LeakthroughGain = m.cfg.DefaultLeakthroughGain
	}
	m.persisted = p
	m.logger.Debug("persisted anc state loaded",
		logger.Bool("enabled", p.Enabled),
		logger.Int("mode", p.Mode),
		logger.Int("gain", p.LeakthroughGain))
}

// restore applies the flagged persisted fields on power-on. A mode or gain
// set while powered off is newer than the stored value and wins.
func (m *Machine) restore() {
	m.requestedEnabled = m.cfg.PersistEnabled && m.persisted.Enabled
	if m.cfg.PersistMode && !m.modeRequested {
		m.requestedMode = m.persisted.Mode
	}
	if m.cfg.PersistGain && !m.gainRequested {
		m.gain = m.persisted.LeakthroughGain
	}
	m.modeRequested = false
	m.gainRequested = false
}

// persist writes the flagged fields; unflagged fields keep their stored value
func (m *Machine) persist() {
	p := m.persisted
	if m.cfg.PersistEnabled {
		p.Enabled = m.requestedEnabled
	}
	if m.cfg.PersistMode {
		p.Mode = m.requestedMode
	}
	if m.cfg.PersistGain {
		p.LeakthroughGain = m.gain
	}
	m.persisted = p

	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.Release(p); err != nil {
		m.logger.Warn("writing persisted anc state failed",
			logger.Error(errors.New(err).
				Component(ComponentANC).
				Category(errors.CategoryPersistence).
				Context("operation", "release").
				Build()))
	}
}

// OnPipelineTransition is called after every pipeline transition. While the
// pipeline is idle and the path is physically enabled, the silence bridge
// runs and holds an amplifier reference.
func (m *Machine) OnPipelineTransition(idle bool) {
	before := m.observe()
	m.pipelineIdle = idle
	m.reconcileBridge()
	m.notifyChanges(before)
}

func (m *Machine) reconcileBridge() {
	if m.deps.Bridge == nil {
		return
	}
	want := m.pipelineIdle && m.actualEnabled && m.state == StateEnabled
	switch {
	case want && !m.bridgeActive:
		if m.deps.Amp != nil {
			if err := m.deps.Amp.Acquire(SilenceOwner); err != nil {
				m.logger.Warn("silence bridge amplifier unavailable", logger.Error(err))
				return
			}
		}
		if err := m.deps.Bridge.StartSilence(); err != nil {
			m.logger.Warn("silence bridge start failed", logger.Error(hardwareError("start_silence", err)))
			if m.deps.Amp != nil {
				_ = m.deps.Amp.Release(SilenceOwner)
			}
			return
		}
		m.bridgeActive = true
		m.logger.Debug("silence bridge started")
	case !want && m.bridgeActive:
		if err := m.deps.Bridge.StopSilence(); err != nil {
			m.logger.Warn("silence bridge stop failed", logger.Error(hardwareError("stop_silence", err)))
		}
		if m.deps.Amp != nil {
			if err := m.deps.Amp.Release(SilenceOwner); err != nil {
				m.logger.Warn("silence bridge amplifier release failed", logger.Error(err))
			}
		}
		m.bridgeActive = false
		m.logger.Debug("silence bridge stopped")
	}
}

func (m *Machine) notifyChanges(before observed) {
	after := m.observe()
	if after == before || m.listeners.len() == 0 {
		return
	}
	base := Notification{
		From:          before.state,
		State:         after.state,
		StateName:     after.state.String(),
		Enabled:       after.enabled,
		RequestedMode: after.requestedMode,
		ActiveMode:    after.activeMode,
		Gain:          after.gain,
	}
	if after.state != before.state || after.enabled != before.enabled {
		n := base
		n.Kind = KindStateChanged
		m.listeners.broadcast(n)
	}
	if after.requestedMode != before.requestedMode || after.activeMode != before.activeMode {
		n := base
		n.Kind = KindModeChanged
		m.listeners.broadcast(n)
	}
	if after.gain != before.gain {
		n := base
		n.Kind = KindGainChanged
		m.listeners.broadcast(n)
	}
}

// Register adds a listener and returns its subscription id
func (m *Machine) Register(l Listener) SubscriptionID {
	return m.listeners.register(l)
}

// Unregister removes a listener; false when id is unknown
func (m *Machine) Unregister(id SubscriptionID) bool {
	return m.listeners.unregister(id)
}

// State returns the current state
func (m *Machine) State() State { return m.state }

// Enabled reports whether the path is physically enabled
func (m *Machine) Enabled() bool { return m.actualEnabled }

// RequestedEnabled reports whether enable was requested
func (m *Machine) RequestedEnabled() bool { return m.requestedEnabled }

// RequestedMode returns the mode to apply on the next enable
func (m *Machine) RequestedMode() int { return m.requestedMode }

// ActiveMode returns the last mode the hardware accepted, 0 before the first enable
func (m *Machine) ActiveMode() int { return m.activeMode }

// LeakthroughGain returns the requested leakthrough gain
func (m *Machine) LeakthroughGain() int { return m.gain }

// TuningActive reports whether an external tool owns the ANC path. The
// pipeline refuses voice and music while this is true.
func (m *Machine) TuningActive() bool { return m.state == StateTuningActive }

// NeedsClockBoost reports whether the DSP must run at the boost profile
func (m *Machine) NeedsClockBoost() bool {
	if m.state == StateTuningActive {
		return true
	}
	return m.actualEnabled && slices.Contains(m.cfg.BoostModes, m.activeMode)
}

// PendingRetry reports whether a failed physical call awaits retry
func (m *Machine) PendingRetry() bool { return m.pendingRetry }

// BridgeActive reports whether the silence bridge runs
func (m *Machine) BridgeActive() bool { return m.bridgeActive }

// PersistedState returns the last loaded or written persisted state
func (m *Machine) PersistedState() Persisted { return m.persisted }

// Status is a point-in-time copy of the machine
type Status struct {
	State            string `json:"state"`
	Enabled          bool   `json:"enabled"`
	RequestedEnabled bool   `json:"requested_enabled"`
	RequestedMode    int    `json:"requested_mode"`
	ActiveMode       int    `json:"active_mode"`
	LeakthroughGain  int    `json:"leakthrough_gain"`
	PendingRetry     bool   `json:"pending_retry"`
	SilenceBridge    bool   `json:"silence_bridge"`
	Listeners        int    `json:"listeners"`
}

// Status copies the current machine state
func (m *Machine) Status() Status {
	return Status{
		State:            m.state.String(),
		Enabled:          m.actualEnabled,
		RequestedEnabled: m.requestedEnabled,
		RequestedMode:    m.requestedMode,
		ActiveMode:       m.activeMode,
		LeakthroughGain:  m.gain,
		PendingRetry:     m.pendingRetry,
		SilenceBridge:    m.bridgeActive,
		Listeners:        m.listeners.len(),
	}
}
