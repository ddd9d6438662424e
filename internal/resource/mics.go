package resource

import (
	"fmt"
	"slices"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

// MicID identifies a physical microphone
type MicID string

// Priority is the lease priority tier
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// MicDriver opens and closes physical microphones
type MicDriver interface {
	OpenMic(mic MicID, rate int) error
	ReconfigureMic(mic MicID, rate int) error
	CloseMic(mic MicID) error
}

// Lease is one user's claim on a microphone. Exclusive leases own the mic
// configuration; non-exclusive (snooping) leases just listen.
type Lease struct {
	Mic       MicID
	User      string
	Rate      int
	Exclusive bool
	Priority  Priority
	// OnPreempt runs after a higher-priority exclusive lease took the mic
	OnPreempt func(mic MicID, user string)
}

type micState struct {
	open   bool
	rate   int
	leases []Lease
}

func (s *micState) exclusive() (int, bool) {
	for i, l := range s.leases {
		if l.Exclusive {
			return i, true
		}
	}
	return -1, false
}

func (s *micState) index(user string) int {
	return slices.IndexFunc(s.leases, func(l Lease) bool { return l.User == user })
}

// Microphones tracks leases per physical microphone
type Microphones struct {
	driver   MicDriver
	logger   logger.Logger
	observer Observer
	known    map[MicID]bool
	mics     map[MicID]*micState
}

// NewMicrophones creates a lease table. When known is non-empty, leases on
// other mics fail with ErrUnknownMic.
func NewMicrophones(driver MicDriver, known []MicID, log logger.Logger) *Microphones {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	m := &Microphones{
		driver: driver,
		logger: log,
		known:  make(map[MicID]bool, len(known)),
		mics:   make(map[MicID]*micState),
	}
	for _, id := range known {
		m.known[id] = true
	}
	return m
}

func (m *Microphones) state(mic MicID) *micState {
	s, ok := m.mics[mic]
	if !ok {
		s = &micState{}
		m.mics[mic] = s
	}
	return s
}

// Acquire adds a lease. The mic is opened for the first user and
// reconfigured when the lease asks for a different rate. A high-priority
// exclusive lease preempts a normal exclusive holder.
func (m *Microphones) Acquire(l Lease) error {
	if len(m.known) > 0 && !m.known[l.Mic] {
		return errors.New(ErrUnknownMic).Context("mic", string(l.Mic)).Build()
	}
	s := m.state(l.Mic)
	if s.index(l.User) >= 0 {
		return errors.New(ErrMicBusy).
			Context("mic", string(l.Mic)).
			Context("user", l.User).
			Context("reason", "already held by user").
			Build()
	}

	var preempted *Lease
	if i, ok := s.exclusive(); ok {
		holder := s.leases[i]
		switch {
		case holder.Priority > l.Priority:
			return m.busy(l, holder)
		case l.Exclusive && l.Priority > holder.Priority:
			preempted = &holder
		case l.Exclusive:
			return m.busy(l, holder)
		}
	}

	if err := m.configure(s, l); err != nil {
		return err
	}

	if preempted != nil {
		s.leases = slices.DeleteFunc(s.leases, func(x Lease) bool { return x.User == preempted.User })
		m.logger.Info("microphone lease preempted",
			logger.String("mic", string(l.Mic)),
			logger.String("user", preempted.User),
			logger.String("by", l.User))
	}
	s.leases = append(s.leases, l)
	m.notify(l.Mic, len(s.leases))

	if preempted != nil && preempted.OnPreempt != nil {
		preempted.OnPreempt(l.Mic, preempted.User)
	}
	return nil
}

func (m *Microphones) busy(l, holder Lease) error {
	m.logger.Debug("microphone busy",
		logger.String("mic", string(l.Mic)),
		logger.String("user", l.User),
		logger.String("holder", holder.User))
	return errors.New(ErrMicBusy).
		Context("mic", string(l.Mic)).
		Context("user", l.User).
		Context("holder", holder.User).
		Context("holder_priority", holder.Priority.String()).
		Build()
}

func (m *Microphones) configure(s *micState, l Lease) error {
	switch {
	case !s.open:
		if err := m.driver.OpenMic(l.Mic, l.Rate); err != nil {
			return m.hardwareError(l.Mic, "open", err)
		}
		s.open = true
		s.rate = l.Rate
	case l.Rate != 0 && l.Rate != s.rate:
		if err := m.driver.ReconfigureMic(l.Mic, l.Rate); err != nil {
			return m.hardwareError(l.Mic, "reconfigure", err)
		}
		m.logger.Debug("microphone reconfigured",
			logger.String("mic", string(l.Mic)),
			logger.Int("from_rate", s.rate),
			logger.Int("to_rate", l.Rate))
		s.rate = l.Rate
	}
	return nil
}

// Release drops user's lease and closes the mic after the last user
func (m *Microphones) Release(mic MicID, user string) error {
	s, ok := m.mics[mic]
	if !ok || s.index(user) < 0 {
		return errors.New(ErrMicNotHeld).
			Context("mic", string(mic)).
			Context("user", user).
			Build()
	}
	s.leases = slices.Delete(s.leases, s.index(user), s.index(user)+1)

	var err error
	if len(s.leases) == 0 && s.open {
		s.open = false
		s.rate = 0
		if cerr := m.driver.CloseMic(mic); cerr != nil {
			err = m.hardwareError(mic, "close", cerr)
		}
	}
	m.notify(mic, len(s.leases))
	return err
}

// Holds reports whether user holds a lease on mic
func (m *Microphones) Holds(mic MicID, user string) bool {
	s, ok := m.mics[mic]
	return ok && s.index(user) >= 0
}

// Users returns the lease holders of mic in acquisition order
func (m *Microphones) Users(mic MicID) []string {
	s, ok := m.mics[mic]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(s.leases))
	for _, l := range s.leases {
		users = append(users, l.User)
	}
	return users
}

// Rate returns the configured rate of an open mic, 0 when closed
func (m *Microphones) Rate(mic MicID) int {
	if s, ok := m.mics[mic]; ok {
		return s.rate
	}
	return 0
}

// IsOpen reports whether the mic is physically open
func (m *Microphones) IsOpen(mic MicID) bool {
	s, ok := m.mics[mic]
	return ok && s.open
}

// TotalLeases counts leases over all mics
func (m *Microphones) TotalLeases() int {
	n := 0
	for _, s := range m.mics {
		n += len(s.leases)
	}
	return n
}

func (m *Microphones) hardwareError(mic MicID, op string, err error) error {
	m.logger.Warn("microphone operation failed",
		logger.String("mic", string(mic)),
		logger.String("operation", op),
		logger.Error(err))
	return errors.New(err).
		Component(ComponentResource).
		Category(errors.CategoryHardware).
		Context("resource", "microphone").
		Context("mic", string(mic)).
		Context("operation", op).
		Build()
}

func (m *Microphones) notify(mic MicID, users int) {
	if m.observer != nil {
		m.observer.MicUsersChanged(mic, users)
	}
}

// MicRole names the function a microphone serves
type MicRole string

const (
	MicFeedForward MicRole = "feed-forward"
	MicFeedBack    MicRole = "feed-back"
	MicReference   MicRole = "reference"
	MicVoice       MicRole = "voice"
)

// MicPaths maps microphone roles to physical mics
type MicPaths map[MicRole]MicID

// Lookup returns the mic assigned to role
func (p MicPaths) Lookup(role MicRole) (MicID, error) {
	id, ok := p[role]
	if !ok || id == "" {
		return "", errors.New(ErrUnknownMic).Context("role", string(role)).Build()
	}
	return id, nil
}

// IDs returns the distinct assigned mics
func (p MicPaths) IDs() []MicID {
	ids := make([]MicID, 0, len(p))
	for _, id := range p {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
