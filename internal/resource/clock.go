package resource

import (
	"fmt"
	"strings"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

// ClockProfile is a DSP clock/power operating point, slowest first
type ClockProfile int

const (
	ClockSlow ClockProfile = iota
	ClockLow
	ClockMedium
	ClockHigh
	ClockBoost
)

var clockNames = [...]string{"slow", "low", "medium", "high", "boost"}

func (p ClockProfile) String() string {
	if p < 0 || int(p) >= len(clockNames) {
		return fmt.Sprintf("clock(%d)", int(p))
	}
	return clockNames[p]
}

// ParseClockProfile parses a profile name
func ParseClockProfile(s string) (ClockProfile, error) {
	for i, name := range clockNames {
		if strings.EqualFold(s, name) {
			return ClockProfile(i), nil
		}
	}
	return ClockSlow, errors.Newf("unknown clock profile %q", s).
		Component(ComponentResource).
		Category(errors.CategoryValidation).
		Build()
}

// DefaultCodecProfile is used for a codec missing from the codec table
const DefaultCodecProfile = ClockMedium

// ClockDriver applies a clock profile to the DSP
type ClockDriver interface {
	SetClockProfile(p ClockProfile) error
}

// ClockInputs is everything the profile is derived from
type ClockInputs struct {
	AncBoost     bool
	VoiceCapture bool
	TonePlaying  bool
	// Codec is the active media codec, empty when nothing streams
	Codec string
}

type clockRule struct {
	name    string
	matches func(in ClockInputs) bool
	profile func(c *ClockArbiter, in ClockInputs) ClockProfile
}

// clockRules is evaluated top to bottom; the first match wins
var clockRules = []clockRule{
	{
		name:    "anc-boost",
		matches: func(in ClockInputs) bool { return in.AncBoost },
		profile: func(*ClockArbiter, ClockInputs) ClockProfile { return ClockBoost },
	},
	{
		name:    "voice-capture",
		matches: func(in ClockInputs) bool { return in.VoiceCapture },
		profile: func(*ClockArbiter, ClockInputs) ClockProfile { return ClockHigh },
	},
	{
		name:    "tone",
		matches: func(in ClockInputs) bool { return in.TonePlaying && in.Codec == "" },
		profile: func(*ClockArbiter, ClockInputs) ClockProfile { return ClockLow },
	},
	{
		name:    "codec",
		matches: func(in ClockInputs) bool { return in.Codec != "" },
		profile: func(c *ClockArbiter, in ClockInputs) ClockProfile { return c.codecProfile(in.Codec) },
	},
	{
		name:    "idle",
		matches: func(ClockInputs) bool { return true },
		profile: func(*ClockArbiter, ClockInputs) ClockProfile { return ClockSlow },
	},
}

// ClockArbiter derives the clock profile from the current inputs. The
// profile is never set directly, so it cannot be left stale.
type ClockArbiter struct {
	driver        ClockDriver
	codecProfiles map[string]ClockProfile
	logger        logger.Logger
	observer      Observer

	current ClockProfile
	applied bool
	reason  string
}

// NewClockArbiter creates a clock arbiter with the per-codec table
func NewClockArbiter(driver ClockDriver, codecProfiles map[string]ClockProfile, log logger.Logger) *ClockArbiter {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	profiles := make(map[string]ClockProfile, len(codecProfiles))
	for codec, p := range codecProfiles {
		profiles[strings.ToLower(codec)] = p
	}
	return &ClockArbiter{driver: driver, codecProfiles: profiles, logger: log}
}

func (c *ClockArbiter) codecProfile(codec string) ClockProfile {
	if p, ok := c.codecProfiles[strings.ToLower(codec)]; ok {
		return p
	}
	return DefaultCodecProfile
}

// Derive returns the profile for in and the name of the rule that chose it
func (c *ClockArbiter) Derive(in ClockInputs) (ClockProfile, string) {
	for _, rule := range clockRules {
		if rule.matches(in) {
			return rule.profile(c, in), rule.name
		}
	}
	return ClockSlow, "idle"
}

// Apply derives the profile and sets it on the driver when it changed.
// On driver failure the previous profile stays current.
func (c *ClockArbiter) Apply(in ClockInputs) (ClockProfile, error) {
	p, reason := c.Derive(in)
	if c.applied && p == c.current {
		return p, nil
	}

	if err := c.driver.SetClockProfile(p); err != nil {
		c.logger.Warn("clock profile change failed",
			logger.String("profile", p.String()),
			logger.String("reason", reason),
			logger.Error(err))
		return c.current, errors.New(err).
			Component(ComponentResource).
			Category(errors.CategoryHardware).
			Context("resource", "clock").
			Context("profile", p.String()).
			Build()
	}

	c.logger.Debug("clock profile changed",
		logger.String("from", c.current.String()),
		logger.String("to", p.String()),
		logger.String("reason", reason))
	c.current = p
	c.reason = reason
	c.applied = true
	if c.observer != nil {
		c.observer.ClockChanged(p)
	}
	return p, nil
}

// Current returns the last applied profile
func (c *ClockArbiter) Current() ClockProfile { return c.current }

// Reason returns the rule that chose the current profile
func (c *ClockArbiter) Reason() string { return c.reason }
