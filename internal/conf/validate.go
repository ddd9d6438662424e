package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/tphakala/twsaudio/internal/syncproto"
)

const (
	sideLeft  = "left"
	sideRight = "right"
)

// Persistence backends
const (
	BackendMemory = "memory"
	BackendYAML   = "yaml"
	BackendSQLite = "sqlite"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.add(validateMainSettings(&settings.Main))
	ve.add(validateAudioSettings(&settings.Audio))
	ve.add(validateMicrophoneSettings(&settings.Microphones))
	ve.add(validateANCSettings(&settings.ANC))
	ve.add(validateSyncSettings(&settings.Sync))
	ve.add(validatePersistSettings(&settings.Persist))
	if settings.Telemetry.Enabled {
		ve.add(validateListen("telemetry.listen", settings.Telemetry.Listen))
	}
	if settings.Telemetry.Sentry.Enabled && settings.Telemetry.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.sentry.dsn is required when sentry is enabled")
	}
	if settings.API.Enabled {
		ve.add(validateListen("api.listen", settings.API.Listen))
		if settings.API.RateLimit < 0 || settings.API.RateBurst < 0 {
			ve.Errors = append(ve.Errors, "api.rate_limit and api.rate_burst must not be negative")
		}
	}
	ve.add(validateMQTTSettings(&settings.MQTT))

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func (ve *ValidationError) add(errs []string) {
	ve.Errors = append(ve.Errors, errs...)
}

func validateMainSettings(s *MainSettings) []string {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "main.name must not be empty")
	}
	if err := validateEnvSide(s.Side); err != nil {
		errs = append(errs, "main.side "+err.Error())
	}
	return errs
}

func validateAudioSettings(s *AudioSettings) []string {
	var errs []string
	if s.MaxVolume <= 0 {
		errs = append(errs, "audio.max_volume must be positive")
	}
	if s.DefaultVolume < 0 || s.DefaultVolume > s.MaxVolume {
		errs = append(errs, fmt.Sprintf("audio.default_volume must be between 0 and %d", s.MaxVolume))
	}
	if s.AmpOffDelay < 0 {
		errs = append(errs, "audio.amp_off_delay must not be negative")
	}
	if s.MaxPhaseRetries < 0 {
		errs = append(errs, "audio.max_phase_retries must not be negative")
	}
	if s.ToneLockTimeout <= 0 {
		errs = append(errs, "audio.tone_lock_timeout must be positive")
	}
	if s.MaxQueuedTones < 0 {
		errs = append(errs, "audio.max_queued_tones must not be negative")
	}
	for name, rate := range map[string]int{"tone_rate": s.ToneRate, "mic_rate": s.MicRate, "voice_rate": s.VoiceRate} {
		if rate <= 0 {
			errs = append(errs, fmt.Sprintf("audio.%s must be positive", name))
		}
	}
	if _, err := syncproto.ParseMode(s.RelayMode); err != nil {
		errs = append(errs, "audio.relay_mode: "+err.Error())
	}
	if _, err := syncproto.ParseMode(s.ReceiverMode); err != nil {
		errs = append(errs, "audio.receiver_mode: "+err.Error())
	}
	for codec, profile := range s.CodecProfiles {
		if err := validateEnvClockProfile(profile); err != nil {
			errs = append(errs, fmt.Sprintf("audio.codec_profiles.%s: %v", codec, err))
		}
	}
	slices.Sort(errs)
	return errs
}

func validateMicrophoneSettings(s *MicrophoneSettings) []string {
	var errs []string
	for name, id := range map[string]string{
		"feed_forward": s.FeedForward,
		"feed_back":    s.FeedBack,
		"reference":    s.Reference,
		"voice":        s.Voice,
	} {
		if id == "" {
			errs = append(errs, fmt.Sprintf("microphones.%s must not be empty", name))
		}
	}
	slices.Sort(errs)
	return errs
}

func validateANCSettings(s *ANCSettings) []string {
	var errs []string
	if s.Modes <= 0 {
		errs = append(errs, "anc.modes must be positive")
	}
	if s.DefaultMode < 1 || s.DefaultMode > s.Modes {
		errs = append(errs, fmt.Sprintf("anc.default_mode must be between 1 and %d", s.Modes))
	}
	for _, m := range s.BoostModes {
		if m < 1 || m > s.Modes {
			errs = append(errs, fmt.Sprintf("anc.boost_modes entry %d is out of range", m))
		}
	}
	if s.DefaultLeakthroughGain < 0 {
		errs = append(errs, "anc.default_leakthrough_gain must not be negative")
	}
	return errs
}

func validateSyncSettings(s *SyncSettings) []string {
	var errs []string
	if s.ConvergenceTimeout <= 0 {
		errs = append(errs, "sync.convergence_timeout must be positive")
	}
	if s.SampleInterval <= 0 {
		errs = append(errs, "sync.sample_interval must be positive")
	}
	if s.SettleMargin < 0 || s.StartLead < 0 {
		errs = append(errs, "sync.settle_margin and sync.start_lead must not be negative")
	}
	return errs
}

func validatePersistSettings(s *PersistSettings) []string {
	if err := validateEnvBackend(s.Backend); err != nil {
		return []string{"persist.backend " + err.Error()}
	}
	if s.Backend != BackendMemory && s.Path == "" {
		return []string{"persist.path is required for the " + s.Backend + " backend"}
	}
	return nil
}

func validateListen(key, addr string) []string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return []string{fmt.Sprintf("%s %q is not host:port", key, addr)}
	}
	return nil
}

func validateMQTTSettings(s *MQTTSettings) []string {
	if !s.Enabled {
		return nil
	}
	var errs []string
	if s.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	} else if u, err := url.Parse(s.Broker); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("mqtt.broker %q is not a valid URL", s.Broker))
	}
	if strings.TrimSpace(s.Topic) == "" {
		errs = append(errs, "mqtt.topic must not be empty")
	}
	return errs
}
