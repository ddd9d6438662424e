// Package conf loads the twsaudio configuration. Settings are read once at
// start-up with viper and converted into the read-only configuration
// objects the domain packages take; those packages never import conf.
package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

// MainSettings identifies this device
type MainSettings struct {
	Name string // node name used in MQTT topics and logs
	Side string // left or right earbud
}

// AudioSettings configures the pipeline and resource arbiter
type AudioSettings struct {
	DefaultVolume   int               `mapstructure:"default_volume" yaml:"default_volume"`
	MaxVolume       int               `mapstructure:"max_volume" yaml:"max_volume"`
	AmpOffDelay     time.Duration     `mapstructure:"amp_off_delay" yaml:"amp_off_delay"`         // amplifier stays on this long after the last user
	MaxPhaseRetries int               `mapstructure:"max_phase_retries" yaml:"max_phase_retries"` // bounded retries of a start phase
	PhaseRetryDelay time.Duration     `mapstructure:"phase_retry_delay" yaml:"phase_retry_delay"`
	ToneLockTimeout time.Duration     `mapstructure:"tone_lock_timeout" yaml:"tone_lock_timeout"` // forced stop while a locked tone never completes
	MaxQueuedTones  int               `mapstructure:"max_queued_tones" yaml:"max_queued_tones"`
	ToneDir         string            `mapstructure:"tone_dir" yaml:"tone_dir"` // directory of WAV tones and prompts
	ToneRate        int               `mapstructure:"tone_rate" yaml:"tone_rate"` // used when a tone file carries no rate
	MicRate         int               `mapstructure:"mic_rate" yaml:"mic_rate"`
	VoiceRate       int               `mapstructure:"voice_rate" yaml:"voice_rate"`
	RelayMode       string            `mapstructure:"relay_mode" yaml:"relay_mode"`
	ReceiverMode    string            `mapstructure:"receiver_mode" yaml:"receiver_mode"`
	CodecProfiles   map[string]string `mapstructure:"codec_profiles" yaml:"codec_profiles"` // codec name to clock profile
}

// MicrophoneSettings maps microphone roles to physical ids
type MicrophoneSettings struct {
	FeedForward string `mapstructure:"feed_forward" yaml:"feed_forward"`
	FeedBack    string `mapstructure:"feed_back" yaml:"feed_back"`
	Reference   string
	Voice       string
}

// ANCSettings configures the noise-cancellation sub-state-machine
type ANCSettings struct {
	Modes                  int
	DefaultMode            int   `mapstructure:"default_mode" yaml:"default_mode"`
	BoostModes             []int `mapstructure:"boost_modes" yaml:"boost_modes"` // modes that need the boost clock profile
	DefaultLeakthroughGain int   `mapstructure:"default_leakthrough_gain" yaml:"default_leakthrough_gain"`
	PersistEnabled         bool  `mapstructure:"persist_enabled" yaml:"persist_enabled"`
	PersistMode            bool  `mapstructure:"persist_mode" yaml:"persist_mode"`
	PersistGain            bool  `mapstructure:"persist_gain" yaml:"persist_gain"`
}

// SyncSettings configures the dual-device sync protocol
type SyncSettings struct {
	ConvergenceTimeout time.Duration `mapstructure:"convergence_timeout" yaml:"convergence_timeout"`
	SettleMargin       time.Duration `mapstructure:"settle_margin" yaml:"settle_margin"`
	SampleInterval     time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	StartLead          time.Duration `mapstructure:"start_lead" yaml:"start_lead"`
}

// PersistSettings selects where ANC state survives power cycles
type PersistSettings struct {
	Backend string // memory, yaml or sqlite
	Path    string
}

// TelemetrySettings contains settings for metrics and error reporting
type TelemetrySettings struct {
	Enabled bool   // true to enable the Prometheus endpoint
	Listen  string // IP address and port to listen on
	Sentry  SentrySettings
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// APISettings configures the HTTP control surface
type APISettings struct {
	Enabled bool
	Listen  string
	// RateLimit is the sustained request rate per client IP, 0 disables it
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// MQTTSettings contains settings for MQTT integration
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string // MQTT (tcp://host:port)
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Topic    string // MQTT topic prefix
	Username string
	Password string
	Retain   bool
	// Home Assistant discovery
	Discovery       bool
	DiscoveryPrefix string `mapstructure:"discovery_prefix" yaml:"discovery_prefix"`
}

// Settings is the complete configuration
type Settings struct {
	Debug bool // true to enable debug mode

	Main        MainSettings
	Logging     logger.LoggingConfig
	Audio       AudioSettings
	Microphones MicrophoneSettings
	ANC         ANCSettings `mapstructure:"anc" yaml:"anc"`
	Sync        SyncSettings
	Persist     PersistSettings
	Telemetry   TelemetrySettings
	API         APISettings `mapstructure:"api" yaml:"api"`
	MQTT        MQTTSettings `mapstructure:"mqtt" yaml:"mqtt"`
}

// Load reads the configuration file and environment variables. An empty
// path searches the default locations; a missing file leaves the defaults.
func Load(path string) (*Settings, error) {
	v, err := initViper(path)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component(ComponentConf).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component(ComponentConf).
			Category(errors.CategoryValidation).
			Context("config_file", v.ConfigFileUsed()).
			Build()
	}
	return settings, nil
}

func initViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(err).
				Component(ComponentConf).
				Category(errors.CategoryFileIO).
				Context("config_file", path).
				Build()
		}
		return v, nil
	}

	v.SetConfigName("config")
	for _, p := range GetDefaultConfigPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Info("no config file found, using defaults")
			return v, nil
		}
		return nil, errors.New(err).
			Component(ComponentConf).
			Category(errors.CategoryFileIO).
			Context("operation", "read_config").
			Build()
	}
	return v, nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "twsaudio"))
	}
	return append(paths, "/etc/twsaudio")
}

// Defaults returns the settings produced by an empty configuration
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		GetLogger().Error("default settings do not decode", logger.Error(err))
	}
	return settings
}

// SaveYAML writes settings to path atomically. Comments in an existing
// file are not preserved.
func SaveYAML(path string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return errors.New(err).
			Component(ComponentConf).
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal").
			Build()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fileError(err, "create_temp", path)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fileError(err, "write_temp", path)
	}
	if err := tmp.Close(); err != nil {
		return fileError(err, "close_temp", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fileError(err, "rename", path)
	}
	return nil
}

func fileError(err error, op, path string) error {
	return errors.New(err).
		Component(ComponentConf).
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Context("path", path).
		Build()
}
