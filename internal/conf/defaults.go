package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/twsaudio/internal/logger"
)

// ComponentConf identifies configuration errors
const ComponentConf = "conf"

// GetLogger returns the config package logger scoped to the config module
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}

// setDefaultConfig sets default values for the configuration
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "twsaudio")
	v.SetDefault("main.side", "left")

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("audio.default_volume", 64)
	v.SetDefault("audio.max_volume", 127)
	v.SetDefault("audio.amp_off_delay", 500*time.Millisecond)
	v.SetDefault("audio.max_phase_retries", 5)
	v.SetDefault("audio.phase_retry_delay", 20*time.Millisecond)
	v.SetDefault("audio.tone_lock_timeout", 3*time.Second)
	v.SetDefault("audio.max_queued_tones", 4)
	v.SetDefault("audio.tone_dir", "tones")
	v.SetDefault("audio.tone_rate", 16000)
	v.SetDefault("audio.mic_rate", 48000)
	v.SetDefault("audio.voice_rate", 16000)
	v.SetDefault("audio.relay_mode", "synchronized")
	v.SetDefault("audio.receiver_mode", "secondary-join")
	v.SetDefault("audio.codec_profiles", map[string]string{
		"sbc":  "medium",
		"aac":  "medium",
		"ldac": "high",
		"msbc": "medium",
		"lc3":  "medium",
	})

	v.SetDefault("microphones.feed_forward", "mic0")
	v.SetDefault("microphones.feed_back", "mic1")
	v.SetDefault("microphones.reference", "mic2")
	v.SetDefault("microphones.voice", "mic3")

	v.SetDefault("anc.modes", 4)
	v.SetDefault("anc.default_mode", 1)
	v.SetDefault("anc.boost_modes", []int{4})
	v.SetDefault("anc.default_leakthrough_gain", 8)
	v.SetDefault("anc.persist_enabled", true)
	v.SetDefault("anc.persist_mode", true)
	v.SetDefault("anc.persist_gain", true)

	v.SetDefault("sync.convergence_timeout", 2*time.Second)
	v.SetDefault("sync.settle_margin", 50*time.Millisecond)
	v.SetDefault("sync.sample_interval", 100*time.Millisecond)
	v.SetDefault("sync.start_lead", 40*time.Millisecond)

	v.SetDefault("persist.backend", "yaml")
	v.SetDefault("persist.path", "anc-state.yaml")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "0.0.0.0:8090")
	v.SetDefault("telemetry.sentry.enabled", false)
	v.SetDefault("telemetry.sentry.dsn", "")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8080")
	v.SetDefault("api.rate_limit", 20.0)
	v.SetDefault("api.rate_burst", 40)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "twsaudio")
	v.SetDefault("mqtt.topic", "twsaudio")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retain", true)
	v.SetDefault("mqtt.discovery", false)
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
}
