package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/twsaudio/internal/resource"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "TWSAUDIO_DEBUG", validateEnvBool},
		{"main.side", "TWSAUDIO_SIDE", validateEnvSide},
		{"logging.default_level", "TWSAUDIO_LOG_LEVEL", nil},

		{"audio.default_volume", "TWSAUDIO_DEFAULT_VOLUME", validateEnvNonNegativeInt},
		{"audio.amp_off_delay", "TWSAUDIO_AMP_OFF_DELAY", validateEnvDuration},
		{"audio.tone_dir", "TWSAUDIO_TONE_DIR", nil},
		{"audio.relay_mode", "TWSAUDIO_RELAY_MODE", validateEnvSyncMode},
		{"audio.receiver_mode", "TWSAUDIO_RECEIVER_MODE", validateEnvSyncMode},

		{"anc.default_mode", "TWSAUDIO_ANC_DEFAULT_MODE", validateEnvNonNegativeInt},

		{"sync.convergence_timeout", "TWSAUDIO_SYNC_CONVERGENCE_TIMEOUT", validateEnvDuration},

		{"persist.backend", "TWSAUDIO_PERSIST_BACKEND", validateEnvBackend},
		{"persist.path", "TWSAUDIO_PERSIST_PATH", nil},

		{"telemetry.enabled", "TWSAUDIO_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.listen", "TWSAUDIO_TELEMETRY_LISTEN", nil},
		{"telemetry.sentry.enabled", "TWSAUDIO_SENTRY_ENABLED", validateEnvBool},
		{"telemetry.sentry.dsn", "TWSAUDIO_SENTRY_DSN", nil},

		{"api.enabled", "TWSAUDIO_API_ENABLED", validateEnvBool},
		{"api.listen", "TWSAUDIO_API_LISTEN", nil},

		{"mqtt.enabled", "TWSAUDIO_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "TWSAUDIO_MQTT_BROKER", nil},
		{"mqtt.username", "TWSAUDIO_MQTT_USERNAME", nil},
		{"mqtt.password", "TWSAUDIO_MQTT_PASSWORD", nil},
	}
}

// bindEnvVars binds every variable and validates the ones that are set.
// Invalid values are reported but still bound; ValidateSettings has the
// final word.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string
	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}
	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars(v)
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fmt.Errorf("must be a non-negative duration such as 500ms")
	}
	return nil
}

func validateEnvSide(value string) error {
	if value != sideLeft && value != sideRight {
		return fmt.Errorf("must be %s or %s", sideLeft, sideRight)
	}
	return nil
}

func validateEnvSyncMode(value string) error {
	_, err := syncproto.ParseMode(value)
	return err
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendMemory, BackendYAML, BackendSQLite:
		return nil
	}
	return fmt.Errorf("must be one of %s, %s, %s", BackendMemory, BackendYAML, BackendSQLite)
}

// validateEnvClockProfile is shared with the settings validator
func validateEnvClockProfile(value string) error {
	_, err := resource.ParseClockProfile(value)
	return err
}
