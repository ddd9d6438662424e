package conf

import (
	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/mqtt"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/resource"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// The converters below assume ValidateSettings passed; unparseable names
// fall back to the package defaults.

// MicPaths returns the microphone role assignment
func (s *Settings) MicPaths() resource.MicPaths {
	return resource.MicPaths{
		resource.MicFeedForward: resource.MicID(s.Microphones.FeedForward),
		resource.MicFeedBack:    resource.MicID(s.Microphones.FeedBack),
		resource.MicReference:   resource.MicID(s.Microphones.Reference),
		resource.MicVoice:       resource.MicID(s.Microphones.Voice),
	}
}

// ResourceConfig returns the arbiter configuration
func (s *Settings) ResourceConfig() resource.Config {
	profiles := make(map[string]resource.ClockProfile, len(s.Audio.CodecProfiles))
	for codec, name := range s.Audio.CodecProfiles {
		p, err := resource.ParseClockProfile(name)
		if err != nil {
			p = resource.DefaultCodecProfile
		}
		profiles[codec] = p
	}
	return resource.Config{
		AmpOffDelay:   s.Audio.AmpOffDelay,
		CodecProfiles: profiles,
		Mics:          s.MicPaths(),
	}
}

// PipelineConfig returns the pipeline state machine configuration
func (s *Settings) PipelineConfig() pipeline.Config {
	def := pipeline.DefaultConfig()
	cfg := pipeline.Config{
		DefaultVolume:   s.Audio.DefaultVolume,
		MaxVolume:       s.Audio.MaxVolume,
		MaxPhaseRetries: s.Audio.MaxPhaseRetries,
		PhaseRetryDelay: s.Audio.PhaseRetryDelay,
		ToneLockTimeout: s.Audio.ToneLockTimeout,
		MaxQueuedTones:  s.Audio.MaxQueuedTones,
		ToneRate:        s.Audio.ToneRate,
		VoiceRate:       s.Audio.VoiceRate,
		MicRate:         s.Audio.MicRate,
		RelayMode:       def.RelayMode,
		ReceiverMode:    def.ReceiverMode,
	}
	if m, err := syncproto.ParseMode(s.Audio.RelayMode); err == nil {
		cfg.RelayMode = m
	}
	if m, err := syncproto.ParseMode(s.Audio.ReceiverMode); err == nil {
		cfg.ReceiverMode = m
	}
	return cfg
}

// ANCConfig returns the ANC machine configuration. The feed-forward and
// feed-back microphones are snooped while the path is enabled.
func (s *Settings) ANCConfig() anc.Config {
	paths := s.MicPaths()
	return anc.Config{
		Modes:                  s.ANC.Modes,
		DefaultMode:            s.ANC.DefaultMode,
		BoostModes:             append([]int(nil), s.ANC.BoostModes...),
		DefaultLeakthroughGain: s.ANC.DefaultLeakthroughGain,
		PersistEnabled:         s.ANC.PersistEnabled,
		PersistMode:            s.ANC.PersistMode,
		PersistGain:            s.ANC.PersistGain,
		Mics:                   []resource.MicID{paths[resource.MicFeedForward], paths[resource.MicFeedBack]},
		MicRate:                s.Audio.MicRate,
	}
}

// SyncConfig returns the sync protocol configuration
func (s *Settings) SyncConfig() syncproto.Config {
	return syncproto.Config{
		ConvergenceTimeout: s.Sync.ConvergenceTimeout,
		SettleMargin:       s.Sync.SettleMargin,
		SampleInterval:     s.Sync.SampleInterval,
		StartLead:          s.Sync.StartLead,
	}
}

// PersistDefaults is what the ANC store returns before anything was saved
func (s *Settings) PersistDefaults() anc.Persisted {
	return anc.Persisted{
		Mode:            s.ANC.DefaultMode,
		LeakthroughGain: s.ANC.DefaultLeakthroughGain,
	}
}

// MQTTConfig returns the broker client configuration. Topics are prefixed
// with the node name unless a topic was configured explicitly.
func (s *Settings) MQTTConfig() mqtt.Config {
	cfg := mqtt.DefaultConfig()
	cfg.Broker = s.MQTT.Broker
	cfg.Username = s.MQTT.Username
	cfg.Password = s.MQTT.Password
	cfg.Retain = s.MQTT.Retain
	if s.MQTT.ClientID != "" {
		cfg.ClientID = s.MQTT.ClientID
	}
	switch {
	case s.MQTT.Topic != "":
		cfg.Topic = s.MQTT.Topic
	case s.Main.Name != "":
		cfg.Topic = "twsaudio/" + mqtt.SanitizeID(s.Main.Name)
	}
	return cfg
}
