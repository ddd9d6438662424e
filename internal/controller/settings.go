package controller

import (
	"github.com/tphakala/twsaudio/internal/conf"
	"github.com/tphakala/twsaudio/internal/simhw"
)

// ConfigFromSettings converts loaded settings into the component
// configuration
func ConfigFromSettings(s *conf.Settings) Config {
	return Config{
		Name:            s.Main.Name,
		Side:            s.Main.Side,
		Resource:        s.ResourceConfig(),
		Pipeline:        s.PipelineConfig(),
		ANC:             s.ANCConfig(),
		Sync:            s.SyncConfig(),
		CheckInvariants: s.Debug,
	}
}

// Simulated returns the collaborators of a simulated device
func Simulated(hw *simhw.Hardware) Hardware {
	return Hardware{
		Drivers:  hw.Drivers(),
		Graphs:   hw.Graphs,
		ANC:      hw.ANC,
		Bridge:   hw.Bridge,
		Sources:  hw.Sources,
		Timeline: hw.Timeline,
		Peer:     hw.Peer,
	}
}
