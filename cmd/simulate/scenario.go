package simulate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// ComponentSimulate identifies scenario errors
const ComponentSimulate = "simulate"

// DefaultToneDuration is how long a simulated tone plays
const DefaultToneDuration = 100 * time.Millisecond

// Scenario is a scripted run against simulated hardware
//
//	name: tone over music
//	faults:
//	  - {op: "graph.create:music-decode", times: 1}
//	steps:
//	  - pipeline: start-music
//	    args: {codec: aac, sample_rate: 44100, volume: 50}
//	  - advance: 200ms
//	  - expect: {pipeline: music-streaming, clock: medium}
type Scenario struct {
	Name         string        `yaml:"name"`
	ToneDuration time.Duration `yaml:"tone_duration"`
	// Faults are injected before boot
	Faults []Fault `yaml:"faults"`
	Steps  []Step  `yaml:"steps"`
}

// Fault makes a simulated hardware operation fail Times times; -1 fails
// until cleared
type Fault struct {
	Op    string `yaml:"op"`
	Times int    `yaml:"times"`
}

// SourceChange opens or closes a media source
type SourceChange struct {
	Name      string `yaml:"name"`
	Available bool   `yaml:"available"`
}

// Expect checks the published status; empty fields are not checked
type Expect struct {
	Pipeline   string `yaml:"pipeline"`
	ANC        string `yaml:"anc"`
	Clock      string `yaml:"clock"`
	Amp        *bool  `yaml:"amp"`
	LiveGraphs *int   `yaml:"live_graphs"`
	Volume     *int   `yaml:"volume"`
}

// Step is one scenario action. Exactly one action field is set.
type Step struct {
	Pipeline string        `yaml:"pipeline"`
	Args     pipeline.Args `yaml:"args"`

	ANC   string `yaml:"anc"`
	Value int    `yaml:"value"`

	// Sync is converged or handover
	Sync      string        `yaml:"sync"`
	Remaining time.Duration `yaml:"remaining"`
	Role      string        `yaml:"role"`

	Advance time.Duration `yaml:"advance"`
	Fault   *Fault        `yaml:"fault"`
	Clear   bool          `yaml:"clear_faults"`
	Source  *SourceChange `yaml:"source"`
	Expect  *Expect       `yaml:"expect"`
}

// LoadScenario reads and validates a scenario file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentSimulate).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, errors.New(err).
			Component(ComponentSimulate).
			Category(errors.CategoryValidation).
			Context("operation", "decode").
			Build()
	}
	if sc.ToneDuration <= 0 {
		sc.ToneDuration = DefaultToneDuration
	}
	if len(sc.Steps) == 0 {
		return nil, invalid("scenario has no steps")
	}
	for i := range sc.Steps {
		if err := sc.Steps[i].validate(); err != nil {
			return nil, errors.New(err).
				Component(ComponentSimulate).
				Category(errors.CategoryValidation).
				Context("step", i+1).
				Build()
		}
	}
	return &sc, nil
}

func invalid(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(ComponentSimulate).
		Category(errors.CategoryValidation).
		Build()
}

func (s *Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Pipeline != "", s.ANC != "", s.Sync != "", s.Advance > 0,
		s.Fault != nil, s.Clear, s.Source != nil, s.Expect != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (s *Step) validate() error {
	if n := s.actions(); n != 1 {
		return fmt.Errorf("step must have exactly one action, has %d", n)
	}
	if s.Fault != nil && s.Fault.Op == "" {
		return fmt.Errorf("fault without op")
	}
	if s.Source != nil && s.Source.Name == "" {
		return fmt.Errorf("source change without name")
	}
	if s.Pipeline != "" || s.ANC != "" || s.Sync != "" {
		_, err := s.event()
		return err
	}
	return nil
}

// event converts an injection step to its control-core event
func (s *Step) event() (eventloop.Event, error) {
	switch {
	case s.Pipeline != "":
		return pipeline.ParseEvent(s.Pipeline, s.Args)
	case s.ANC != "":
		return anc.ParseEvent(s.ANC, s.Value)
	case s.Sync == "converged":
		return syncproto.Converged{Remaining: s.Remaining}, nil
	case s.Sync == "handover":
		role, err := syncproto.ParseRole(s.Role)
		if err != nil {
			return nil, err
		}
		return syncproto.HandoverRequest{Role: role}, nil
	case s.Sync != "":
		return nil, fmt.Errorf("unknown sync event %q", s.Sync)
	}
	return nil, fmt.Errorf("step injects no event")
}

// String describes the step for the transcript
func (s *Step) String() string {
	switch {
	case s.Pipeline != "":
		return "pipeline " + s.Pipeline
	case s.ANC != "":
		return fmt.Sprintf("anc %s %d", s.ANC, s.Value)
	case s.Sync != "":
		return "sync " + s.Sync
	case s.Advance > 0:
		return "advance " + s.Advance.String()
	case s.Fault != nil:
		return fmt.Sprintf("fault %s x%d", s.Fault.Op, s.Fault.Times)
	case s.Clear:
		return "clear faults"
	case s.Source != nil:
		return fmt.Sprintf("source %s available=%t", s.Source.Name, s.Source.Available)
	case s.Expect != nil:
		return "expect"
	}
	return "noop"
}
