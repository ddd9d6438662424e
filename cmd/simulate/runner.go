package simulate

import (
	"fmt"
	"io"
	"time"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/conf"
	"github.com/tphakala/twsaudio/internal/controller"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/persist"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/simhw"
)

// epoch is the virtual start time of every run
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Transition is one observed pipeline state change
type Transition struct {
	At   time.Duration `json:"at"`
	From string        `json:"from"`
	To   string        `json:"to"`
}

// Report is the outcome of a scenario run
type Report struct {
	Scenario    string            `json:"scenario"`
	Steps       int               `json:"steps"`
	Transitions []Transition      `json:"transitions"`
	Failures    []string          `json:"failures,omitempty"`
	Final       controller.Status `json:"final"`
	Calls       []string          `json:"calls,omitempty"`
}

// Passed reports whether every expectation held
func (r *Report) Passed() bool { return len(r.Failures) == 0 }

// Runner plays scenarios against a fresh simulated device
type Runner struct {
	settings *conf.Settings
	out      io.Writer
	logger   logger.Logger
}

// NewRunner creates a runner writing its transcript to out
func NewRunner(settings *conf.Settings, out io.Writer, log logger.Logger) *Runner {
	if out == nil {
		out = io.Discard
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Runner{settings: settings, out: out, logger: log}
}

// session is the device built for one run
type session struct {
	hw     *simhw.Hardware
	sched  *eventloop.Manual
	ctrl   *controller.Controller
	report *Report
	out    io.Writer

	toneTimer eventloop.TimerID
}

func (s *session) at() time.Duration { return s.sched.Now().Sub(epoch) }

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, "%8s  ", s.at())
	fmt.Fprintf(s.out, format, args...)
	fmt.Fprintln(s.out)
}

// Run plays sc. A broken control-core contract ends the run with an error.
func (r *Runner) Run(sc *Scenario) (report *Report, err error) {
	s, err := r.boot(sc)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("scenario aborted: %v", p).
				Component(ComponentSimulate).
				Category(errors.CategoryState).
				Context("steps_run", s.report.Steps).
				Build()
			report = s.finish()
		}
	}()

	for i := range sc.Steps {
		step := &sc.Steps[i]
		s.report.Steps++
		if err := s.apply(step); err != nil {
			return s.finish(), errors.New(err).
				Component(ComponentSimulate).
				Category(errors.CategoryValidation).
				Context("step", i+1).
				Build()
		}
	}
	return s.finish(), nil
}

func (r *Runner) boot(sc *Scenario) (*session, error) {
	hw := simhw.New()
	sched := eventloop.NewManual(epoch, nil)
	cfg := controller.ConfigFromSettings(r.settings)
	cfg.CheckInvariants = true

	ctrl, err := controller.New(cfg, controller.Deps{
		Hardware:  controller.Simulated(hw),
		Store:     persist.NewMemoryStore(r.settings.PersistDefaults()),
		Scheduler: sched,
	}, r.logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		hw:     hw,
		sched:  sched,
		ctrl:   ctrl,
		report: &Report{Scenario: sc.Name},
		out:    r.out,
	}

	if err := ctrl.AddStateListener(pipeline.StateListenerFunc(func(from, to pipeline.State) {
		s.report.Transitions = append(s.report.Transitions, Transition{At: s.at(), From: from.String(), To: to.String()})
		s.printf("pipeline  %s -> %s", from, to)
	})); err != nil {
		return nil, err
	}
	if _, err := ctrl.RegisterANCListener(anc.ListenerFunc(func(n anc.Notification) {
		s.printf("anc       %s state=%s enabled=%t mode=%d gain=%d",
			n.Kind, n.StateName, n.Enabled, n.ActiveMode, n.Gain)
	})); err != nil {
		return nil, err
	}

	// tone graphs finish on their own after the configured duration; a
	// stopped or superseded tone never reports completion
	hw.Graphs.OnTone(func(cue simhw.ToneCue) {
		if s.toneTimer != 0 {
			sched.Cancel(s.toneTimer)
			s.toneTimer = 0
		}
		if cue.Stop {
			s.printf("tone      stop #%d on %s", cue.Seq, cue.Graph)
			return
		}
		s.printf("tone      %s #%d on %s", cue.Ref, cue.Seq, cue.Graph)
		s.toneTimer = sched.PostAfter(sc.ToneDuration, pipeline.ToneComplete{Ref: cue.Ref, Seq: cue.Seq})
	})

	for _, f := range sc.Faults {
		hw.Faults.Fail(f.Op, f.Times)
	}

	fmt.Fprintf(r.out, "scenario %q\n", sc.Name)
	ctrl.Start()
	sched.RunPending()
	return s, nil
}

func (s *session) apply(step *Step) error {
	switch {
	case step.Advance > 0:
		s.sched.Advance(step.Advance)
		return nil
	case step.Fault != nil:
		s.printf("fault     %s x%d", step.Fault.Op, step.Fault.Times)
		s.hw.Faults.Fail(step.Fault.Op, step.Fault.Times)
		return nil
	case step.Clear:
		s.hw.Faults.Clear()
		return nil
	case step.Source != nil:
		s.hw.Sources.SetAvailable(step.Source.Name, step.Source.Available)
		return nil
	case step.Expect != nil:
		s.check(step.Expect)
		return nil
	}

	ev, err := step.event()
	if err != nil {
		return err
	}
	s.printf("event     %s", ev.EventName())
	if err := s.ctrl.Submit(ev); err != nil {
		return err
	}
	s.sched.RunPending()
	return nil
}

func (s *session) check(e *Expect) {
	st := s.ctrl.Status()
	fail := func(what string, want, got any) {
		msg := fmt.Sprintf("at %s: %s is %v, want %v", s.at(), what, got, want)
		s.report.Failures = append(s.report.Failures, msg)
		s.printf("FAIL      %s is %v, want %v", what, got, want)
	}

	if e.Pipeline != "" && st.Pipeline.State != e.Pipeline {
		fail("pipeline state", e.Pipeline, st.Pipeline.State)
	}
	if e.ANC != "" && st.ANC.State != e.ANC {
		fail("anc state", e.ANC, st.ANC.State)
	}
	if e.Clock != "" && st.Resources.Clock != e.Clock {
		fail("clock profile", e.Clock, st.Resources.Clock)
	}
	if e.Amp != nil && st.Resources.AmpOn != *e.Amp {
		fail("amplifier", *e.Amp, st.Resources.AmpOn)
	}
	if e.LiveGraphs != nil && st.LiveGraphs != *e.LiveGraphs {
		fail("live graphs", *e.LiveGraphs, st.LiveGraphs)
	}
	if e.Volume != nil && st.Pipeline.Volume != *e.Volume {
		fail("volume", *e.Volume, st.Pipeline.Volume)
	}
	if v := s.hw.Graphs.Violations(); len(v) > 0 {
		fail("graph lifecycle violations", 0, v)
	}
}

func (s *session) finish() *Report {
	s.report.Final = s.ctrl.Status()
	s.report.Calls = s.hw.Rec.Calls()
	return s.report
}
