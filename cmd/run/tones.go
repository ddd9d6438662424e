package run

import (
	"sync"
	"time"

	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/simhw"
	"github.com/tphakala/twsaudio/internal/tones"
)

// fallbackToneDuration is used when a tone's header is not cached
const fallbackToneDuration = 200 * time.Millisecond

type tonePoster interface {
	Post(ev eventloop.Event) bool
}

// toneCache is the cache-only part of tones.Library. The tone hook runs on
// the event loop, which must not read WAV files.
type toneCache interface {
	Cached(ref string) (tones.Tone, bool)
}

// toneCompleter plays the role of the DSP on simulated hardware: it reports
// ToneComplete, stamped with the play's sequence number, once the tone's
// duration has elapsed. A stopped or superseded tone never completes.
type toneCompleter struct {
	tones  toneCache
	ctrl   tonePoster
	logger logger.Logger

	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	stopped bool
}

func newToneCompleter(lib toneCache, ctrl tonePoster, log logger.Logger) *toneCompleter {
	return &toneCompleter{
		tones:  lib,
		ctrl:   ctrl,
		logger: log,
		timers: make(map[uint64]*time.Timer),
	}
}

// Cue is the simulated graph factory's tone hook
func (c *toneCompleter) Cue(cue simhw.ToneCue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if cue.Stop {
		c.cancelLocked(cue.Seq)
		return
	}
	// a tone node plays one tone at a time
	for seq := range c.timers {
		c.cancelLocked(seq)
	}

	d := fallbackToneDuration
	if t, ok := c.tones.Cached(cue.Ref); ok && t.Duration > 0 {
		d = t.Duration
	} else {
		c.logger.Debug("tone duration not cached, using fallback",
			logger.String("tone", cue.Ref),
			logger.Duration("duration", d))
	}

	ev := pipeline.ToneComplete{Ref: cue.Ref, Seq: cue.Seq}
	c.timers[cue.Seq] = time.AfterFunc(d, func() {
		c.mu.Lock()
		_, live := c.timers[ev.Seq]
		delete(c.timers, ev.Seq)
		live = live && !c.stopped
		c.mu.Unlock()
		if live && !c.ctrl.Post(ev) {
			c.logger.Warn("tone completion dropped", logger.String("graph", cue.Graph))
		}
	})
}

func (c *toneCompleter) cancelLocked(seq uint64) {
	if t, ok := c.timers[seq]; ok {
		t.Stop()
		delete(c.timers, seq)
	}
}

// Stop cancels outstanding completions
func (c *toneCompleter) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for seq := range c.timers {
		c.cancelLocked(seq)
	}
}

// Pending returns the number of outstanding completions
func (c *toneCompleter) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
