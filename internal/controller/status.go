package controller

import (
	"time"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/resource"
)

// Status is an immutable snapshot of the control core
type Status struct {
	Name       string            `json:"name"`
	Side       string            `json:"side"`
	Sequence   uint64            `json:"sequence"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Pipeline   pipeline.Status   `json:"pipeline"`
	ANC        anc.Status        `json:"anc"`
	Resources  resource.Snapshot `json:"resources"`
	LiveGraphs int               `json:"live_graphs"`
}

// publishStatus runs on the loop and swaps in a fresh snapshot
func (c *Controller) publishStatus() {
	c.seq++
	p := c.pipeline.Status()
	c.hwFailures.Store(p.HardwareFailures)
	c.status.Store(&Status{
		Name:       c.cfg.Name,
		Side:       c.cfg.Side,
		Sequence:   c.seq,
		UpdatedAt:  c.sched.Now(),
		Pipeline:   p,
		ANC:        c.anc.Status(),
		Resources:  c.arbiter.Snapshot(),
		LiveGraphs: c.tracker.Live(),
	})
}
