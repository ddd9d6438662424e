package controller

import (
	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/pipeline"
)

// Dispatch routes one event on the loop. Resource timers go to the
// arbiter, pipeline and ANC events to their machines and anything left to
// the live sync session. The status snapshot is republished afterwards.
func (c *Controller) Dispatch(ev eventloop.Event) {
	defer c.publishStatus()

	if c.arbiter.HandleEvent(ev) {
		return
	}

	switch e := ev.(type) {
	case pipeline.Event:
		res := c.pipeline.Handle(e)
		if c.metrics != nil {
			c.metrics.Pipeline.ObserveEvent(e.EventName(), res)
		}
		if c.cfg.CheckInvariants {
			c.checkInvariants(e)
		}
	case anc.Event:
		before := c.anc.NeedsClockBoost()
		c.anc.Handle(e)
		if c.anc.NeedsClockBoost() != before {
			c.pipeline.RecomputeClock()
		}
	default:
		if !c.pipeline.HandleSyncEvent(ev) {
			c.logger.Debug("unrouted event", logger.String("event", ev.EventName()))
		}
	}
}

func (c *Controller) checkInvariants(ev pipeline.Event) {
	if err := c.pipeline.CheckInvariants(); err != nil {
		errors.ContractViolation(ComponentController, "pipeline invariant broken",
			"event", ev.EventName(),
			"state", c.pipeline.State().String(),
			"error", err.Error())
	}
}
