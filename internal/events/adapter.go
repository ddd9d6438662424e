package events

import (
	"time"

	"github.com/tphakala/twsaudio/internal/anc"
	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/pipeline"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// Publisher turns control-core callbacks into bus events. It implements
// pipeline.StateListener, anc.Listener, syncproto.Observer and
// errors.EventPublisher. All methods are non-blocking.
type Publisher struct {
	bus   *EventBus
	dedup *Deduplicator
	now   func() time.Time
}

// NewPublisher creates a publisher. dedup may be nil to forward every error.
func NewPublisher(bus *EventBus, dedup *Deduplicator, now func() time.Time) *Publisher {
	if now == nil {
		now = time.Now
	}
	return &Publisher{bus: bus, dedup: dedup, now: now}
}

func (p *Publisher) PipelineStateChanged(from, to pipeline.State) {
	p.bus.TryPublish(Event{
		Kind:      KindPipelineState,
		Timestamp: p.now(),
		From:      from.String(),
		To:        to.String(),
	})
}

func (p *Publisher) OnANC(n anc.Notification) {
	ev := Event{
		Timestamp:     p.now(),
		Enabled:       n.Enabled,
		RequestedMode: n.RequestedMode,
		ActiveMode:    n.ActiveMode,
		Gain:          n.Gain,
	}
	switch n.Kind {
	case anc.KindStateChanged:
		ev.Kind = KindANCState
		ev.From = n.From.String()
		ev.To = n.StateName
	case anc.KindModeChanged:
		ev.Kind = KindANCMode
	case anc.KindGainChanged:
		ev.Kind = KindANCGain
	default:
		return
	}
	p.bus.TryPublish(ev)
}

func (p *Publisher) SyncFallback(sessionID string) {
	p.bus.TryPublish(Event{Kind: KindSyncFallback, Timestamp: p.now(), SessionID: sessionID})
}

func (p *Publisher) SyncHandover(sessionID string, from, to syncproto.Role, vetoed bool) {
	p.bus.TryPublish(Event{
		Kind:      KindSyncHandover,
		Timestamp: p.now(),
		SessionID: sessionID,
		From:      from.String(),
		To:        to.String(),
		Vetoed:    vetoed,
	})
}

// TryPublish receives every built error from the errors package.
// Contract violations never reach here; they panic.
func (p *Publisher) TryPublish(event any) bool {
	ee, ok := event.(*errors.EnhancedError)
	if !ok {
		return false
	}
	if p.dedup != nil && !p.dedup.ShouldProcess(ee.GetComponent(), ee.GetCategory(), ee.GetMessage()) {
		p.bus.suppress()
		return false
	}
	return p.bus.TryPublish(Event{
		Kind:      KindError,
		Timestamp: ee.GetTimestamp(),
		Component: ee.GetComponent(),
		Category:  ee.GetCategory(),
		Message:   ee.GetMessage(),
	})
}
