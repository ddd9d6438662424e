package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/events"
	"github.com/tphakala/twsaudio/internal/logger"
)

// Topic suffixes below the configured prefix
const (
	availabilityTopic  = "status"
	pipelineStateTopic = "pipeline/state"
	ancStateTopic      = "anc/state"
	ancModeTopic       = "anc/mode"
	ancGainTopic       = "anc/gain"
	syncTopic          = "sync/event"
	errorTopic         = "errors"

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Publisher is an event bus consumer that mirrors events onto MQTT.
// State topics are retained; sync and error events are not.
type Publisher struct {
	client  Client
	prefix  string
	timeout time.Duration
	logger  logger.Logger
}

func NewPublisher(client Client, cfg Config, log logger.Logger) *Publisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	prefix := cfg.Topic
	if prefix == "" {
		prefix = DefaultConfig().Topic
	}
	return &Publisher{client: client, prefix: prefix, timeout: timeout, logger: getLogger(log)}
}

func (p *Publisher) Name() string { return "mqtt" }

// ProcessEvent publishes one event. Events are skipped, not queued, while
// the broker is unreachable; retained state catches up on the next change.
func (p *Publisher) ProcessEvent(e events.Event) error {
	topic, retained := p.route(e.Kind)
	if topic == "" {
		return nil
	}
	if !p.client.IsConnected() {
		p.logger.Debug("skipping publish while disconnected", logger.String("topic", topic))
		return nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return errors.New(err).
			Component(ComponentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("kind", string(e.Kind)).
			Build()
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.client.Publish(ctx, topic, payload, retained)
}

// Announce publishes the availability message
func (p *Publisher) Announce(ctx context.Context, online bool) error {
	payload := payloadOffline
	if online {
		payload = payloadOnline
	}
	return p.client.Publish(ctx, p.Topic(availabilityTopic), []byte(payload), true)
}

// Topic returns the full topic for suffix
func (p *Publisher) Topic(suffix string) string { return p.prefix + "/" + suffix }

func (p *Publisher) route(k events.Kind) (topic string, retained bool) {
	switch k {
	case events.KindPipelineState:
		return p.Topic(pipelineStateTopic), true
	case events.KindANCState:
		return p.Topic(ancStateTopic), true
	case events.KindANCMode:
		return p.Topic(ancModeTopic), true
	case events.KindANCGain:
		return p.Topic(ancGainTopic), true
	case events.KindSyncFallback, events.KindSyncHandover:
		return p.Topic(syncTopic), false
	case events.KindError:
		return p.Topic(errorTopic), false
	}
	return "", false
}
