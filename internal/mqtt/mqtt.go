// Package mqtt publishes control-core state to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/twsaudio/internal/logger"
)

const ComponentMQTT = "mqtt"

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends a message to topic. retained overrides the configured
	// retain flag for this message only when true.
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // prefix for every published topic
	Retain            bool   // true to retain state messages at the broker
	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "twsaudio",
		Topic:             "twsaudio",
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// Metrics receives client counters. A nil Metrics is replaced by a no-op.
type Metrics interface {
	UpdateConnectionStatus(connected bool)
	IncrementMessagesDelivered()
	IncrementErrors()
	IncrementReconnectAttempts()
}

type noopMetrics struct{}

func (noopMetrics) UpdateConnectionStatus(bool)  {}
func (noopMetrics) IncrementMessagesDelivered()  {}
func (noopMetrics) IncrementErrors()             {}
func (noopMetrics) IncrementReconnectAttempts()  {}

func getLogger(log logger.Logger) logger.Logger {
	if log == nil {
		return logger.Global().Module(ComponentMQTT)
	}
	return log.Module(ComponentMQTT)
}
