package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

const maxReconnectBackoff = 5 * time.Minute

// client implements the Client interface.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	metrics         Metrics
	logger          logger.Logger
}

// NewClient creates a new MQTT client with the provided configuration.
func NewClient(cfg Config, metrics Metrics, log logger.Logger) Client {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &client{
		config:        cfg,
		reconnectStop: make(chan struct{}),
		metrics:       metrics,
		logger:        getLogger(log),
	}
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component(ComponentMQTT).
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return c.connError(err, "parse_broker")
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component(ComponentMQTT).
				Category(errors.CategoryNetwork).
				Context("operation", "resolve").
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetConnectRetry(true)
	opts.SetWill(c.config.Topic+"/"+availabilityTopic, payloadOffline, 1, true)

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout after %s", c.config.ConnectTimeout).
			Component(ComponentMQTT).
			Category(errors.CategoryTimeout).
			Context("broker", c.config.Broker).
			Build()
	}
	if err := token.Error(); err != nil {
		return c.connError(err, "connect")
	}

	c.metrics.UpdateConnectionStatus(true)
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component(ComponentMQTT).
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}

	token := c.internalClient.Publish(topic, 0, retained || c.config.Retain, payload)
	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		c.metrics.IncrementErrors()
		return errors.Newf("publish timeout").
			Component(ComponentMQTT).
			Category(errors.CategoryTimeout).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors()
		return errors.New(err).
			Component(ComponentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	c.metrics.IncrementMessagesDelivered()
	c.logger.Trace("published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.stopOnce.Do(func() { close(c.reconnectStop) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.UpdateConnectionStatus(false)
	}
}

func (c *client) onConnect(_ paho.Client) {
	c.logger.Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	c.metrics.UpdateConnectionStatus(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("connection to MQTT broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.IncrementErrors()
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	for {
		if c.IsConnected() {
			return
		}
		c.metrics.IncrementReconnectAttempts()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info("reconnected to MQTT broker")
			return
		}

		c.metrics.IncrementErrors()
		c.logger.Warn("failed to reconnect to MQTT broker",
			logger.Error(err),
			logger.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnectBackoff)
		case <-c.reconnectStop:
			return
		}
	}
}

func (c *client) connError(err error, op string) error {
	return errors.New(err).
		Component(ComponentMQTT).
		Category(errors.CategoryMQTTConnection).
		Context("operation", op).
		Context("broker", c.config.Broker).
		Build()
}
