package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

// client implements Client over paho.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	metrics         *metrics.MQTTMetrics
	log             logger.Logger
}

// NewClient creates a paho-backed Client. It does not connect.
func NewClient(cfg Config, m *metrics.MQTTMetrics, log logger.Logger) Client {
	return &client{
		config:  cfg,
		metrics: m,
		log:     logger.OrDiscard(log).Module("mqtt"),
	}
}

func mqttError(err error, category errors.ErrorCategory, broker string) error {
	return errors.New(err).
		Component("mqtt").
		Category(category).
		Context("broker", broker).
		Build()
}

// Connect resolves the broker host and connects. Paho reconnects on its own
// after a successful first connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.config.Broker).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Host == "" {
		if err == nil {
			err = errors.NewStd("missing broker host")
		}
		return mqttError(err, errors.CategoryConfiguration, c.config.Broker)
	}
	if host := u.Hostname(); net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			c.metrics.RecordError("dns")
			return mqttError(err, errors.CategoryMQTTConnection, c.config.Broker)
		}
	}

	c.internalClient = paho.NewClient(c.options())
	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		c.metrics.RecordError("connect_timeout")
		return mqttError(errors.NewStd("connection timeout"), errors.CategoryTimeout, c.config.Broker)
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordError("connect")
		return mqttError(err, errors.CategoryMQTTConnection, c.config.Broker)
	}
	c.metrics.SetConnected(true)
	return nil
}

func (c *client) options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	return opts
}

func (c *client) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		c.metrics.RecordError("not_connected")
		return mqttError(errors.NewStd("not connected to MQTT broker"), errors.CategoryMQTTPublish, c.config.Broker)
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, qos, retain, payload)
	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		c.metrics.RecordError("publish_timeout")
		return mqttError(errors.NewStd("publish timeout"), errors.CategoryTimeout, c.config.Broker)
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordError("publish")
		return mqttError(err, errors.CategoryMQTTPublish, c.config.Broker)
	}
	c.metrics.RecordPublish(topic, time.Since(start))
	return nil
}

func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.SetConnected(false)
	}
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to broker", logger.String("broker", c.config.Broker))
	c.metrics.SetConnected(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
	c.metrics.SetConnected(false)
	c.metrics.RecordError("connection_lost")
}
