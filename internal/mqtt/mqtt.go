// Package mqtt publishes alert transitions to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/poachwatch/poachwatch/internal/conf"
)

// Client defines the MQTT operations the publisher needs.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error
	// Publish sends payload to topic with the given QoS and retain flag.
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // prefix; transitions go to {Topic}/alert
	QoS      byte
	Retain   bool

	ReconnectCooldown time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable timeouts.
func DefaultConfig() Config {
	return Config{
		Topic:             "poachwatch",
		QoS:               1,
		Retain:            true,
		ReconnectCooldown: 5 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFrom maps settings onto a Config.
func ConfigFrom(s conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.ClientID = s.ClientID
	cfg.Username = s.Username
	cfg.Password = s.Password
	if s.Topic != "" {
		cfg.Topic = s.Topic
	}
	cfg.QoS = byte(s.QoS)
	cfg.Retain = s.Retain
	return cfg
}
