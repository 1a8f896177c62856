// Package mqtt publishes entities to an MQTT broker using the Home Assistant
// discovery convention.
package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	maxQoS         = 2
)

// Config holds broker connection settings
type Config struct {
	Broker string

	// ClientID must be unique per broker; a random one is generated when empty
	ClientID string

	Username string
	Password string

	// WillTopic receives WillPayload, retained, if the connection drops
	// without a clean disconnect. Empty disables the last will.
	WillTopic   string
	WillPayload string
}

// Client is a paho-backed Broker
type Client struct {
	client pahomqtt.Client
	logger *zap.Logger
}

// Connect dials the broker and waits for the connection to be established.
// The client reconnects automatically afterwards.
func Connect(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mqtt")

	if cfg.ClientID == "" {
		cfg.ClientID = "tailwind-" + uuid.NewString()
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(connectTimeout)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, cfg.WillPayload, 1, true)
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Client{client: client, logger: logger}, nil
}

// Publish implements Broker
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: invalid qos %d", ErrPublishFailed, qos)
	}
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close disconnects, giving in-flight messages up to a quarter second
func (c *Client) Close() {
	c.client.Disconnect(250)
	c.logger.Info("Disconnected from MQTT broker")
}
