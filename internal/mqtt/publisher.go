package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"tailwind/pkg/platform"

	"go.uber.org/zap"
)

// Payloads used on state and availability topics
const (
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Broker is the publishing side of an MQTT connection
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// PublisherConfig controls topic layout
type PublisherConfig struct {
	// DiscoveryPrefix is the Home Assistant discovery prefix, e.g. "homeassistant"
	DiscoveryPrefix string

	// NodeID namespaces this bridge's topics, e.g. "tailwind"
	NodeID string
}

// BridgeStatusTopic is where the bridge reports itself online or offline.
// It doubles as the client's last will topic.
func (c PublisherConfig) BridgeStatusTopic() string {
	return c.NodeID + "/status"
}

// ConfigTopic is the retained discovery topic for an entity
func (c PublisherConfig) ConfigTopic(component, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", c.DiscoveryPrefix, component, c.NodeID, uniqueID)
}

// StateTopic carries an entity's value
func (c PublisherConfig) StateTopic(component, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/state", c.NodeID, component, uniqueID)
}

// AvailabilityTopic carries an entity's own availability
func (c PublisherConfig) AvailabilityTopic(component, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/availability", c.NodeID, component, uniqueID)
}

// Availability is one entry of a discovery availability list
type Availability struct {
	Topic string `json:"topic"`
}

// Device is the discovery device block
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// Discovery is the retained config payload announcing an entity
type Discovery struct {
	Name             string         `json:"name"`
	UniqueID         string         `json:"unique_id"`
	ObjectID         string         `json:"object_id,omitempty"`
	StateTopic       string         `json:"state_topic"`
	Availability     []Availability `json:"availability"`
	AvailabilityMode string         `json:"availability_mode"`
	PayloadOn        string         `json:"payload_on,omitempty"`
	PayloadOff       string         `json:"payload_off,omitempty"`
	EntityCategory   string         `json:"entity_category,omitempty"`
	Icon             string         `json:"icon,omitempty"`
	Device           Device         `json:"device"`
}

// Publisher mirrors entity states onto MQTT
type Publisher struct {
	broker Broker
	cfg    PublisherConfig
	logger *zap.Logger

	mu   sync.Mutex
	subs []platform.Subscription

	// stateMu orders state publishes so an older state never lands last
	stateMu sync.Mutex
}

// NewPublisher creates a publisher writing to broker
func NewPublisher(broker Broker, cfg PublisherConfig, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		broker: broker,
		cfg:    cfg,
		logger: logger.Named("mqtt"),
	}
}

// Discovery builds the discovery payload for an entity
func (p *Publisher) Discovery(state platform.EntityState) Discovery {
	d := Discovery{
		Name:       state.Name,
		UniqueID:   state.UniqueID,
		ObjectID:   state.UniqueID,
		StateTopic: p.cfg.StateTopic(state.Platform, state.UniqueID),
		Availability: []Availability{
			{Topic: p.cfg.BridgeStatusTopic()},
			{Topic: p.cfg.AvailabilityTopic(state.Platform, state.UniqueID)},
		},
		AvailabilityMode: "all",
		EntityCategory:   state.Category,
		Icon:             state.Icon,
		Device: Device{
			Identifiers:  state.Device.Identifiers,
			Name:         state.Device.Name,
			Manufacturer: state.Device.Manufacturer,
			Model:        state.Device.Model,
			SWVersion:    state.Device.SWVersion,
			ViaDevice:    state.Device.ViaDevice,
		},
	}
	if state.Platform == platform.BinarySensor {
		d.PayloadOn = PayloadOn
		d.PayloadOff = PayloadOff
	}
	return d
}

// Start announces the bridge and every entity, publishes their current
// states and keeps publishing on each change until Stop.
func (p *Publisher) Start(entities []platform.Entity) error {
	if err := p.publish(p.cfg.BridgeStatusTopic(), true, []byte(PayloadOnline)); err != nil {
		return err
	}

	var errs []error
	for _, e := range entities {
		state := e.State()

		payload, err := json.Marshal(p.Discovery(state))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrPublishFailed, state.UniqueID, err))
			continue
		}
		if err := p.publish(p.cfg.ConfigTopic(state.Platform, state.UniqueID), true, payload); err != nil {
			errs = append(errs, err)
			continue
		}

		sub := e.OnChange(p.PublishState)
		p.mu.Lock()
		p.subs = append(p.subs, sub)
		p.mu.Unlock()

		// Read after subscribing so a change in between is not lost
		p.stateMu.Lock()
		p.publishState(e.State())
		p.stateMu.Unlock()
	}

	p.logger.Info("Published MQTT discovery",
		zap.Int("entities", len(entities)),
		zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// PublishState publishes an entity's availability and, when available, its value
func (p *Publisher) PublishState(state platform.EntityState) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.publishState(state)
}

func (p *Publisher) publishState(state platform.EntityState) {
	availability := p.cfg.AvailabilityTopic(state.Platform, state.UniqueID)

	if !state.Available() {
		if err := p.publish(availability, true, []byte(PayloadOffline)); err != nil {
			p.logger.Warn("Failed to publish availability",
				zap.String("unique_id", state.UniqueID), zap.Error(err))
		}
		return
	}

	if err := p.publish(p.cfg.StateTopic(state.Platform, state.UniqueID), true, []byte(formatValue(state.Value))); err != nil {
		p.logger.Warn("Failed to publish state",
			zap.String("unique_id", state.UniqueID), zap.Error(err))
		return
	}
	if err := p.publish(availability, true, []byte(PayloadOnline)); err != nil {
		p.logger.Warn("Failed to publish availability",
			zap.String("unique_id", state.UniqueID), zap.Error(err))
	}
}

// Stop detaches from the entities and reports the bridge offline
func (p *Publisher) Stop() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	if err := p.publish(p.cfg.BridgeStatusTopic(), true, []byte(PayloadOffline)); err != nil {
		p.logger.Warn("Failed to publish bridge offline status", zap.Error(err))
	}
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) error {
	if err := p.broker.Publish(topic, 1, retained, payload); err != nil {
		return err
	}
	p.logger.Debug("Published", zap.String("topic", topic), zap.ByteString("payload", payload))
	return nil
}

func formatValue(v any) string {
	switch value := v.(type) {
	case bool:
		if value {
			return PayloadOn
		}
		return PayloadOff
	case nil:
		return ""
	default:
		return fmt.Sprint(value)
	}
}
