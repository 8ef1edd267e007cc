package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/meterscraper/internal/config"
	"github.com/jgoulah/meterscraper/internal/log"
	"github.com/jgoulah/meterscraper/pkg/models"
)

// Defaults
const (
	DefaultTopicPrefix     = "smartmeter"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultClientID        = "meterscraper"
)

const publishTimeout = 10 * time.Second

// Publisher sends snapshots to Home Assistant over MQTT and/or its REST API
type Publisher struct {
	client          mqtt.Client
	topicPrefix     string
	discoveryPrefix string
	discovered      bool
	ha              *haClient
}

// New creates a new publisher (supports both MQTT and HA HTTP API)
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig) (*Publisher, error) {
	p, err := newPublisher(mqttCfg, haCfg, nil)
	if err != nil {
		return nil, err
	}

	if mqttCfg.Enabled {
		// Configure MQTT client options
		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		opts.SetClientID(orDefault(mqttCfg.ClientID, DefaultClientID))
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)
		// Availability flips to offline if we vanish without a clean disconnect
		opts.SetWill(p.availabilityTopic(), "offline", 1, true)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		// Create and connect client
		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
		p.client = client
	}

	return p, nil
}

func newPublisher(mqttCfg config.MQTTConfig, haCfg config.HAConfig, client mqtt.Client) (*Publisher, error) {
	if !mqttCfg.Enabled && !haCfg.Enabled {
		return nil, errors.New("neither mqtt nor home_assistant publishing is enabled in config")
	}
	if mqttCfg.Enabled && mqttCfg.Broker == "" && client == nil {
		return nil, errors.New("MQTT broker address is required when enabled")
	}

	p := &Publisher{
		client:          client,
		topicPrefix:     orDefault(mqttCfg.TopicPrefix, DefaultTopicPrefix),
		discoveryPrefix: orDefault(mqttCfg.DiscoveryPrefix, DefaultDiscoveryPrefix),
	}

	if haCfg.Enabled {
		ha, err := newHAClient(haCfg)
		if err != nil {
			return nil, err
		}
		p.ha = ha
	}

	return p, nil
}

// Publish sends one snapshot to every enabled target
func (p *Publisher) Publish(ctx context.Context, snap models.Snapshot) error {
	var errs []error

	if p.client != nil {
		if err := p.publishMQTT(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if p.ha != nil {
		if err := p.ha.publish(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("home assistant: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (p *Publisher) publishMQTT(ctx context.Context, snap models.Snapshot) error {
	if !p.discovered {
		for _, s := range models.Sensors {
			cfg := p.discoveryConfig(s)
			body, err := json.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding discovery for %s: %w", s.Key, err)
			}
			if err := p.send(p.discoveryTopic(s), body); err != nil {
				return err
			}
		}
		p.discovered = true
		log.Ctx(ctx).DebugContext(ctx, "published discovery configs", slog.Int("sensors", len(models.Sensors)))
	}

	body, err := StatePayload(snap)
	if err != nil {
		return err
	}
	if err := p.send(p.stateTopic(), body); err != nil {
		return err
	}
	if err := p.send(p.availabilityTopic(), []byte("online")); err != nil {
		return err
	}

	log.Ctx(ctx).InfoContext(ctx, "published snapshot over mqtt", slog.String("topic", p.stateTopic()))
	return nil
}

func (p *Publisher) send(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) stateTopic() string {
	return p.topicPrefix + "/state"
}

func (p *Publisher) availabilityTopic() string {
	return p.topicPrefix + "/availability"
}

func (p *Publisher) discoveryTopic(s models.Sensor) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", p.discoveryPrefix, p.topicPrefix, s.Key)
}

// DiscoveryConfig is a Home Assistant MQTT discovery message for one sensor
type DiscoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	AvailabilityTopic string          `json:"availability_topic"`
	ValueTemplate     string          `json:"value_template"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	Icon              string          `json:"icon,omitempty"`
	Device            DiscoveryDevice `json:"device"`
}

// DiscoveryDevice groups the sensors under one device in Home Assistant
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

func (p *Publisher) discoveryConfig(s models.Sensor) DiscoveryConfig {
	return DiscoveryConfig{
		Name:              s.Name,
		UniqueID:          p.topicPrefix + "_" + s.Key,
		StateTopic:        p.stateTopic(),
		AvailabilityTopic: p.availabilityTopic(),
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", s.Key),
		UnitOfMeasurement: s.Unit,
		DeviceClass:       s.DeviceClass,
		StateClass:        s.StateClass,
		Icon:              s.Icon,
		Device: DiscoveryDevice{
			Identifiers:  []string{p.topicPrefix},
			Name:         "Smart Meter",
			Manufacturer: "Netz Burgenland",
			Model:        "enView",
		},
	}
}

// StatePayload encodes every snapshot key as one JSON object
func StatePayload(snap models.Snapshot) ([]byte, error) {
	m := snap.Map()
	if t, ok := m[models.KeyLastReadingTime].(time.Time); ok {
		m[models.KeyLastReadingTime] = t.Format(time.RFC3339)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return body, nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Publish(p.availabilityTopic(), 1, true, []byte("offline")).WaitTimeout(time.Second)
		p.client.Disconnect(250)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
