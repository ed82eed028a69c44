package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"camera-switcher/internal/logger"
	"camera-switcher/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

var log = logger.Named("mqtt")

type Client struct {
	client mqtt.Client
	config models.MQTTConfig

	mu     sync.Mutex
	stream chan<- models.StateChange // set once SubscribeStateStream succeeds
}

func NewClient(cfg models.MQTTConfig) *Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	// Unique suffix so two instances never kick each other off the broker
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))

	if cfg.User != "" {
		opts.SetUsername(cfg.User)
		opts.SetPassword(cfg.Password)
	}

	c := &Client{config: cfg}

	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", cfg.Broker)
		// Clean sessions drop subscriptions; resubscribing also replays the
		// retained statestream topics, covering changes missed while away.
		if out := c.currentStream(); out != nil {
			go func() {
				if err := c.subscribe(out); err != nil {
					log.Errorf("Failed to resubscribe to statestream: %v", err)
				}
			}()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("Lost connection to MQTT broker: %v", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

func (c *Client) Connect() error {
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// SubscribeStateStream follows Home Assistant's mqtt_statestream output and
// forwards entity updates to out. The subscription is renewed on reconnect.
func (c *Client) SubscribeStateStream(out chan<- models.StateChange) error {
	if err := c.subscribe(out); err != nil {
		return err
	}
	c.mu.Lock()
	c.stream = out
	c.mu.Unlock()
	return nil
}

func (c *Client) currentStream() chan<- models.StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Client) subscribe(out chan<- models.StateChange) error {
	base := strings.TrimSuffix(c.config.StateStream, "/")
	topic := base + "/#"

	token := c.client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
		change, ok := ParseStateStream(base, msg.Topic(), msg.Payload())
		if !ok {
			return
		}
		out <- change
	})

	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	log.Infof("Subscribed to topic: %s", topic)
	return nil
}

// ParseStateStream decodes one statestream message. Topics look like
// <base>/<domain>/<object_id>/state or <base>/<domain>/<object_id>/<attribute>;
// attribute payloads are JSON encoded. Only state and friendly_name are used.
func ParseStateStream(base, topic string, payload []byte) (models.StateChange, bool) {
	rest, ok := strings.CutPrefix(topic, base+"/")
	if !ok {
		return models.StateChange{}, false
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return models.StateChange{}, false
	}

	change := models.StateChange{EntityID: parts[0] + "." + parts[1]}
	switch parts[2] {
	case "state":
		state := string(payload)
		change.State = &state
	case "friendly_name":
		var name string
		if err := json.Unmarshal(payload, &name); err != nil {
			name = string(payload)
		}
		change.FriendlyName = &name
	default:
		return models.StateChange{}, false
	}
	return change, true
}

func (c *Client) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := c.client.Publish(topic, 0, c.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}
