package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"packmon/backend/services/monitor-service/internal/state"
)

// MQTTOptions configure the broker connection.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic may contain {device}, replaced by the device id.
	Topic string
}

// MQTTPublisher publishes each snapshot as a retained message, so new
// subscribers get the latest state immediately.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(ctx context.Context, cfg MQTTOptions) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("publish: connect to mqtt broker %s: %w", cfg.Broker, err)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "packmon/{device}/snapshot"
	}
	return &MQTTPublisher{client: client, topic: topic}, nil
}

// Name implements Sink.
func (p *MQTTPublisher) Name() string {
	return "mqtt"
}

// Topic returns the topic used for deviceID.
func (p *MQTTPublisher) Topic(deviceID string) string {
	return strings.ReplaceAll(p.topic, "{device}", deviceID)
}

// Publish sends snap with QoS 1, retained.
func (p *MQTTPublisher) Publish(ctx context.Context, snap state.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	topic := p.Topic(snap.DeviceID)
	if err := wait(ctx, p.client.Publish(topic, 1, true, payload)); err != nil {
		return fmt.Errorf("publish: mqtt topic %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
