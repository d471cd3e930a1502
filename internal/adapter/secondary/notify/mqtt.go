package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"tinnicap/internal/adapter/dto"
	"tinnicap/internal/usecase"
)

var (
	// ErrMQTTConnectionFailed is returned when the initial broker connection fails.
	ErrMQTTConnectionFailed = errors.New("mqtt: connection failed")
	// ErrMQTTNotConnected is returned when publishing on a disconnected client.
	ErrMQTTNotConnected = errors.New("mqtt: client not connected")
	// ErrMQTTPublishFailed is returned when a publish is rejected or times out.
	ErrMQTTPublishFailed = errors.New("mqtt: publish failed")
	// ErrMQTTInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrMQTTInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttQuiesceMillis  = 250
)

// MQTTConfig selects the broker and topic layout.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// mqttClient is the part of pahomqtt.Client the publisher uses.
type mqttClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes every engine event as JSON on <prefix>/events/<kind>.
// A retained <prefix>/status topic carries "online", with "offline" as the last will.
type MQTTPublisher struct {
	client mqttClient
	cfg    MQTTConfig
}

// ConnectMQTT connects to the broker and announces the publisher as online.
func ConnectMQTT(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.QoS > 2 {
		return nil, ErrMQTTInvalidQoS
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "tinnicap"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tinnicap"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetWill(statusTopic(cfg.TopicPrefix), "offline", cfg.QoS, true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrMQTTConnectionFailed, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnectionFailed, err)
	}

	p := newMQTTPublisher(client, cfg)
	if err := p.publish(statusTopic(cfg.TopicPrefix), []byte("online"), true); err != nil {
		client.Disconnect(mqttQuiesceMillis)
		return nil, err
	}
	return p, nil
}

func newMQTTPublisher(client mqttClient, cfg MQTTConfig) *MQTTPublisher {
	return &MQTTPublisher{client: client, cfg: cfg}
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

// EventTopic returns the topic an event kind is published on.
func (p *MQTTPublisher) EventTopic(kind usecase.EventKind) string {
	return p.cfg.TopicPrefix + "/events/" + string(kind)
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

func (p *MQTTPublisher) Handle(_ context.Context, ev usecase.Event) error {
	payload, err := json.Marshal(dto.FromEvent(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.publish(p.EventTopic(ev.Kind), payload, false)
}

func (p *MQTTPublisher) publish(topic string, payload []byte, retained bool) error {
	if !p.client.IsConnected() {
		return ErrMQTTNotConnected
	}
	token := p.client.Publish(topic, p.cfg.QoS, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrMQTTPublishFailed, mqttPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrMQTTPublishFailed, err)
	}
	return nil
}

// Close announces a graceful shutdown and disconnects.
func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		_ = p.publish(statusTopic(p.cfg.TopicPrefix), []byte("offline"), true)
	}
	p.client.Disconnect(mqttQuiesceMillis)
	return nil
}
