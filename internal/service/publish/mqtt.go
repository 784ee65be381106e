// Package publish forwards coalesced events to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"detectstream/internal/config"
	"detectstream/internal/logger"
	"detectstream/internal/model"
)

var errNotConnected = errors.New("mqtt not connected")

type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher publishes coalesced events to <prefix>/<kind>/<source>.
type MQTTPublisher struct {
	broker   string
	clientID string
	prefix   string
	qos      byte
	logger   *logger.Logger

	client mqtt.Client
	pub    tokenPublisher

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// Stats contains publisher statistics.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func NewMQTTPublisher(cfg *config.Config, logger *logger.Logger) *MQTTPublisher {
	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "detectstream-" + uuid.NewString()[:8]
	}
	return &MQTTPublisher{
		broker:    cfg.MQTTBroker,
		clientID:  clientID,
		prefix:    strings.TrimSuffix(cfg.MQTTTopicPrefix, "/"),
		qos:       1,
		logger:    logger,
		published: make(map[string]uint64),
	}
}

// Topic builds the topic of one event.
func Topic(prefix string, kind model.EventKind, source string) string {
	if source == "" {
		source = model.UnknownSource
	}
	return fmt.Sprintf("%s/%s/%s", prefix, kind, source)
}

// Connect establishes the broker connection with automatic reconnects.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.brokerURL())
	opts.SetClientID(p.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("MQTT connection established (%s as %s)", p.broker, p.clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warning("MQTT connection lost, will auto-reconnect: %v", err)
	}

	p.client = mqtt.NewClient(opts)
	p.pub = p.client

	p.logger.Info("Connecting to MQTT broker %s", p.broker)
	token := p.client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

func (p *MQTTPublisher) brokerURL() string {
	if strings.Contains(p.broker, "://") {
		return p.broker
	}
	return "tcp://" + p.broker
}

// PublishDetection publishes a coalesced detection event.
func (p *MQTTPublisher) PublishDetection(ev model.DetectionEvent) error {
	return p.publish(Topic(p.prefix, model.KindDetection, ev.SourceID), ev)
}

// PublishChange publishes a coalesced change-feed event.
func (p *MQTTPublisher) PublishChange(ev model.RemoteChangeEvent) error {
	return p.publish(Topic(p.prefix, model.KindChange, ev.Key()), ev)
}

func (p *MQTTPublisher) publish(topic string, event interface{}) error {
	if !p.isConnected() || p.pub == nil {
		p.countError()
		return errNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := p.pub.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.countError()
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()
	return nil
}

// Disconnect closes the broker connection.
func (p *MQTTPublisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("MQTT disconnected")
	}
	p.setConnected(false)
}

func (p *MQTTPublisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{Connected: p.connected, Published: published, Errors: p.errors}
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
