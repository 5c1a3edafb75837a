package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

var (
	ErrConnectTimeout = errors.New("mqtt connection timeout")
	ErrPublishTimeout = errors.New("mqtt publish timeout")
	ErrMissingBroker  = errors.New("mqtt broker cannot be empty")
)

// Config configures the MQTT connection.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	BufferSize     int
	PublishTimeout time.Duration
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher queues events and publishes them from a single worker, so a
// slow broker never stalls the caller. Events are dropped when the buffer is full.
type MQTTPublisher struct {
	client client
	cfg    Config
	events chan LifecycleEvent
	done   chan struct{}
	logger zerolog.Logger

	mu        sync.RWMutex
	closed    bool
	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewMQTTPublisher connects to the broker and starts the worker.
func NewMQTTPublisher(cfg Config, logger zerolog.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, ErrMissingBroker
	}
	logger = logger.With().Str("component", "mqtt-publisher").Logger()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info().Str("broker", cfg.Broker).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return newMQTTPublisher(c, cfg, logger), nil
}

func newMQTTPublisher(c client, cfg Config, logger zerolog.Logger) *MQTTPublisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "aiscript/jobs"
	}

	p := &MQTTPublisher{
		client: c,
		cfg:    cfg,
		events: make(chan LifecycleEvent, cfg.BufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.worker()
	return p
}

// Publish enqueues event without blocking.
func (p *MQTTPublisher) Publish(event LifecycleEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		return
	}

	select {
	case p.events <- event:
	default:
		p.dropped.Add(1)
		p.logger.Warn().Str("type", event.Type).Msg("lifecycle event dropped, buffer full")
	}
}

func (p *MQTTPublisher) worker() {
	defer close(p.done)

	for event := range p.events {
		if err := p.send(event); err != nil {
			p.failed.Add(1)
			p.logger.Warn().Err(err).Str("type", event.Type).Msg("failed to publish lifecycle event")
			continue
		}
		p.published.Add(1)
	}
}

func (p *MQTTPublisher) send(event LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := p.client.Publish(p.Topic(event.Type), p.cfg.QoS, false, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Topic returns the topic an event type is published on.
func (p *MQTTPublisher) Topic(eventType string) string {
	return p.cfg.TopicPrefix + "/" + eventType
}

// Stats returns published, dropped and failed counts.
func (p *MQTTPublisher) Stats() map[string]uint64 {
	return map[string]uint64{
		"published": p.published.Load(),
		"dropped":   p.dropped.Load(),
		"failed":    p.failed.Load(),
	}
}

// Close drains queued events until ctx expires, then disconnects.
func (p *MQTTPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	var err error
	select {
	case <-p.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.client.Disconnect(250)
	return err
}
