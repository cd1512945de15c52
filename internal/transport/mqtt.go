package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mtiwari1/exgstream/internal/acquisition"
	"github.com/mtiwari1/exgstream/internal/device"
)

// MQTT defaults.
const (
	DefaultHandshakeWait = 3 * time.Second
	notificationBacklog  = 256
	subscribeTimeout     = 5 * time.Second
)

// Subscriber is the part of an MQTT client the relay needs. mqtt.Client
// satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTConfig names the topics a BLE gateway publishes to.
type MQTTConfig struct {
	NotifyTopic   string        // raw notification payloads
	ConfigTopic   string        // retained 8-byte handshake, optional
	DeviceName    string        // advertised name used when no handshake arrives
	HandshakeWait time.Duration // how long to wait on ConfigTopic
	QoS           byte
}

// MQTTConnector turns relayed BLE notifications into a link.
type MQTTConnector struct {
	client Subscriber
	cfg    MQTTConfig
	logger *slog.Logger
}

// NewMQTTConnector applies defaults to cfg.
func NewMQTTConnector(client Subscriber, cfg MQTTConfig, logger *slog.Logger) *MQTTConnector {
	if cfg.HandshakeWait <= 0 {
		cfg.HandshakeWait = DefaultHandshakeWait
	}
	return &MQTTConnector{client: client, cfg: cfg, logger: logger}
}

// Connect resolves the device configuration and subscribes to notifications.
func (c *MQTTConnector) Connect(ctx context.Context) (acquisition.Link, error) {
	if c.cfg.NotifyTopic == "" {
		return nil, errors.New("transport: mqtt notify topic not configured")
	}
	cfg, err := c.configuration(ctx)
	if err != nil {
		return nil, err
	}

	l := &mqttLink{
		client: c.client,
		topic:  c.cfg.NotifyTopic,
		cfg:    cfg,
		notes:  make(chan []byte, notificationBacklog),
		logger: c.logger,
	}
	if err := wait(c.client.Subscribe(c.cfg.NotifyTopic, c.cfg.QoS, l.handle)); err != nil {
		return nil, fmt.Errorf("transport: subscribe %s: %w", c.cfg.NotifyTopic, err)
	}

	c.logger.Info("mqtt relay connected",
		slog.String("topic", c.cfg.NotifyTopic),
		slog.String("device", cfg.Name),
		slog.Int("channels", cfg.ChannelCount),
	)
	return l, nil
}

// configuration waits for a handshake on ConfigTopic and falls back to the
// advertised device name.
func (c *MQTTConnector) configuration(ctx context.Context) (device.Configuration, error) {
	fallback := device.FromName(c.cfg.DeviceName)
	if c.cfg.ConfigTopic == "" {
		return fallback, nil
	}

	got := make(chan []byte, 1)
	handler := func(_ mqtt.Client, m mqtt.Message) {
		p := append([]byte(nil), m.Payload()...)
		select {
		case got <- p:
		default:
		}
	}
	if err := wait(c.client.Subscribe(c.cfg.ConfigTopic, c.cfg.QoS, handler)); err != nil {
		return device.Configuration{}, fmt.Errorf("transport: subscribe %s: %w", c.cfg.ConfigTopic, err)
	}
	defer func() {
		if err := wait(c.client.Unsubscribe(c.cfg.ConfigTopic)); err != nil {
			c.logger.Warn("unsubscribe failed", slog.String("topic", c.cfg.ConfigTopic), slog.String("error", err.Error()))
		}
	}()

	timer := time.NewTimer(c.cfg.HandshakeWait)
	defer timer.Stop()
	select {
	case p := <-got:
		cfg, err := device.ParseHandshake(p)
		if err != nil {
			c.logger.Warn("bad handshake, using device name", slog.String("error", err.Error()))
			return fallback, nil
		}
		cfg.Name = c.cfg.DeviceName
		cfg.HasBatteryChannel = fallback.HasBatteryChannel
		return cfg, nil
	case <-timer.C:
		c.logger.Info("no handshake received, using device name", slog.String("device", c.cfg.DeviceName))
		return fallback, nil
	case <-ctx.Done():
		return device.Configuration{}, ctx.Err()
	}
}

type mqttLink struct {
	client Subscriber
	topic  string
	cfg    device.Configuration
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	notes   chan []byte
	dropped atomic.Uint64
}

func (l *mqttLink) Configuration() device.Configuration { return l.cfg }

func (l *mqttLink) Run(ctx context.Context, s *acquisition.Session) error {
	return s.RunNotifications(ctx, l.notes)
}

// handle runs on the paho router goroutine and must not block.
func (l *mqttLink) handle(_ mqtt.Client, m mqtt.Message) {
	p := append([]byte(nil), m.Payload()...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.notes <- p:
	default:
		if n := l.dropped.Add(1); n == 1 || n%1000 == 0 {
			l.logger.Warn("notification backlog full", slog.Uint64("dropped", n))
		}
	}
}

func (l *mqttLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.notes)
	l.mu.Unlock()

	if err := wait(l.client.Unsubscribe(l.topic)); err != nil {
		return fmt.Errorf("transport: unsubscribe %s: %w", l.topic, err)
	}
	return nil
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(subscribeTimeout) {
		return errors.New("timed out")
	}
	return t.Error()
}
