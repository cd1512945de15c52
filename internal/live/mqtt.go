package live

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mtiwari1/exgstream/internal/sample"
)

const (
	// DefaultBatchSize rows go into one MQTT message.
	DefaultBatchSize = 25
	publishTimeout   = 5 * time.Second
)

// Publisher is the part of an MQTT client used for live output. mqtt.Client
// satisfies it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher batches rows and publishes them as JSON arrays of Frame.
type MQTTPublisher struct {
	client Publisher
	topic  string
	batch  int
	logger *slog.Logger

	mu      sync.Mutex
	pending []Frame

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewMQTTPublisher publishes to topic in groups of batch rows. A batch of
// zero or less uses DefaultBatchSize.
func NewMQTTPublisher(client Publisher, topic string, batch int, logger *slog.Logger) *MQTTPublisher {
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &MQTTPublisher{
		client:  client,
		topic:   topic,
		batch:   batch,
		logger:  logger,
		pending: make([]Frame, 0, batch),
	}
}

// Consume implements acquisition.Sink.
func (p *MQTTPublisher) Consume(row sample.Row) {
	if len(row) == 0 {
		return
	}
	p.mu.Lock()
	p.pending = append(p.pending, NewFrame(row))
	if len(p.pending) < p.batch {
		p.mu.Unlock()
		return
	}
	out := p.pending
	p.pending = make([]Frame, 0, p.batch)
	p.mu.Unlock()

	p.publish(out)
}

// Flush publishes any partial batch.
func (p *MQTTPublisher) Flush() {
	p.mu.Lock()
	out := p.pending
	p.pending = make([]Frame, 0, p.batch)
	p.mu.Unlock()

	if len(out) > 0 {
		p.publish(out)
	}
}

// Published is the number of messages handed to the client.
func (p *MQTTPublisher) Published() uint64 { return p.published.Load() }

// Failed is the number of messages the broker did not accept.
func (p *MQTTPublisher) Failed() uint64 { return p.failed.Load() }

func (p *MQTTPublisher) publish(frames []Frame) {
	payload, err := json.Marshal(frames)
	if err != nil {
		p.logger.Error("encode live batch", slog.String("error", err.Error()))
		return
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	p.published.Add(1)

	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.failed.Add(1)
			p.logger.Warn("live publish timed out", slog.String("topic", p.topic))
			return
		}
		if err := token.Error(); err != nil {
			p.failed.Add(1)
			p.logger.Warn("live publish failed",
				slog.String("topic", p.topic),
				slog.String("error", err.Error()),
			)
		}
	}()
}
