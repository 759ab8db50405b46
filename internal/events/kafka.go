package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/pitabwire/eapp/internal/config"
	"github.com/pitabwire/eapp/internal/observability"
)

// producer is the subset of *kgo.Client the publisher uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// KafkaPublisher publishes events to a Kafka topic with franz-go. Records are
// keyed by application id so every event for one application lands on the
// same partition.
type KafkaPublisher struct {
	client producer
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher connects a producer to the configured brokers.
func NewKafkaPublisher(cfg config.EventsConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("events: create kafka client: %w", err)
	}
	return newKafkaPublisher(client, cfg.Topic, logger), nil
}

func newKafkaPublisher(client producer, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}
}

// Publish produces the event and waits for the broker acknowledgment.
func (p *KafkaPublisher) Publish(ctx context.Context, event SubmittedEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.ApplicationID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "schema_version", Value: []byte(event.SchemaVersion)},
			{Key: "submission_id", Value: []byte(event.SubmissionID)},
		},
	}
	observability.InjectTraceHeaders(ctx, recordCarrier{headers: &record.Headers})

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("topic", p.topic),
			zap.String("application_id", event.ApplicationID),
			zap.Error(err),
		)
		return fmt.Errorf("events: produce %s: %w", event.Type, err)
	}

	p.logger.Debug("event published",
		zap.String("topic", p.topic),
		zap.String("type", event.Type),
		zap.String("application_id", event.ApplicationID),
	)
	return nil
}

// HealthCheck pings the seed brokers.
func (p *KafkaPublisher) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close closes the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// recordCarrier adapts kgo record headers to a propagation.TextMapCarrier.
type recordCarrier struct {
	headers *[]kgo.RecordHeader
}

func (c recordCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c recordCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
}

func (c recordCarrier) Keys() []string {
	keys := make([]string, len(*c.headers))
	for i, h := range *c.headers {
		keys[i] = h.Key
	}
	return keys
}
