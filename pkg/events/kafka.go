package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"persistenceai/pkg/logger"
	"persistenceai/pkg/validator"
)

const flushTimeout = 5 * time.Second

// KafkaPublisher produces events to a single topic. Records are keyed by
// the directory digest so every event for one directory lands on the same
// partition in order.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger logger.Logger
}

// KafkaOption configures a KafkaPublisher.
type KafkaOption func(*KafkaPublisher)

func WithKafkaLogger(l logger.Logger) KafkaOption {
	return func(p *KafkaPublisher) {
		p.logger = l
	}
}

// NewKafkaPublisher connects lazily; the first produce or Ping dials the
// seed brokers.
func NewKafkaPublisher(brokers []string, topic string, opts ...KafkaOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher: no brokers")
	}
	if err := validator.ValidateTopic(topic); err != nil {
		return nil, fmt.Errorf("kafka publisher: topic %q: %w", topic, err)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}

	p := &KafkaPublisher{
		client: client,
		topic:  topic,
		logger: logger.Nop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish produces asynchronously; failures are logged from the callback.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	record, err := p.record(ev)
	if err != nil {
		return err
	}

	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Error(context.Background(), "produce lifecycle event",
				logger.Err(err),
				logger.Field{Key: "topic", Value: r.Topic},
				logger.Field{Key: "event_type", Value: ev.Type},
				logger.Field{Key: "session_id", Value: ev.SessionID},
			)
		}
	})
	return nil
}

func (p *KafkaPublisher) record(ev Event) (*kgo.Record, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.KeyDigest),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
		Timestamp: ev.OccurredAt,
	}, nil
}

// Ping checks that at least one broker answers.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records, then closes the client.
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		return fmt.Errorf("flush lifecycle events: %w", err)
	}
	return nil
}
