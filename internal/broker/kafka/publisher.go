// Package kafka publishes the engine event log to Kafka for downstream
// indexers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a Publisher.
type Config struct {
	Brokers []string
	Topic   string
	// TopicByPrefix routes event kinds with a matching prefix to another
	// topic, e.g. {"prediction.": "creatormarket.predictions"}.
	TopicByPrefix map[string]string
}

// Publisher implements domain.EventSink. Messages are keyed by the entity the
// event concerns so per-prediction and per-ledger ordering is preserved.
type Publisher struct {
	writer   messageWriter
	topic    string
	prefixes map[string]string
}

var _ domain.EventSink = (*Publisher)(nil)

// NewPublisher creates a Publisher writing with acks from all replicas.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: publisher requires a topic")
	}
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, cfg), nil
}

func newPublisher(w messageWriter, cfg Config) *Publisher {
	return &Publisher{writer: w, topic: cfg.Topic, prefixes: cfg.TopicByPrefix}
}

// Name implements domain.EventSink.
func (p *Publisher) Name() string { return "kafka" }

// Handle implements domain.EventSink.
func (p *Publisher) Handle(ctx context.Context, ev domain.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal event %d: %w", ev.ID, err)
	}
	msg := kafka.Message{
		Topic: p.topicFor(ev.Kind),
		Key:   []byte(partitionKey(ev)),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_kind", Value: []byte(ev.Kind)},
			{Key: "event_id", Value: []byte(fmt.Sprint(ev.ID))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish event %d: %w", ev.ID, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) topicFor(kind domain.EventKind) string {
	best := ""
	for prefix, topic := range p.prefixes {
		if strings.HasPrefix(string(kind), prefix) && len(prefix) > len(best) && topic != "" {
			best = prefix
		}
	}
	if best == "" {
		return p.topic
	}
	return p.prefixes[best]
}

// partitionKey picks the prediction, ledger or creator the event concerns,
// falling back to the event's component.
func partitionKey(ev domain.Event) string {
	component, _, _ := strings.Cut(string(ev.Kind), ".")
	if component == "prediction" {
		if id, ok := ev.Payload["id"]; ok {
			return fmt.Sprintf("prediction:%v", id)
		}
	}
	for _, field := range []string{"ledger", "creator"} {
		if v, ok := ev.Payload[field].(string); ok && v != "" {
			return field + ":" + v
		}
	}
	return component
}
