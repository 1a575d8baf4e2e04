// Package kafka publishes pipeline events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/techtrend/internal/notify"
)

// Config lists the brokers and the topic prefix for published events.
type Config struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	MaxAttempts int      `mapstructure:"max_attempts"`
}

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per event. The topic is set per message so a
// single writer serves every event kind.
type Publisher struct {
	writer MessageWriter
	prefix string
}

// New builds a publisher over a kafka.Writer for the configured brokers.
func New(cfg Config) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            attempts,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return NewWithWriter(w, cfg.TopicPrefix), nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w MessageWriter, prefix string) *Publisher {
	return &Publisher{writer: w, prefix: prefix}
}

// Publish marshals the payload to JSON and writes it keyed by run ID when the
// payload carries one.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := notify.AttributeCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, attrs)
	headers := make([]kafka.Header, 0, len(attrs))
	for k, v := range attrs {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	key := runID(payload)
	msg := kafka.Message{
		Topic:   p.prefix + topic,
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return key, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func runID(payload any) string {
	switch ev := payload.(type) {
	case notify.IngestCompleted:
		return ev.RunID
	case notify.StatisticsComputed:
		return ev.RunID
	default:
		return ""
	}
}
