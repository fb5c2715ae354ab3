package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/threshold/internal/infrastructure/ratelimit"
)

// KafkaConfig contains configuration for the abuse event writer
type KafkaConfig struct {
	Brokers      []string      `json:"brokers"`
	Topic        string        `json:"topic"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BatchTimeout time.Duration `json:"batch_timeout"`
	Compression  string        `json:"compression"`
}

// DefaultKafkaConfig returns defaults for low-volume event publishing
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		Topic:        "threshold.abuse",
		WriteTimeout: time.Second,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  "snappy",
	}
}

// messageWriter is the subset of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AbuseNotifier publishes ratelimit.AbuseEvent values as JSON, keyed by
// identity so every event for one identity lands on the same partition.
type AbuseNotifier struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

var _ ratelimit.AbuseNotifier = (*AbuseNotifier)(nil)

// NewAbuseNotifier creates a notifier writing to config.Topic.
func NewAbuseNotifier(config *KafkaConfig, logger *zap.Logger) *AbuseNotifier {
	if config == nil {
		config = DefaultKafkaConfig()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Compression:  compressionCodec(config.Compression),
	}
	return newAbuseNotifier(writer, config.Topic, logger)
}

func newAbuseNotifier(w messageWriter, topic string, logger *zap.Logger) *AbuseNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AbuseNotifier{writer: w, topic: topic, logger: logger}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

// Notify implements ratelimit.AbuseNotifier.
func (n *AbuseNotifier) Notify(ctx context.Context, event ratelimit.AbuseEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal abuse event: %w", err)
	}

	eventType := "warning"
	if event.Banned {
		eventType = "ban"
	}
	msg := kafka.Message{
		Key:   []byte(event.Identity),
		Value: data,
		Time:  time.Unix(event.At, 0),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.Error("Failed to publish abuse event",
			zap.Error(err),
			zap.String("topic", n.topic),
			zap.String("identity", event.Identity))
		return fmt.Errorf("publish abuse event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (n *AbuseNotifier) Close() error {
	return n.writer.Close()
}
