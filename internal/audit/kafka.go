package audit

import (
	"context"
	"encoding/json"

	"coin-price-proxy/internal/config"
	"coin-price-proxy/internal/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer the mirror needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer for the configured audit topic.
func NewKafkaWriter(cfg *config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// KafkaMirror publishes every record its inner Recorder accepted.
// Publishing is best-effort: a failed publish is logged and the append still succeeds.
type KafkaMirror struct {
	next   Recorder
	writer MessageWriter
	logger *zap.Logger
}

var _ Recorder = (*KafkaMirror)(nil)

// NewKafkaMirror wraps next.
func NewKafkaMirror(next Recorder, writer MessageWriter, logger *zap.Logger) *KafkaMirror {
	return &KafkaMirror{next: next, writer: writer, logger: logger.Named("audit-mirror")}
}

func (m *KafkaMirror) Append(ctx context.Context, record models.QuoteRecord) (uint, error) {
	id, err := m.next.Append(ctx, record)
	if err != nil {
		return 0, err
	}
	record.ID = id

	value, err := json.Marshal(record)
	if err != nil {
		m.logger.Warn("Failed to encode quote record", zap.Uint("record_id", id), zap.Error(err))
		return id, nil
	}

	// Keyed by coin so one coin's quotes stay ordered within a partition.
	if err := m.writer.WriteMessages(ctx, kafka.Message{Key: []byte(record.CoinID), Value: value}); err != nil {
		m.logger.Warn("Failed to publish quote record", zap.Uint("record_id", id), zap.String("coin_id", record.CoinID), zap.Error(err))
	}
	return id, nil
}

// Close closes the writer.
func (m *KafkaMirror) Close() error {
	return m.writer.Close()
}
