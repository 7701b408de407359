package kafka

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gfsweather/gfs-etl-service/internal/config"
	"github.com/gfsweather/gfs-etl-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes object-key notifications from the source topic.
// It implements pipeline.Extractor.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a Kafka consumer for the configured notification topic.
// Offsets are committed explicitly through Notification.Commit, never on
// fetch.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        cfg.KafkaGroupID,
		Topic:          cfg.KafkaTopic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // synchronous commits
	})
	return &Reader{reader: r, logger: logger}
}

// Extract blocks until the next notification arrives or the context is
// cancelled.
func (r *Reader) Extract(ctx context.Context) (domain.Notification, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.Notification{}, err
	}

	n := mapMessage(msg)
	n.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return n, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessage converts a Kafka message into a notification. The message value
// is the bare object key.
func mapMessage(msg kafkago.Message) domain.Notification {
	return domain.Notification{
		Key:       strings.TrimSpace(string(msg.Value)),
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
