package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-telemetry-api/internal/config"
	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
)

// Writer publishes weather points to the live feed topic.
// It implements pipeline.BatchPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured live feed topic.
// Messages are keyed by device id, so the hash balancer keeps each device's
// readings ordered within one partition.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishBatch serializes and publishes points in a single WriteMessages call.
func (w *Writer) PublishBatch(ctx context.Context, points []domain.WeatherPoint) error {
	if len(points) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(points))
	for i := range points {
		msg, err := serializeToMessage(points[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d points: %w", len(msgs), err)
	}
	w.logger.Debug("points published", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a WeatherPoint into a Kafka message.
func serializeToMessage(p domain.WeatherPoint) (kafkago.Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize weather point: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(p.Metadata.DeviceID),
		Value: data,
		Time:  p.Metadata.Timestamp,
		Headers: []kafkago.Header{
			{Key: "family", Value: []byte(p.Family().String())},
			{Key: "recorded_at", Value: []byte(p.Metadata.Timestamp.UTC().Format(time.RFC3339))},
		},
	}, nil
}
