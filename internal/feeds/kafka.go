package feeds

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/semantic-news/backend/internal/models"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every entry as one message keyed by its link.
type KafkaSink struct {
	writer MessageWriter
	runID  string
}

// NewKafkaSink creates a sink that writes to topic on brokers.
func NewKafkaSink(brokers []string, topic, runID string) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     brokers,
		Topic:       topic,
		Balancer:    &kafka.Hash{},
		MaxAttempts: 3,
	})
	return NewKafkaSinkWithWriter(w, runID)
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter, runID string) *KafkaSink {
	return &KafkaSink{writer: w, runID: runID}
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Write implements Sink.
func (s *KafkaSink) Write(ctx context.Context, feedURL string, entries []models.Article) error {
	if len(entries) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Link()),
			Value: value,
			Headers: []kafka.Header{
				{Key: "feed_url", Value: []byte(feedURL)},
				{Key: "run_id", Value: []byte(s.runID)},
			},
		})
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d entries: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
