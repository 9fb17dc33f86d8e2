// Package events publishes job lifecycle events to Kafka so downstream
// consumers (alerting, audit) can follow ingestion runs without polling the
// job log. Publishing is optional: with no brokers configured the pipeline
// uses the no-op publisher.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/energy-data-ingest/internal/config"
	"github.com/couchcryptid/energy-data-ingest/internal/domain"
	"github.com/couchcryptid/energy-data-ingest/internal/store"
)

// JobEvent is one lifecycle transition of an ingestion job.
type JobEvent struct {
	JobID            int64           `json:"job_id"`
	JobName          string          `json:"job_name"`
	Source           domain.Source   `json:"source"`
	Status           store.JobStatus `json:"status"`
	RecordsProcessed int             `json:"records_processed"`
	RecordsInserted  int             `json:"records_inserted"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// Publisher emits job events. Implementations must be safe for concurrent
// use; the streaming manager publishes from one goroutine per source.
type Publisher interface {
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}

// NopPublisher discards events. Used when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, JobEvent) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// KafkaPublisher writes job events to one topic, keyed by job ID so all
// transitions of a job land in the same partition, in order.
type KafkaPublisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(cfg *config.Config, logger *slog.Logger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaJobTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event JobEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish job event for job %d: %w", event.JobID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func serializeToMessage(event JobEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize job event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.FormatInt(event.JobID, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(event.Source)},
			{Key: "status", Value: []byte(event.Status)},
		},
	}, nil
}
