package outbox

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/mentorslots/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Sink receives events from stores that have no transactional outbox table.
// Delivery is fire-and-forget from the engine's point of view.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// KafkaSink writes each event straight to its topic.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(kafkax.SplitBrokers(brokers)...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Publish(ctx context.Context, evt Event) error {
	return s.writer.WriteMessages(ctx, message(ctx, uuid.NewString(), evt))
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink only logs events. Used when no broker is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Publish(_ context.Context, evt Event) error {
	s.Logger.Info("event emitted", "event_type", evt.EventType, "aggregate_id", evt.AggregateID, "bytes", len(evt.Payload))
	return nil
}

// MemorySink keeps events for inspection.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Publish(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
