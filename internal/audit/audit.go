package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"notification-engine/internal/logging"
)

// Entity kinds written to the change log.
const (
	EntityDelivery = "delivery"
	EntitySeen     = "seen"
	EntityReminder = "reminder"
)

// Entry records one state transition.
type Entry struct {
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	Field    string    `json:"field"`
	Old      string    `json:"old,omitempty"`
	New      string    `json:"new,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Sink accepts change entries.
type Sink interface {
	LogChange(ctx context.Context, e Entry) error
}

// Recorder writes entries to a sink and swallows failures: the change log
// never fails the operation that produced it.
type Recorder struct {
	sink   Sink
	logger *logging.Logger
	now    func() time.Time
}

func NewRecorder(sink Sink, logger *logging.Logger) *Recorder {
	if sink == nil {
		sink = LogSink{logger: logger}
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil {
		return
	}
	if e.At.IsZero() {
		e.At = r.now()
	}
	if err := r.sink.LogChange(ctx, e); err != nil {
		r.logger.Warnf("Audit write failed for %s %s.%s: %v", e.Entity, e.EntityID, e.Field, err)
	}
}

// LogSink writes entries to the application log.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) LogSink {
	return LogSink{logger: logger}
}

func (s LogSink) LogChange(_ context.Context, e Entry) error {
	s.logger.Debugf("audit %s %s %s: %q -> %q (%s)", e.Entity, e.EntityID, e.Field, e.Old, e.New, e.Actor)
	return nil
}

// KafkaSink publishes entries as JSON keyed by entity id. Writes are
// asynchronous; delivery failures surface through the logger.
type KafkaSink struct {
	writer *kafka.Writer
	logger *logging.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *logging.Logger) *KafkaSink {
	s := &KafkaSink{logger: logger}
	s.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion:             s.completed,
	}
	return s
}

func (s *KafkaSink) completed(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range messages {
		s.logger.Warnf("Audit publish to %s failed for %s: %v", m.Topic, m.Key, err)
	}
}

func (s *KafkaSink) LogChange(ctx context.Context, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.EntityID), Value: value}); err != nil {
		return fmt.Errorf("failed to publish audit entry: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
