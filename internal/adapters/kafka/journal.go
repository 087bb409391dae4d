package kafka

import (
	"context"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/EvaLM99/PictText/internal/realtime"
)

const journalQueueDepth = 1024

// Journal appends persisted-state mutation events to a Kafka topic for
// external consumers (analytics, search indexing). Appends never block the
// fan-out path; a full queue drops the copy and logs it.
type Journal struct {
	producer sarama.SyncProducer
	topic    string
	in       chan *realtime.Event
	logger   *slog.Logger
}

func NewJournal(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Journal {
	return &Journal{
		producer: producer,
		topic:    topic,
		in:       make(chan *realtime.Event, journalQueueDepth),
		logger:   logger,
	}
}

// Append enqueues the event for journaling.
func (j *Journal) Append(event *realtime.Event) {
	select {
	case j.in <- event:
	default:
		j.logger.Warn("Journal queue full, dropping event", "kind", event.Kind)
	}
}

// Run drains the queue until the context is cancelled. Send failures are
// logged and dropped; the journal is an observer, never a gate.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case event := <-j.in:
			data, err := event.Encode()
			if err != nil {
				j.logger.Error("Failed to encode journal event", "kind", event.Kind, "error", err)
				continue
			}
			msg := &sarama.ProducerMessage{
				Topic: j.topic,
				Key:   sarama.StringEncoder(event.Kind),
				Value: sarama.ByteEncoder(data),
			}
			if _, _, err := j.producer.SendMessage(msg); err != nil {
				j.logger.Error("Failed to journal event", "kind", event.Kind, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the underlying producer.
func (j *Journal) Close() error {
	return j.producer.Close()
}
