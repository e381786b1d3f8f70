package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/boristopalov/bca/pkg/messaging"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a writer hashing messages by run ID so a run stays
// on one partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// KafkaPublisher streams snapshots as JSON messages keyed by run ID.
type KafkaPublisher struct {
	w MessageWriter
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) WriteSnapshot(ctx context.Context, snap messaging.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	ts := snap.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(snap.RunID), Value: b, Time: ts})
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
