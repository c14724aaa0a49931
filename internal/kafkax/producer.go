// Package kafkax publishes order lifecycle envelopes. Writes are synchronous
// with full acks: an outbox row is only marked sent once the broker has it.
package kafkax

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{}, // same key, same partition: per-order ordering
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 20 * time.Millisecond,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, payload []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: payload,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error { return p.w.Close() }
