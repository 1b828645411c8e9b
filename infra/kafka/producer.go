// Package kafka publishes heap telemetry to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Send(
	ctx context.Context,
	key []byte,
	value []byte,
) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

// SendEvent publishes a JSON-encoded telemetry event keyed by cycle
// sequence, so consumers see one partition ordering per heap.
func (p *Producer) SendEvent(ctx context.Context, seq uint64, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Send(ctx, []byte(strconv.FormatUint(seq, 10)), value)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
