// Package broadcaster implements a background job that periodically
// scans the census store for unacknowledged cycle summaries and
// publishes them to Kafka.
package broadcaster

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"loam/infra/census"

	"github.com/IBM/sarama"
)

type Broadcaster struct {
	store    *census.Store
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
}

// Event is the published cycle summary.
type Event struct {
	V              int    `json:"v"`
	Type           string `json:"type"`
	Seq            uint64 `json:"seq"`
	Kind           uint8  `json:"kind"`
	DurationNanos  int64  `json:"duration_nanos"`
	PauseNanos     int64  `json:"pause_nanos"`
	BytesPromoted  uint64 `json:"bytes_promoted"`
	BytesCopied    uint64 `json:"bytes_copied"`
	BytesReclaimed uint64 `json:"bytes_reclaimed"`
	LiveBytes      uint64 `json:"live_bytes"`
}

func New(
	store *census.Store,
	brokers []string,
	topic string,
) (*Broadcaster, error) {

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &Broadcaster{
		store:    store,
		producer: producer,
		topic:    topic,
		interval: 250 * time.Millisecond,
	}, nil
}

func (b *Broadcaster) Start(ctx context.Context) {
	log.Println("[broadcaster] started")

	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				b.publishPending()
			}
		}
	}()
}

// publishPending drains the outbox: each pending summary is marked
// SENT before the publish attempt, so a crash between send and ack
// replays the record rather than losing it.
func (b *Broadcaster) publishPending() {
	_ = b.store.ScanPending(func(seq uint64, rec census.Record) error {
		_ = b.store.MarkSent(seq)

		payload, err := json.Marshal(eventFor(seq, rec))
		if err != nil {
			return nil
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(strconv.FormatUint(seq, 10)),
			Value: sarama.ByteEncoder(payload),
		}

		if _, _, err := b.producer.SendMessage(msg); err != nil {
			_ = b.store.MarkFailed(seq)
			return nil // retry next tick
		}

		_ = b.store.MarkAcked(seq)
		_ = b.store.Delete(seq)
		return nil
	})
}

func eventFor(seq uint64, rec census.Record) Event {
	return Event{
		V:              1,
		Type:           "gc.cycle",
		Seq:            seq,
		Kind:           rec.Kind,
		DurationNanos:  rec.DurationNanos,
		PauseNanos:     rec.PauseNanos,
		BytesPromoted:  rec.BytesPromoted,
		BytesCopied:    rec.BytesCopied,
		BytesReclaimed: rec.BytesReclaimed,
		LiveBytes:      rec.LiveBytes,
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
