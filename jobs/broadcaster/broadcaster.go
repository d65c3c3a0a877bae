// Package broadcaster is a background job that drains the ledger
// outbox: pending events are published to Kafka and marked acked so
// the stream survives restarts without losing or reordering events.
package broadcaster

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"tally/infra/outbox"
)

type Broadcaster struct {
	box      *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      zerolog.Logger
}

func New(box *outbox.Outbox, brokers []string, topic string, interval time.Duration, log zerolog.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		box:      box,
		producer: producer,
		topic:    topic,
		interval: interval,
		log:      log,
	}, nil
}

// Run drains the outbox on a ticker until ctx ends. It blocks; run it
// on its own goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info().Str("topic", b.topic).Dur("interval", b.interval).Msg("broadcaster started")

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainOnce()
		}
	}
}

// drainOnce walks NEW and SENT events in id order. An event is marked
// SENT before the publish so a crash between publish and ack re-sends
// it; the stream is at-least-once and consumers dedupe on the event id.
func (b *Broadcaster) drainOnce() {
	err := b.box.ScanPending(func(id uint64, rec outbox.Record) error {
		if err := b.box.Mark(id, outbox.StateSent); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.log.Warn().Err(err).Uint64("id", id).Msg("publish failed, will retry")
			return nil
		}

		return b.box.Mark(id, outbox.StateAcked)
	})
	if err != nil {
		b.log.Error().Err(err).Msg("outbox scan failed")
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
