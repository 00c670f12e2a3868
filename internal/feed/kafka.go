package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"smartdeals/internal/model"
	"smartdeals/internal/snapshot"
)

// kafkaMessageReader abstracts kafka.Reader for testability.
type kafkaMessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaFeed treats every message on a topic as a full catalog snapshot.
// Readiness resolves with the first decodable message.
type KafkaFeed struct {
	reader kafkaMessageReader
	ready  *Readiness
	log    zerolog.Logger

	mu     sync.Mutex
	latest []model.RawProduct
}

// NewKafkaFeed reads topic from the beginning when groupID is empty, so the
// latest retained snapshot of a compacted topic is delivered on startup.
func NewKafkaFeed(brokers []string, topic, groupID string, log zerolog.Logger) *KafkaFeed {
	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if groupID != "" {
		cfg.GroupID = groupID
	} else {
		cfg.Partition = 0
		cfg.StartOffset = kafka.FirstOffset
	}
	return NewKafkaFeedWith(kafka.NewReader(cfg), log)
}

// NewKafkaFeedWith is only for tests to inject a fake reader.
func NewKafkaFeedWith(r kafkaMessageReader, log zerolog.Logger) *KafkaFeed {
	return &KafkaFeed{reader: r, ready: NewReadiness(), log: log.With().Str("feed", "kafka").Logger()}
}

func (k *KafkaFeed) Ready() <-chan struct{} { return k.ready.Done() }

// Fetch returns the last snapshot seen by Watch.
func (k *KafkaFeed) Fetch(ctx context.Context) ([]model.RawProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.latest == nil {
		return nil, ErrNotReady
	}
	out := make([]model.RawProduct, len(k.latest))
	copy(out, k.latest)
	return out, nil
}

// Watch consumes until ctx ends or the reader fails. Undecodable messages are
// logged and skipped.
func (k *KafkaFeed) Watch(ctx context.Context, fn func([]model.RawProduct)) error {
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read kafka: %w", ErrUnavailable, err)
		}
		records, dropped, err := snapshot.DecodeRecords(m.Value)
		if err != nil {
			k.log.Warn().Err(err).Int64("offset", m.Offset).Msg("skipping undecodable snapshot")
			continue
		}
		if dropped > 0 {
			k.log.Debug().Int("dropped", dropped).Int64("offset", m.Offset).Msg("malformed records in snapshot")
		}
		k.mu.Lock()
		k.latest = records
		k.mu.Unlock()
		k.ready.Resolve()
		fn(records)
	}
}

func (k *KafkaFeed) Close() error { return k.reader.Close() }
