package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"smartdeals/internal/persist"
	"smartdeals/internal/snapshot"
)

// Manifest records the last accepted catalog snapshot.
type Manifest struct {
	SnapshotID           string `json:"snapshotId"`
	Source               string `json:"source"`
	Count                int    `json:"count"`
	Generation           uint64 `json:"generation"`
	ChangelogOffset      int64  `json:"changelogOffset"`
	CreatedAtEpochSecond int64  `json:"createdAt"`
}

// ErrNoManifest is returned when nothing has been published yet.
var ErrNoManifest = errors.New("no manifest published")

// New stamps a manifest with a fresh snapshot id.
func New(source string, count int, generation uint64, changelogOffset int64, now time.Time) Manifest {
	return Manifest{
		SnapshotID:           uuid.NewString(),
		Source:               source,
		Count:                count,
		Generation:           generation,
		ChangelogOffset:      changelogOffset,
		CreatedAtEpochSecond: now.UTC().Unix(),
	}
}

// CreatedAt returns the publish time.
func (m Manifest) CreatedAt() time.Time {
	return time.Unix(m.CreatedAtEpochSecond, 0).UTC()
}

type Publisher interface {
	PublishLatest(m Manifest) error
}

type Reader interface {
	ReadLatest() (Manifest, error)
}

// MultiPublisher writes to multiple publishers sequentially.
type MultiPublisherImpl struct {
	pubs []Publisher
}

func MultiPublisher(pubs ...Publisher) Publisher {
	return &MultiPublisherImpl{pubs: pubs}
}

func (m *MultiPublisherImpl) PublishLatest(man Manifest) error {
	for _, p := range m.pubs {
		if err := p.PublishLatest(man); err != nil {
			return err
		}
	}
	return nil
}

// StoreManifest keeps the latest manifest under a single persistence key.
type StoreManifest struct {
	kv  persist.Store
	key string
}

func NewStoreManifest(kv persist.Store) *StoreManifest {
	return &StoreManifest{kv: kv, key: snapshot.KeyLastUpdate}
}

func (s *StoreManifest) PublishLatest(m Manifest) error {
	if m.CreatedAtEpochSecond == 0 {
		m.CreatedAtEpochSecond = time.Now().UTC().Unix()
	}
	b, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := s.kv.Write(s.key, b); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (s *StoreManifest) ReadLatest() (Manifest, error) {
	data, ok, err := s.kv.Read(s.key)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	if !ok {
		return Manifest{}, ErrNoManifest
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// KafkaManifest publishes the latest manifest as a compacted Kafka record.
type KafkaManifest struct {
	writer kafkaMessageWriter
	key    []byte
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DefaultKafkaKey is the record key the manifest is compacted under.
const DefaultKafkaKey = "smartdeals-manifest-latest"

// NewKafkaManifest creates a Kafka manifest publisher.
// bootstrap can be comma-separated brokers.
func NewKafkaManifest(bootstrap string, topic string, key string) *KafkaManifest {
	return &KafkaManifest{writer: &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}, key: []byte(key)}
}

// NewKafkaManifestWith is only for tests to inject a fake writer.
func NewKafkaManifestWith(w kafkaMessageWriter, key string) *KafkaManifest {
	return &KafkaManifest{writer: w, key: []byte(key)}
}

func (k *KafkaManifest) PublishLatest(m Manifest) error {
	if m.CreatedAtEpochSecond == 0 {
		m.CreatedAtEpochSecond = time.Now().UTC().Unix()
	}
	b, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(context.Background(), kafka.Message{Key: k.key, Value: b})
}

// KafkaReader reads the latest manifest record from a compacted topic.
type KafkaReader struct {
	brokers []string
	topic   string
	key     []byte
	timeout time.Duration
}

func NewKafkaReader(brokers []string, topic string, key string) *KafkaReader {
	return &KafkaReader{brokers: brokers, topic: topic, key: []byte(key), timeout: 10 * time.Second}
}

// ReadLatest scans partition 0 from the beginning and keeps the last record
// for the key. Fine for compacted topics, slow for anything else.
func (k *KafkaReader) ReadLatest() (Manifest, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   k.brokers,
		Topic:     k.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	var last Manifest
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return Manifest{}, fmt.Errorf("read kafka: %w", err)
		}
		if string(m.Key) != string(k.key) {
			continue
		}
		var man Manifest
		if err := json.Unmarshal(m.Value, &man); err != nil {
			return Manifest{}, fmt.Errorf("unmarshal kafka manifest: %w", err)
		}
		last = man
	}
	if last.SnapshotID == "" {
		return Manifest{}, ErrNoManifest
	}
	return last, nil
}

// SplitBrokers parses a comma-separated broker list.
func SplitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}
