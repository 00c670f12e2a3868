// Command normalizer relays raw product records from one Kafka topic to
// another as canonical products, one transaction per input message.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"smartdeals/internal/config"
	"smartdeals/internal/logging"
	"smartdeals/internal/metrics"
	"smartdeals/internal/model"
	"smartdeals/internal/normalize"
	"smartdeals/internal/reconcile"
	"smartdeals/internal/snapshot"
)

type options struct {
	bootstrap string
	groupID   string
	topicIn   string
	topicOut  string
	txID      string
	idMode    normalize.IDMode
	filter    bool
	httpAddr  string
}

func main() {
	if err := config.LoadDotenv(); err != nil {
		zlog.Fatal().Err(err).Msg("load .env")
	}
	var (
		o        options
		idMode   string
		logLevel string
	)
	flag.StringVar(&o.bootstrap, "bootstrap", config.String("SDP_KAFKA_BOOTSTRAP", "localhost:19092"), "kafka bootstrap servers")
	flag.StringVar(&o.groupID, "group-id", config.String("SDP_NORMALIZER_GROUP", "smartdeals-normalizer"), "consumer group id")
	flag.StringVar(&o.topicIn, "topic-in", config.String("SDP_TOPIC_RAW", "smartdeals.products.raw"), "input topic of raw records or snapshots")
	flag.StringVar(&o.topicOut, "topic-out", config.String("SDP_TOPIC_CANONICAL", "smartdeals.products"), "output topic of canonical products")
	flag.StringVar(&o.txID, "tx-id", config.String("SDP_NORMALIZER_TX_ID", "smartdeals-normalizer-1"), "transactional id")
	flag.StringVar(&idMode, "id-mode", config.String("SDP_ID_MODE", "content"), "id mode: content|salted")
	flag.BoolVar(&o.filter, "filter-placeholders", config.Bool("SDP_FILTER_PLACEHOLDERS", true), "drop demo and placeholder records")
	flag.StringVar(&o.httpAddr, "http", config.String("SDP_NORMALIZER_HTTP", ":9091"), "http listen for /metrics")
	flag.StringVar(&logLevel, "log-level", config.String("SDP_LOG_LEVEL", "info"), "log level")
	flag.Parse()

	log, err := logging.Setup("normalizer", logLevel, config.String("SDP_LOG_FORMAT", "console"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("logging")
	}
	mode, err := normalize.ParseIDMode(idMode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid id mode")
	}
	o.idMode = mode

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, o, log); err != nil {
		log.Fatal().Err(err).Msg("normalizer failed")
	}
}

func run(ctx context.Context, o options, log zerolog.Logger) error {
	mreg := metrics.NewRegistry()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", mreg.Handler())
		if err := http.ListenAndServe(o.httpAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", o.httpAddr).Msg("metrics listener failed")
		}
	}()

	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":   o.bootstrap,
		"enable.idempotence":  true,
		"acks":                "all",
		"transactional.id":    o.txID,
		"go.delivery.reports": false,
	})
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	defer p.Close()

	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  o.bootstrap,
		"group.id":           o.groupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	defer c.Close()

	if err := c.SubscribeTopics([]string{o.topicIn}, nil); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := p.InitTransactions(ctx); err != nil {
		return fmt.Errorf("init tx: %w", err)
	}
	log.Info().Str("in", o.topicIn).Str("out", o.topicOut).Str("id_mode", string(o.idMode)).Msg("normalizer started")

	r := &relay{
		consumer: c,
		producer: p,
		norm:     normalize.New(o.idMode),
		topicOut: o.topicOut,
		filter:   o.filter,
		metrics:  mreg,
		log:      log,
	}
	for ctx.Err() == nil {
		if err := r.step(ctx); err != nil {
			return err
		}
	}
	log.Info().Msg("normalizer stopped")
	return nil
}

// relayConsumer is the part of *ck.Consumer the relay needs. Offsets are
// never committed by the consumer itself; they travel inside the producer
// transaction.
type relayConsumer interface {
	ReadMessage(timeout time.Duration) (*ck.Message, error)
	Assignment() ([]ck.TopicPartition, error)
	Position(partitions []ck.TopicPartition) ([]ck.TopicPartition, error)
	Committed(partitions []ck.TopicPartition, timeoutMs int) ([]ck.TopicPartition, error)
	Seek(partition ck.TopicPartition, ignoredTimeoutMs int) error
	GetConsumerGroupMetadata() (*ck.ConsumerGroupMetadata, error)
}

type relayProducer interface {
	BeginTransaction() error
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
	SendOffsetsToTransaction(ctx context.Context, offsets []ck.TopicPartition, meta *ck.ConsumerGroupMetadata) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
}

type relay struct {
	consumer relayConsumer
	producer relayProducer
	norm     *normalize.Normalizer
	topicOut string
	filter   bool
	metrics  *metrics.Registry
	log      zerolog.Logger
}

const readTimeout = 5 * time.Second

// step relays at most one input message. It returns an error only when the
// relay cannot continue (fatal client error or a failed abort).
func (r *relay) step(ctx context.Context) error {
	// Read first so no transaction is opened when there is no input.
	msg, err := r.consumer.ReadMessage(readTimeout)
	if err != nil {
		var kerr ck.Error
		if errors.As(err, &kerr) {
			if kerr.Code() == ck.ErrTimedOut {
				return nil
			}
			if kerr.IsFatal() {
				return fmt.Errorf("consume: %w", err)
			}
		}
		r.log.Warn().Err(err).Msg("consume failed")
		return nil
	}

	products, dropped, err := transform(r.norm.Batch(), msg.Value, r.filter)
	if err != nil {
		// The offset still moves forward inside the transaction below so a
		// poison message is not redelivered forever.
		r.log.Warn().Err(err).Str("key", string(msg.Key)).Msg("skipping undecodable message")
		products = nil
	}
	if dropped > 0 {
		r.log.Debug().Int("dropped", dropped).Msg("records dropped")
	}

	t0 := time.Now()
	if err := r.producer.BeginTransaction(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := r.commit(ctx, products); err != nil {
		return r.abort(ctx, err)
	}
	r.metrics.TxProduced.Inc()
	r.metrics.TxLatencySec.Observe(time.Since(t0).Seconds())
	return nil
}

func (r *relay) commit(ctx context.Context, products []model.Product) error {
	if err := produceAll(r.producer, r.topicOut, products); err != nil {
		return fmt.Errorf("produce: %w", err)
	}
	offsets, err := r.positions()
	if err != nil {
		return err
	}
	meta, err := r.consumer.GetConsumerGroupMetadata()
	if err != nil {
		return fmt.Errorf("group metadata: %w", err)
	}
	if err := r.producer.SendOffsetsToTransaction(ctx, offsets, meta); err != nil {
		return fmt.Errorf("send offsets: %w", err)
	}
	if err := r.producer.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// positions returns the next offsets to consume for every assigned partition
// that has one.
func (r *relay) positions() ([]ck.TopicPartition, error) {
	assigned, err := r.consumer.Assignment()
	if err != nil {
		return nil, fmt.Errorf("assignment: %w", err)
	}
	pos, err := r.consumer.Position(assigned)
	if err != nil {
		return nil, fmt.Errorf("position: %w", err)
	}
	out := pos[:0]
	for _, tp := range pos {
		if tp.Offset >= 0 {
			out = append(out, tp)
		}
	}
	return out, nil
}

// abort rolls the transaction back and rewinds the consumer to the last
// committed offsets so the aborted input is read again.
func (r *relay) abort(ctx context.Context, cause error) error {
	var kerr ck.Error
	if errors.As(cause, &kerr) && kerr.IsFatal() {
		return fmt.Errorf("relay: %w", cause)
	}
	r.log.Warn().Err(cause).Msg("transaction failed, aborting")
	r.metrics.TxAborted.Inc()
	if err := r.producer.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("abort tx: %w", err)
	}
	return r.rewind()
}

func (r *relay) rewind() error {
	assigned, err := r.consumer.Assignment()
	if err != nil {
		return fmt.Errorf("assignment: %w", err)
	}
	committed, err := r.consumer.Committed(assigned, 5000)
	if err != nil {
		return fmt.Errorf("committed offsets: %w", err)
	}
	for _, tp := range committed {
		if tp.Offset < 0 {
			tp.Offset = ck.OffsetBeginning
		}
		if err := r.consumer.Seek(tp, -1); err != nil {
			return fmt.Errorf("seek %s[%d]: %w", *tp.Topic, tp.Partition, err)
		}
	}
	return nil
}

func produceAll(p relayProducer, topic string, products []model.Product) error {
	for _, prod := range products {
		val, err := json.Marshal(prod)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", prod.ID, err)
		}
		if err := p.Produce(&ck.Message{TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny}, Key: []byte(prod.ID), Value: val}, nil); err != nil {
			return err
		}
	}
	return nil
}

var errEmpty = errors.New("empty message")

// transform decodes a message holding either one raw record or an array of
// them and returns the canonical products in input order.
func transform(b *normalize.Batch, value []byte, filter bool) ([]model.Product, int, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, 0, errEmpty
	}
	var (
		raws    []model.RawProduct
		dropped int
	)
	if value[0] == '[' {
		var err error
		raws, dropped, err = snapshot.DecodeRecords(value)
		if err != nil {
			return nil, 0, err
		}
	} else {
		var r model.RawProduct
		if err := json.Unmarshal(value, &r); err != nil {
			return nil, 0, err
		}
		raws = []model.RawProduct{r}
	}
	if filter {
		usable := reconcile.Usable(raws)
		dropped += len(raws) - len(usable)
		raws = usable
	}
	out := make([]model.Product, 0, len(raws))
	for _, r := range raws {
		p, err := b.Normalize(r)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, p)
	}
	return out, dropped, nil
}
