package changelog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"smartdeals/internal/manifest"
	"smartdeals/internal/model"
)

// Delta is one accepted upsert. Generation is the catalog generation the
// write was made against.
type Delta struct {
	ID         string           `json:"id"`
	Seq        uint64           `json:"seq"`
	Generation uint64           `json:"generation"`
	Record     model.RawProduct `json:"record"`
	TS         int64            `json:"ts"`
}

type Writer interface {
	Append(d Delta) error
}

// Offsetter is implemented by writers that can report how many deltas they
// hold. The offset is what a manifest records as already covered.
type Offsetter interface {
	Offset() int64
}

// MultiWriter fans out writes to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(d Delta) error {
	for _, w := range m.writers {
		if err := w.Append(d); err != nil {
			return err
		}
	}
	return nil
}

// Offset reports the offset of the first writer that tracks one.
func (m *MultiWriter) Offset() int64 {
	for _, w := range m.writers {
		if o, ok := w.(Offsetter); ok {
			return o.Offset()
		}
	}
	return 0
}

// FileWriter appends deltas as JSON lines.
type FileWriter struct {
	mu     sync.Mutex
	path   string
	offset int64
}

// NewFileWriter opens (or creates) dir/filename and counts the lines already
// present so Offset continues where a previous process stopped.
func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	w := &FileWriter{path: filepath.Join(dir, filename)}
	n, err := CountFile(w.path)
	if err != nil {
		return nil, err
	}
	w.offset = n
	return w, nil
}

func (w *FileWriter) Path() string { return w.path }

func (w *FileWriter) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

func (w *FileWriter) Append(d Delta) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(&d); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	w.offset++
	return nil
}

// CountFile returns the number of deltas in a changelog file. A missing
// file holds none.
func CountFile(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open changelog: %w", err)
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), maxLine)
	var n int64
	for s.Scan() {
		n++
	}
	if err := s.Err(); err != nil {
		return 0, fmt.Errorf("scan changelog: %w", err)
	}
	return n, nil
}

// KafkaWriter publishes deltas to a Kafka topic. Pure-Go client (segmentio/kafka-go).
type KafkaWriter struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a Kafka writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(manifest.SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

func (k *KafkaWriter) Append(d Delta) error {
	b, err := json.Marshal(&d)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(
		context.Background(),
		kafka.Message{Key: []byte(d.ID), Value: b},
	)
}

// ApplyFunc applies one delta and reports whether it changed anything.
type ApplyFunc func(d Delta) (applied bool, err error)

type ReplayResult struct {
	Applied int
	Skipped int
	// Offset is the position after the last delta read.
	Offset int64
}

// Replayer feeds deltas after fromOffset to apply in log order.
type Replayer interface {
	Replay(ctx context.Context, fromOffset int64, apply ApplyFunc) (ReplayResult, error)
}

const maxLine = 4 << 20

// FileReplayer reads a JSON-lines changelog written by FileWriter.
type FileReplayer struct {
	path string
}

func NewFileReplayer(path string) *FileReplayer {
	return &FileReplayer{path: path}
}

// Replay skips the first fromOffset lines. A missing file replays nothing.
func (r *FileReplayer) Replay(ctx context.Context, fromOffset int64, apply ApplyFunc) (ReplayResult, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ReplayResult{Offset: fromOffset}, nil
		}
		return ReplayResult{}, fmt.Errorf("open changelog: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	res := ReplayResult{}
	var lineNum int64

	for scanner.Scan() {
		lineNum++
		if lineNum <= fromOffset {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Offset = lineNum - 1
			return res, err
		}

		var d Delta
		if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
			res.Offset = lineNum - 1
			return res, fmt.Errorf("unmarshal line %d: %w", lineNum, err)
		}
		ok, err := apply(d)
		if err != nil {
			res.Offset = lineNum - 1
			return res, fmt.Errorf("apply line %d: %w", lineNum, err)
		}
		if ok {
			res.Applied++
		} else {
			res.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("scan changelog: %w", err)
	}
	res.Offset = lineNum
	if res.Offset < fromOffset {
		res.Offset = fromOffset
	}
	return res, nil
}

// KafkaReplayer consumes deltas from partition 0 of a topic. fromOffset is a
// message index, matching what FileWriter counts.
type KafkaReplayer struct {
	brokers []string
	topic   string
	// Idle bounds how long to wait for the next message before treating the
	// topic as drained.
	Idle time.Duration
}

func NewKafkaReplayer(brokers []string, topic string) *KafkaReplayer {
	return &KafkaReplayer{brokers: brokers, topic: topic, Idle: 5 * time.Second}
}

func (k *KafkaReplayer) Replay(ctx context.Context, fromOffset int64, apply ApplyFunc) (ReplayResult, error) {
	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   k.brokers,
		Topic:     k.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer rd.Close()

	res := ReplayResult{}
	var idx int64
	for {
		readCtx, cancel := context.WithTimeout(ctx, k.Idle)
		m, err := rd.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				res.Offset = idx
				return res, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			res.Offset = idx
			return res, fmt.Errorf("read kafka: %w", err)
		}
		idx++
		if idx <= fromOffset {
			continue
		}
		var d Delta
		if err := json.Unmarshal(m.Value, &d); err != nil {
			res.Offset = idx - 1
			return res, fmt.Errorf("unmarshal delta: %w", err)
		}
		ok, err := apply(d)
		if err != nil {
			res.Offset = idx - 1
			return res, fmt.Errorf("apply: %w", err)
		}
		if ok {
			res.Applied++
		} else {
			res.Skipped++
		}
	}
	res.Offset = idx
	if res.Offset < fromOffset {
		res.Offset = fromOffset
	}
	return res, nil
}
