// Package feed provides the remote product sources the catalog reconciles
// against. Every feed resolves a one-shot readiness signal once it can serve
// Fetch; push feeds also deliver snapshots through Watch.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"smartdeals/internal/manifest"
	"smartdeals/internal/model"
)

var (
	// ErrUnavailable means the source could not be reached or returned garbage.
	ErrUnavailable = errors.New("feed unavailable")
	// ErrNotReady means the source has not delivered anything yet.
	ErrNotReady = errors.New("feed not ready")
)

type Feed interface {
	// Ready is closed once the feed can serve Fetch.
	Ready() <-chan struct{}
	Fetch(ctx context.Context) ([]model.RawProduct, error)
}

// Watcher is implemented by push feeds. fn runs once per delivered snapshot,
// in arrival order, on the watching goroutine.
type Watcher interface {
	Watch(ctx context.Context, fn func([]model.RawProduct)) error
}

// Readiness is a future resolved at most once.
type Readiness struct {
	once sync.Once
	ch   chan struct{}
}

func NewReadiness() *Readiness {
	return &Readiness{ch: make(chan struct{})}
}

// Resolved returns an already resolved future.
func Resolved() *Readiness {
	r := NewReadiness()
	r.Resolve()
	return r
}

func (r *Readiness) Resolve() { r.once.Do(func() { close(r.ch) }) }

func (r *Readiness) Done() <-chan struct{} { return r.ch }

// IsResolved reports whether Resolve has been called.
func (r *Readiness) IsResolved() bool {
	select {
	case <-r.ch:
		return true
	default:
		return false
	}
}

// StaticFeed serves a fixed list, or Err when set.
type StaticFeed struct {
	Records   []model.RawProduct
	Err       error
	Readiness *Readiness
}

func NewStatic(records []model.RawProduct) *StaticFeed {
	return &StaticFeed{Records: records, Readiness: Resolved()}
}

// Unavailable returns a feed that is ready but always fails.
func Unavailable() *StaticFeed {
	return &StaticFeed{Err: ErrUnavailable, Readiness: Resolved()}
}

func (s *StaticFeed) Ready() <-chan struct{} {
	if s.Readiness == nil {
		s.Readiness = Resolved()
	}
	return s.Readiness.Done()
}

func (s *StaticFeed) Fetch(ctx context.Context) ([]model.RawProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]model.RawProduct, len(s.Records))
	copy(out, s.Records)
	return out, nil
}

// FromURL builds a feed from a source string:
//
//	http(s)://host/path             JSON over HTTP
//	kafka://b1:9092,b2:9092/topic   push snapshots, ?group= sets a consumer group
//	xlsx:path/to/file.xlsx          spreadsheet, first sheet
//	file:path/to/file.json          JSON file
//	none or empty                   always unavailable
func FromURL(raw string, log zerolog.Logger) (Feed, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "" || raw == "none":
		return Unavailable(), nil
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return NewHTTPFeed(raw, nil), nil
	case strings.HasPrefix(raw, "kafka://"):
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse kafka feed url: %w", err)
		}
		topic := strings.Trim(u.Path, "/")
		brokers := manifest.SplitBrokers(u.Host)
		if topic == "" || len(brokers) == 0 {
			return nil, fmt.Errorf("kafka feed url %q needs brokers and a topic", raw)
		}
		return NewKafkaFeed(brokers, topic, u.Query().Get("group"), log), nil
	case strings.HasPrefix(raw, "xlsx:"):
		return NewXLSXFeed(strings.TrimPrefix(raw, "xlsx:"), ""), nil
	case strings.HasPrefix(raw, "file:"):
		return NewFileFeed(strings.TrimPrefix(raw, "file:")), nil
	case strings.HasSuffix(strings.ToLower(raw), ".xlsx"):
		return NewXLSXFeed(raw, ""), nil
	}
	return nil, fmt.Errorf("unsupported feed source %q", raw)
}
