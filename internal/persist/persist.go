package persist

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("persist: store closed")

// Store is byte-oriented key/value storage that survives restarts. Keys are
// shared with other consumers, so every Write replaces the whole value and
// callers must not assume exclusive ownership.
type Store interface {
	Read(key string) (val []byte, ok bool, err error)
	Write(key string, val []byte) error
	Range(fn func(key string, val []byte) error) error
	Close() error
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string][]byte)}
}

func (s *InMemoryStore) Read(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *InMemoryStore) Write(key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[key] = append([]byte(nil), val...)
	return nil
}

// Range visits keys in lexical order.
func (s *InMemoryStore) Range(fn func(key string, val []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, append([]byte(nil), s.data[k]...)); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Open builds the backend named by kind: memory, pebble, badger or postgres.
// For the disk backends dsn is a directory; for postgres it is a DSN.
func Open(kind, dsn string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewInMemoryStore(), nil
	case "pebble":
		return NewPebbleStore(dsn)
	case "badger":
		return NewBadgerStore(dsn)
	case "postgres":
		return OpenGormStore(dsn)
	}
	return nil, fmt.Errorf("unknown store backend %q", kind)
}
