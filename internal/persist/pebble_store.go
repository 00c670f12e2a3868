package persist

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		// Snapshots are a few hundred KB at most; keep the footprint small.
		MemTableSize:          8 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 12,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) Read(key string) ([]byte, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

func (p *PebbleStore) Write(key string, val []byte) error {
	// Sync: the snapshot is small and losing it forces a reseed.
	if err := p.db.Set([]byte(key), val, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	return nil
}

func (p *PebbleStore) Range(fn func(key string, val []byte) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		if err := fn(string(k), v); err != nil {
			return err
		}
	}
	return it.Error()
}
