package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"smartdeals/internal/model"
	"smartdeals/internal/persist"
)

// Keys shared with other consumers of the same persistence.
const (
	KeyProducts    = "smartdeals_products"
	KeyAllProducts = "smartdeals_all_products"
	KeyLastUpdate  = "smartdeals_last_update"
)

// ErrNoSnapshot means the key is absent or holds an empty list.
var ErrNoSnapshot = errors.New("no persisted snapshot")

// Snapshotter persists raw snapshots.
type Snapshotter interface {
	WriteSnapshot(key string, records []model.RawProduct) error
}

// Store reads and writes raw product snapshots as JSON arrays.
type Store struct {
	kv persist.Store
}

func NewStore(kv persist.Store) *Store {
	return &Store{kv: kv}
}

func (s *Store) WriteSnapshot(key string, records []model.RawProduct) error {
	if records == nil {
		records = []model.RawProduct{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.kv.Write(key, b); err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	return nil
}

// ReadSnapshot returns the records under key. Records that fail to decode are
// skipped and counted in dropped. An absent or empty snapshot is ErrNoSnapshot.
func (s *Store) ReadSnapshot(key string) (records []model.RawProduct, dropped int, err error) {
	data, ok, err := s.kv.Read(key)
	if err != nil {
		return nil, 0, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	if !ok {
		return nil, 0, ErrNoSnapshot
	}
	records, dropped, err = DecodeRecords(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, dropped, ErrNoSnapshot
	}
	return records, dropped, nil
}

// DecodeRecords accepts a JSON array of records, an object wrapping one under
// "products", or an object keyed by document id. Each record is decoded on
// its own; failures are counted, not returned.
func DecodeRecords(data []byte) ([]model.RawProduct, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, 0, nil
	}
	var items []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, 0, err
		}
	case '{':
		var env map[string]json.RawMessage
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, 0, err
		}
		if inner, ok := env["products"]; ok {
			if err := json.Unmarshal(inner, &items); err != nil {
				return nil, 0, err
			}
			break
		}
		return decodeKeyed(env)
	default:
		return nil, 0, fmt.Errorf("unexpected snapshot payload starting with %q", data[0])
	}
	out := make([]model.RawProduct, 0, len(items))
	dropped := 0
	for _, it := range items {
		var r model.RawProduct
		if err := json.Unmarshal(it, &r); err != nil {
			dropped++
			continue
		}
		out = append(out, r)
	}
	return out, dropped, nil
}

// decodeKeyed handles {"<docId>": {...}, ...} where the key is the id.
func decodeKeyed(env map[string]json.RawMessage) ([]model.RawProduct, int, error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.RawProduct, 0, len(keys))
	dropped := 0
	for _, k := range keys {
		var r model.RawProduct
		if err := json.Unmarshal(env[k], &r); err != nil {
			dropped++
			continue
		}
		if r.ID.Trimmed() == "" {
			r.ID = model.FlexString(k)
		}
		out = append(out, r)
	}
	return out, dropped, nil
}
