package snapshot

import (
	"errors"
	"testing"

	"smartdeals/internal/model"
	"smartdeals/internal/persist"
)

func TestWriteAndReadSnapshot(t *testing.T) {
	kv := persist.NewInMemoryStore()
	s := NewStore(kv)
	in := []model.RawProduct{
		{ID: "p1", Title: "Echo Dot", Price: "$49.99", CreatedAt: model.EpochTimestamp(1700000000000)},
		{Name: "Kindle", Price: 99.0, CreatedAt: model.WrappedTimestamp(model.BackendTimestamp{Seconds: 5})},
	}
	if err := s.WriteSnapshot(KeyProducts, in); err != nil {
		t.Fatalf("WriteSnapshot error: %v", err)
	}
	got, dropped, err := s.ReadSnapshot(KeyProducts)
	if err != nil {
		t.Fatalf("ReadSnapshot error: %v", err)
	}
	if dropped != 0 || len(got) != 2 {
		t.Fatalf("unexpected read: %d records, %d dropped", len(got), dropped)
	}
	if got[0].ID != "p1" || got[1].CreatedAt.Kind != model.TimestampWrapped {
		t.Fatalf("records not preserved: %+v", got)
	}
}

func TestReadSnapshot_AbsentAndEmpty(t *testing.T) {
	kv := persist.NewInMemoryStore()
	s := NewStore(kv)
	if _, _, err := s.ReadSnapshot(KeyProducts); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("absent: want ErrNoSnapshot, got %v", err)
	}
	_ = s.WriteSnapshot(KeyProducts, nil)
	if _, _, err := s.ReadSnapshot(KeyProducts); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("empty: want ErrNoSnapshot, got %v", err)
	}
}

func TestReadSnapshot_CorruptJSON(t *testing.T) {
	kv := persist.NewInMemoryStore()
	_ = kv.Write(KeyProducts, []byte(`[{"id":"p1"`))
	s := NewStore(kv)
	_, _, err := s.ReadSnapshot(KeyProducts)
	if err == nil || errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("want decode error, got %v", err)
	}
}

func TestDecodeRecords_DropsMalformedOnly(t *testing.T) {
	data := []byte(`[{"id":"a","title":"A"},{"title":{"bad":true}},"junk",{"id":"b"}]`)
	got, dropped, err := DecodeRecords(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || dropped != 2 {
		t.Fatalf("got %d records, %d dropped", len(got), dropped)
	}
}

func TestDecodeRecords_Envelopes(t *testing.T) {
	got, _, err := DecodeRecords([]byte(`{"products":[{"id":"a"}]}`))
	if err != nil || len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("products envelope: %+v err=%v", got, err)
	}
	got, _, err = DecodeRecords([]byte(`{"doc2":{"title":"B"},"doc1":{"id":"explicit","title":"A"}}`))
	if err != nil || len(got) != 2 {
		t.Fatalf("keyed envelope: %+v err=%v", got, err)
	}
	if got[0].ID != "explicit" || got[1].ID != "doc2" {
		t.Fatalf("keyed ids: %q %q", got[0].ID, got[1].ID)
	}
	if _, _, err := DecodeRecords([]byte(`42`)); err == nil {
		t.Fatalf("expected error for scalar payload")
	}
}
