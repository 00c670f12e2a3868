package catalog

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smartdeals/internal/model"
	"smartdeals/internal/normalize"
)

func newTestCache() *Cache {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n := &normalize.Normalizer{Mode: normalize.IDContent, Now: func() time.Time { return now }}
	return New(n, zerolog.Nop())
}

func raw(id, name string, created float64) model.RawProduct {
	return model.RawProduct{ID: model.FlexString(id), Name: model.FlexString(name), Link: "https://amzn.to/" + model.FlexString(id), Price: "$10", CreatedAt: model.EpochTimestamp(created)}
}

func ids(list []model.Product) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}

func assertConsistent(t *testing.T, c *Cache) {
	t.Helper()
	all := c.GetAll()
	c.mu.RLock()
	indexLen := len(c.index)
	c.mu.RUnlock()
	if indexLen != len(all) {
		t.Fatalf("index has %d entries, list has %d", indexLen, len(all))
	}
	for _, p := range all {
		got, ok := c.GetByID(p.ID)
		if !ok || !reflect.DeepEqual(got, p) {
			t.Fatalf("GetByID(%s) mismatch: ok=%v got=%+v want=%+v", p.ID, ok, got, p)
		}
	}
}

func TestReplaceAll_SortsNewestFirstStable(t *testing.T) {
	c := newTestCache()
	res := c.ReplaceAll([]model.RawProduct{
		raw("a", "A", 1000),
		raw("b", "B", 3000),
		raw("c", "C", 2000),
		raw("d", "D", 3000),
	})
	if res.Count != 4 || res.Dropped != 0 || res.Generation != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got, want := ids(c.GetAll()), []string{"b", "d", "c", "a"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order: got=%v want=%v", got, want)
	}
	assertConsistent(t, c)
}

type explodingDate struct{}

func (explodingDate) ToDate() (time.Time, error) { panic("boom") }

func TestReplaceAll_SkipsMalformedRecords(t *testing.T) {
	c := newTestCache()
	bad := raw("x", "X", 0)
	bad.CreatedAt = model.WrappedTimestamp(explodingDate{})
	res := c.ReplaceAll([]model.RawProduct{raw("a", "A", 1), bad, raw("b", "B", 2)})
	if res.Count != 2 || res.Dropped != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok := c.GetByID("x"); ok {
		t.Fatalf("malformed record should not be cached")
	}
	assertConsistent(t, c)
}

func TestReplaceAll_NotifiesOnceWithFullList(t *testing.T) {
	c := newTestCache()
	var calls [][]model.Product
	c.Subscribe(func(list []model.Product) { calls = append(calls, list) })
	c.ReplaceAll([]model.RawProduct{raw("a", "A", 1), raw("b", "B", 2)})
	if len(calls) != 1 {
		t.Fatalf("want 1 notification, got %d", len(calls))
	}
	if got := ids(calls[0]); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("notified list: %v", got)
	}
}

func TestReplaceAll_LastSnapshotWins(t *testing.T) {
	c := newTestCache()
	c.ReplaceAll([]model.RawProduct{raw("a", "A", 1), raw("b", "B", 2)})
	c.ReplaceAll([]model.RawProduct{raw("c", "C", 1)})
	if got := ids(c.GetAll()); !reflect.DeepEqual(got, []string{"c"}) {
		t.Fatalf("second snapshot should replace the first, got %v", got)
	}
	if _, ok := c.GetByID("a"); ok {
		t.Fatalf("records absent from the new snapshot must disappear")
	}
	assertConsistent(t, c)
}

func TestReplaceAll_DuplicateIDsKeepNewest(t *testing.T) {
	c := newTestCache()
	older := raw("a", "Old", 1)
	newer := raw("a", "New", 2)
	c.ReplaceAll([]model.RawProduct{older, newer})
	p, ok := c.GetByID("a")
	if !ok || p.Name != "New" || c.Len() != 1 {
		t.Fatalf("duplicate ids: ok=%v p=%+v len=%d", ok, p, c.Len())
	}
	assertConsistent(t, c)
}

func TestUpsert_PreservesPositionOrPrepends(t *testing.T) {
	c := newTestCache()
	c.ReplaceAll([]model.RawProduct{raw("A", "A", 3), raw("B", "B", 2), raw("C", "C", 1)})

	a2 := raw("A", "A", 3)
	a2.Price = "$99"
	if _, err := c.Upsert(a2); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := ids(c.GetAll()); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("after upsert(A'): %v", got)
	}
	if p, _ := c.GetByID("A"); p.Price != "$99.00" {
		t.Fatalf("A' not applied: %+v", p)
	}

	if _, err := c.Upsert(raw("D", "D", 0)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := ids(c.GetAll()); !reflect.DeepEqual(got, []string{"D", "A", "B", "C"}) {
		t.Fatalf("after upsert(D): %v", got)
	}
	assertConsistent(t, c)
}

func TestUpsertAt_RejectsStaleGeneration(t *testing.T) {
	c := newTestCache()
	c.ReplaceAll([]model.RawProduct{raw("a", "A", 1)})
	gen := c.Generation()
	if _, err := c.UpsertAt(gen, raw("b", "B", 2)); err != nil {
		t.Fatalf("current generation should apply: %v", err)
	}
	c.ReplaceAll([]model.RawProduct{raw("c", "C", 1)})
	if _, err := c.UpsertAt(gen, raw("d", "D", 2)); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("want ErrStaleWrite, got %v", err)
	}
	if _, ok := c.GetByID("d"); ok {
		t.Fatalf("stale upsert must not be applied")
	}
	// Plain Upsert keeps last-write-wins behavior.
	if _, err := c.Upsert(raw("d", "D", 2)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestGetAll_ReturnsDefensiveCopy(t *testing.T) {
	c := newTestCache()
	r := raw("a", "A", 1)
	r.Features = []any{"one"}
	c.ReplaceAll([]model.RawProduct{r})
	all := c.GetAll()
	all[0].Name = "mutated"
	all[0].Features[0] = "mutated"
	got, _ := c.GetByID("a")
	if got.Name != "A" || got.Features[0] != "one" {
		t.Fatalf("cache internals mutated through GetAll: %+v", got)
	}
	got.Features[0] = "again"
	if again, _ := c.GetByID("a"); again.Features[0] != "one" {
		t.Fatalf("cache internals mutated through GetByID")
	}
}

func TestGetByID_MissIsExplicit(t *testing.T) {
	c := newTestCache()
	if _, ok := c.GetByID("nope"); ok {
		t.Fatalf("expected miss")
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	c := newTestCache()
	n := 0
	unsub := c.Subscribe(func([]model.Product) { n++ })
	c.ReplaceAll(nil)
	unsub()
	c.ReplaceAll(nil)
	if n != 1 {
		t.Fatalf("want 1 call, got %d", n)
	}
}

func TestAwait_WaitsForFirstLoad(t *testing.T) {
	c := newTestCache()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		c.ReplaceAll([]model.RawProduct{raw("a", "A", 1)})
	}()
	p, ok := c.Await(ctx, "a")
	if !ok || p.ID != "a" {
		t.Fatalf("Await: ok=%v p=%+v", ok, p)
	}
}

func TestAwait_GivesUpOnMiss(t *testing.T) {
	c := newTestCache()
	c.ReplaceAll([]model.RawProduct{raw("a", "A", 1)})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, ok := c.Await(ctx, "missing"); ok {
		t.Fatalf("expected not found")
	}
}
