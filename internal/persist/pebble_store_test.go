package persist

import (
	"bytes"
	"testing"
)

func TestPebbleStore(t *testing.T) {
	st, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("pebble open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	exerciseStore(t, st)
}

func TestPebbleStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("pebble open: %v", err)
	}
	if err := st.Write("smartdeals_products", []byte(`[{"id":"p1"}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("pebble reopen: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	got, ok, err := st.Read("smartdeals_products")
	if err != nil || !ok || !bytes.Equal(got, []byte(`[{"id":"p1"}]`)) {
		t.Fatalf("after reopen: %q ok=%v err=%v", got, ok, err)
	}
}
