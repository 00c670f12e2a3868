package persist

import (
	"bytes"
	"errors"
	"testing"
)

// exerciseStore checks the behavior every backend must share.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()

	if _, ok, err := st.Read("missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	if err := st.Write("smartdeals_products", []byte(`[1]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Last write wins.
	if err := st.Write("smartdeals_products", []byte(`[1,2]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, ok, err := st.Read("smartdeals_products")
	if err != nil || !ok || !bytes.Equal(got, []byte(`[1,2]`)) {
		t.Fatalf("read after overwrite: %q ok=%v err=%v", got, ok, err)
	}

	// Mutating the returned slice must not leak into the store.
	got[0] = 'X'
	again, _, _ := st.Read("smartdeals_products")
	if again[0] != '[' {
		t.Fatalf("store shares its buffer with callers")
	}

	if err := st.Write("smartdeals_last_update", []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	seen := map[string]string{}
	if err := st.Range(func(k string, v []byte) error { seen[k] = string(v); return nil }); err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(seen) != 2 || seen["smartdeals_last_update"] != "{}" {
		t.Fatalf("range saw %v", seen)
	}

	stop := errors.New("stop")
	if err := st.Range(func(string, []byte) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("range should surface callback errors, got %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	exerciseStore(t, s)
	_ = s.Close()
	if err := s.Write("k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("floppy", ""); err == nil {
		t.Fatalf("expected error")
	}
	st, err := Open("memory", "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	exerciseStore(t, st)
}
