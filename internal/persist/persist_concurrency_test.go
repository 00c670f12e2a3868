package persist

import (
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryStore_ConcurrentWritersSharedKey(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	writers := 8
	iters := 500

	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				if err := s.Write("smartdeals_products", []byte(fmt.Sprintf("w%d-%d", w, i))); err != nil {
					t.Errorf("write err: %v", err)
					return
				}
				if _, _, err := s.Read("smartdeals_products"); err != nil {
					t.Errorf("read err: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, ok, err := s.Read("smartdeals_products")
	if err != nil || !ok {
		t.Fatalf("missing key: %v", err)
	}
	var matched bool
	for w := 0; w < writers; w++ {
		if string(v) == fmt.Sprintf("w%d-%d", w, iters-1) {
			matched = true
		}
	}
	if !matched {
		t.Fatalf("final value %q is not any writer's last write", v)
	}
}
