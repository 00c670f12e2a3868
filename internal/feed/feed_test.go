package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smartdeals/internal/model"
)

func TestReadiness_ResolvesOnce(t *testing.T) {
	r := NewReadiness()
	if r.IsResolved() {
		t.Fatalf("new readiness should be pending")
	}
	r.Resolve()
	r.Resolve()
	select {
	case <-r.Done():
	default:
		t.Fatalf("Done not closed after Resolve")
	}
	if !r.IsResolved() {
		t.Fatalf("IsResolved false after Resolve")
	}
}

func TestStaticFeed(t *testing.T) {
	in := []model.RawProduct{{ID: "a"}, {ID: "b"}}
	f := NewStatic(in)
	<-f.Ready()
	got, err := f.Fetch(context.Background())
	if err != nil || len(got) != 2 {
		t.Fatalf("fetch: %v %v", got, err)
	}
	got[0].ID = "mutated"
	again, _ := f.Fetch(context.Background())
	if again[0].ID != "a" {
		t.Fatalf("fetch returned shared slice")
	}

	if _, err := Unavailable().Fetch(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestHTTPFeed_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/array":
			_, _ = w.Write([]byte(`[{"id":"p1","title":"One"},{"title":{"x":1}},{"id":"p2"}]`))
		case "/envelope":
			_, _ = w.Write([]byte(`{"products":[{"id":"p3"}]}`))
		case "/garbage":
			_, _ = w.Write([]byte(`<html>`))
		default:
			http.Error(w, "nope", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	got, err := NewHTTPFeed(srv.URL+"/array", srv.Client()).Fetch(ctx)
	if err != nil || len(got) != 2 {
		t.Fatalf("array: %d records, err=%v", len(got), err)
	}
	got, err = NewHTTPFeed(srv.URL+"/envelope", srv.Client()).Fetch(ctx)
	if err != nil || len(got) != 1 || got[0].ID != "p3" {
		t.Fatalf("envelope: %+v err=%v", got, err)
	}
	if _, err := NewHTTPFeed(srv.URL+"/garbage", srv.Client()).Fetch(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("garbage: want ErrUnavailable, got %v", err)
	}
	if _, err := NewHTTPFeed(srv.URL+"/500", srv.Client()).Fetch(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("500: want ErrUnavailable, got %v", err)
	}
}

func TestHTTPFeed_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	_, err := NewHTTPFeed(addr, nil).Fetch(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestFileFeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feed.json")
	if err := os.WriteFile(path, []byte(`[{"id":"p1"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := NewFileFeed(path).Fetch(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("fetch: %+v err=%v", got, err)
	}
	if _, err := NewFileFeed(filepath.Join(dir, "missing.json")).Fetch(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("missing: want ErrUnavailable, got %v", err)
	}
}

func TestFromURL(t *testing.T) {
	log := zerolog.Nop()
	cases := []struct {
		in   string
		want string
	}{
		{"", "*feed.StaticFeed"},
		{"none", "*feed.StaticFeed"},
		{"https://example.org/products.json", "*feed.HTTPFeed"},
		{"kafka://localhost:9092,other:9092/products?group=g", "*feed.KafkaFeed"},
		{"xlsx:/tmp/p.xlsx", "*feed.XLSXFeed"},
		{"/tmp/p.XLSX", "*feed.XLSXFeed"},
		{"file:/tmp/p.json", "*feed.FileFeed"},
	}
	for _, c := range cases {
		f, err := FromURL(c.in, log)
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}
		if got := typeName(f); got != c.want {
			t.Fatalf("%q: got %s want %s", c.in, got, c.want)
		}
		if k, ok := f.(*KafkaFeed); ok {
			_ = k.Close()
		}
	}
	for _, bad := range []string{"ftp://x", "kafka://localhost:9092", "kafka:///topic"} {
		if _, err := FromURL(bad, log); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func typeName(f Feed) string {
	switch f.(type) {
	case *StaticFeed:
		return "*feed.StaticFeed"
	case *HTTPFeed:
		return "*feed.HTTPFeed"
	case *KafkaFeed:
		return "*feed.KafkaFeed"
	case *XLSXFeed:
		return "*feed.XLSXFeed"
	case *FileFeed:
		return "*feed.FileFeed"
	}
	return "unknown"
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for readiness")
	}
}
