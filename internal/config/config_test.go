package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCatalog_Defaults(t *testing.T) {
	c, err := LoadCatalog(flag.NewFlagSet("t", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if c.StoreKind != "pebble" || c.MaxAttempts != 3 || c.ReadyTimeout != 5*time.Second || c.Feed != "none" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoadCatalog_EnvAndFlags(t *testing.T) {
	t.Setenv("SDP_STORE", "memory")
	t.Setenv("SDP_MAX_ATTEMPTS", "7")
	t.Setenv("SDP_RETRY_DELAY", "2s")
	t.Setenv("SDP_ID_MODE", "salted")
	c, err := LoadCatalog(flag.NewFlagSet("t", flag.ContinueOnError), []string{"-max-attempts", "4"})
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if c.StoreKind != "memory" || c.MaxAttempts != 4 || c.RetryDelay != 2*time.Second || c.IDMode != "salted" {
		t.Fatalf("env or flag not applied: %+v", c)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	c := Catalog{
		StoreKind:       "mongo",
		IDMode:          "random",
		FallbackIDMode:  "content",
		MaxAttempts:     0,
		ReadyTimeout:    time.Second,
		ChangelogSink:   "kafka",
		ChangelogSource: "file",
		ManifestSink:    "store",
		ManifestSource:  "store",
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"unknown store", "unknown id mode", "max-attempts", "kafka-bootstrap"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
	c.StoreKind = "memory"
	c.IDMode = "content"
	c.MaxAttempts = 1
	c.KafkaBootstrap = "localhost:9092"
	if err := c.Validate(); err != nil {
		t.Fatalf("fixed config still invalid: %v", err)
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("SDP_DOTENV_SAMPLE=from-file\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SDP_DOTENV_SAMPLE", "")
	os.Unsetenv("SDP_DOTENV_SAMPLE")
	if err := LoadDotenv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	if got := String("SDP_DOTENV_SAMPLE", "default"); got != "from-file" {
		t.Fatalf("dotenv value = %q", got)
	}
}

func TestEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("SDP_TEST_INT", "x")
	t.Setenv("SDP_TEST_BOOL", "maybe")
	t.Setenv("SDP_TEST_DUR", "soon")
	if Int("SDP_TEST_INT", 3) != 3 || Bool("SDP_TEST_BOOL", true) != true || Duration("SDP_TEST_DUR", time.Minute) != time.Minute {
		t.Fatalf("garbage env should fall back to defaults")
	}
}
