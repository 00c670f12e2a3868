// Package config loads command settings from flags whose defaults come from
// SDP_* environment variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"smartdeals/internal/normalize"
)

// LoadDotenv loads the given files (".env" when none) into the environment.
// Missing files are ignored; variables already set win.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func String(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func Int(key string, def int) int {
	if v, err := strconv.Atoi(String(key, "")); err == nil {
		return v
	}
	return def
}

func Bool(key string, def bool) bool {
	if v, err := strconv.ParseBool(String(key, "")); err == nil {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(String(key, "")); err == nil {
		return v
	}
	return def
}

// Catalog holds the settings of the catalog service.
type Catalog struct {
	HTTPAddr string
	Feed     string
	// StoreKind is memory|pebble|badger|postgres; StoreDSN is a directory or a Postgres DSN.
	StoreKind      string
	StoreDSN       string
	IDMode         string
	FallbackIDMode string

	ReadyTimeout    time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	RefreshInterval time.Duration

	ChangelogDir    string
	ChangelogSink   string // file|kafka|both|none
	ChangelogSource string // file|kafka
	ManifestSink    string // store|kafka|both
	ManifestSource  string // store|kafka
	KafkaBootstrap  string
	TopicChangelog  string
	TopicManifest   string

	LogLevel  string
	LogFormat string
}

// LoadCatalog parses args into a Catalog and validates it.
func LoadCatalog(fs *flag.FlagSet, args []string) (Catalog, error) {
	var c Catalog
	fs.StringVar(&c.HTTPAddr, "http", String("SDP_HTTP_ADDR", ":8080"), "http listen address")
	fs.StringVar(&c.Feed, "feed", String("SDP_FEED", "none"), "remote feed: http(s)://, kafka://brokers/topic, xlsx:path, file:path or none")
	fs.StringVar(&c.StoreKind, "store", String("SDP_STORE", "pebble"), "persistence backend: memory|pebble|badger|postgres")
	fs.StringVar(&c.StoreDSN, "store-dsn", String("SDP_STORE_DSN", "./data/catalog"), "persistence directory or postgres dsn")
	fs.StringVar(&c.IDMode, "id-mode", String("SDP_ID_MODE", string(normalize.IDContent)), "id mode for records without ids: content|salted")
	fs.StringVar(&c.FallbackIDMode, "fallback-id-mode", String("SDP_FALLBACK_ID_MODE", string(normalize.IDContent)), "id mode for the fallback catalog: content|salted")
	fs.DurationVar(&c.ReadyTimeout, "ready-timeout", Duration("SDP_READY_TIMEOUT", 5*time.Second), "max wait for the feed to become ready")
	fs.IntVar(&c.MaxAttempts, "max-attempts", Int("SDP_MAX_ATTEMPTS", 3), "feed fetch attempts per reconciliation")
	fs.DurationVar(&c.RetryDelay, "retry-delay", Duration("SDP_RETRY_DELAY", 500*time.Millisecond), "delay between fetch attempts")
	fs.DurationVar(&c.RefreshInterval, "refresh-interval", Duration("SDP_REFRESH_INTERVAL", 0), "periodic reconciliation interval, 0 disables")
	fs.StringVar(&c.ChangelogDir, "changelog-dir", String("SDP_CHANGELOG_DIR", "./changelog"), "directory of the upsert changelog")
	fs.StringVar(&c.ChangelogSink, "changelog-sink", String("SDP_CHANGELOG_SINK", "file"), "changelog sink: file|kafka|both|none")
	fs.StringVar(&c.ChangelogSource, "changelog-source", String("SDP_CHANGELOG_SOURCE", "file"), "changelog source for replay: file|kafka")
	fs.StringVar(&c.ManifestSink, "manifest-sink", String("SDP_MANIFEST_SINK", "store"), "manifest sink: store|kafka|both")
	fs.StringVar(&c.ManifestSource, "manifest-source", String("SDP_MANIFEST_SOURCE", "store"), "manifest source for replay: store|kafka")
	fs.StringVar(&c.KafkaBootstrap, "kafka-bootstrap", String("SDP_KAFKA_BOOTSTRAP", ""), "kafka bootstrap servers, e.g. localhost:9092")
	fs.StringVar(&c.TopicChangelog, "topic-changelog", String("SDP_TOPIC_CHANGELOG", "smartdeals.catalog-changelog"), "kafka topic for the changelog")
	fs.StringVar(&c.TopicManifest, "topic-manifest", String("SDP_TOPIC_MANIFEST", "smartdeals.catalog-manifest"), "kafka topic for the manifest (compacted)")
	fs.StringVar(&c.LogLevel, "log-level", String("SDP_LOG_LEVEL", "info"), "log level")
	fs.StringVar(&c.LogFormat, "log-format", String("SDP_LOG_FORMAT", "console"), "log format: console|json")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c Catalog) Validate() error {
	var errs []error
	switch c.StoreKind {
	case "memory":
	case "pebble", "badger", "postgres":
		if c.StoreDSN == "" {
			errs = append(errs, fmt.Errorf("store %s needs -store-dsn", c.StoreKind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.StoreKind))
	}
	if _, err := normalize.ParseIDMode(c.IDMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := normalize.ParseIDMode(c.FallbackIDMode); err != nil {
		errs = append(errs, err)
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max-attempts must be at least 1"))
	}
	if c.ReadyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ready-timeout must be positive"))
	}
	if c.RetryDelay < 0 || c.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("durations must not be negative"))
	}
	if !oneOf(c.ChangelogSink, "file", "kafka", "both", "none") {
		errs = append(errs, fmt.Errorf("unknown changelog sink %q", c.ChangelogSink))
	}
	if !oneOf(c.ChangelogSource, "file", "kafka") {
		errs = append(errs, fmt.Errorf("unknown changelog source %q", c.ChangelogSource))
	}
	if !oneOf(c.ManifestSink, "store", "kafka", "both") {
		errs = append(errs, fmt.Errorf("unknown manifest sink %q", c.ManifestSink))
	}
	if !oneOf(c.ManifestSource, "store", "kafka") {
		errs = append(errs, fmt.Errorf("unknown manifest source %q", c.ManifestSource))
	}
	if c.KafkaBootstrap == "" && c.UsesKafka() {
		errs = append(errs, fmt.Errorf("kafka sinks and sources need -kafka-bootstrap"))
	}
	return errors.Join(errs...)
}

// UsesKafka reports whether any changelog or manifest leg goes through Kafka.
func (c Catalog) UsesKafka() bool {
	return oneOf(c.ChangelogSink, "kafka", "both") || oneOf(c.ManifestSink, "kafka", "both") ||
		c.ChangelogSource == "kafka" || c.ManifestSource == "kafka"
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
