// Command inspect restores the persisted catalog into a scratch cache on a
// timer and reports what a restarting service would serve.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"smartdeals/internal/catalog"
	"smartdeals/internal/changelog"
	"smartdeals/internal/config"
	"smartdeals/internal/feed"
	"smartdeals/internal/logging"
	"smartdeals/internal/manifest"
	"smartdeals/internal/metrics"
	"smartdeals/internal/normalize"
	"smartdeals/internal/persist"
	"smartdeals/internal/reconcile"
	"smartdeals/internal/snapshot"
)

type options struct {
	storeKind       string
	storeDSN        string
	bootstrap       string
	manifestSource  string
	changelogSource string
	changelogDir    string
	topicManifest   string
	topicChangelog  string
	httpAddr        string
	poll            time.Duration
	once            bool
	export          string
}

func main() {
	if err := config.LoadDotenv(); err != nil {
		zlog.Fatal().Err(err).Msg("load .env")
	}
	var o options
	flag.StringVar(&o.storeKind, "store", config.String("SDP_STORE", "pebble"), "persistence backend: memory|pebble|badger|postgres")
	flag.StringVar(&o.storeDSN, "store-dsn", config.String("SDP_STORE_DSN", "./data/catalog"), "persistence directory or postgres dsn")
	flag.StringVar(&o.bootstrap, "bootstrap", config.String("SDP_KAFKA_BOOTSTRAP", "localhost:19092"), "kafka bootstrap")
	flag.StringVar(&o.manifestSource, "manifest-source", config.String("SDP_MANIFEST_SOURCE", "store"), "store|kafka")
	flag.StringVar(&o.changelogSource, "changelog-source", config.String("SDP_CHANGELOG_SOURCE", "file"), "file|kafka")
	flag.StringVar(&o.changelogDir, "changelog-dir", config.String("SDP_CHANGELOG_DIR", "./changelog"), "changelog directory for file mode")
	flag.StringVar(&o.topicManifest, "topic-manifest", config.String("SDP_TOPIC_MANIFEST", "smartdeals.catalog-manifest"), "manifest topic")
	flag.StringVar(&o.topicChangelog, "topic-changelog", config.String("SDP_TOPIC_CHANGELOG", "smartdeals.catalog-changelog"), "changelog topic")
	flag.StringVar(&o.httpAddr, "http", config.String("SDP_INSPECT_HTTP", ":9090"), "http listen for /metrics")
	flag.DurationVar(&o.poll, "poll", config.Duration("SDP_INSPECT_POLL", 10*time.Second), "poll interval")
	flag.BoolVar(&o.once, "once", false, "inspect once and exit")
	flag.StringVar(&o.export, "export", "", "write the restored catalog as JSON to this file")
	flag.Parse()

	log, err := logging.Setup("inspect", config.String("SDP_LOG_LEVEL", "info"), config.String("SDP_LOG_FORMAT", "console"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("logging")
	}

	mreg := metrics.NewRegistry()
	if !o.once {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", mreg.Handler())
			if err := http.ListenAndServe(o.httpAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", o.httpAddr).Msg("metrics listener failed")
			}
		}()
	}

	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()
	for {
		if err := inspect(context.Background(), o, mreg, log); err != nil {
			log.Error().Err(err).Msg("inspection failed")
		}
		if o.once {
			return
		}
		<-ticker.C
	}
}

// inspect opens the store for one cycle only, so the disk backends are not
// locked between polls.
func inspect(ctx context.Context, o options, mreg *metrics.Registry, log zerolog.Logger) error {
	t1 := time.Now()
	kv, err := persist.Open(o.storeKind, o.storeDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	var mReader manifest.Reader = manifest.NewStoreManifest(kv)
	if o.manifestSource == "kafka" {
		mReader = manifest.NewKafkaReader(manifest.SplitBrokers(o.bootstrap), o.topicManifest, manifest.DefaultKafkaKey)
	}
	var (
		replayer changelog.Replayer
		head     int64 = -1
	)
	if o.changelogSource == "kafka" {
		replayer = changelog.NewKafkaReplayer(manifest.SplitBrokers(o.bootstrap), o.topicChangelog)
		if h := headOffset(o.topicChangelog, o.bootstrap); h >= 0 {
			head = h + 1
		}
	} else {
		path := filepath.Join(o.changelogDir, "catalog.jsonl")
		replayer = changelog.NewFileReplayer(path)
		if n, err := changelog.CountFile(path); err == nil {
			head = n
		} else {
			log.Warn().Err(err).Str("path", path).Msg("count changelog")
		}
	}

	cache := catalog.New(normalize.New(normalize.IDContent), log.Level(zerolog.WarnLevel))
	rec, err := reconcile.New(reconcile.Deps{
		Cache:          cache,
		Feed:           feed.Unavailable(),
		Snapshots:      snapshot.NewStore(kv),
		ManifestReader: mReader,
		Replayer:       replayer,
		Metrics:        mreg,
		Log:            log.Level(zerolog.ErrorLevel),
	}, reconcile.Options{MaxAttempts: 1})
	if err != nil {
		return err
	}
	res, err := rec.Run(ctx)
	if err != nil {
		return err
	}
	if res.State != reconcile.StateCached {
		log.Warn().Msg("no persisted snapshot")
		mreg.PersistedCount.Set(0)
		return nil
	}

	ev := log.Info().
		Int("count", res.Count).
		Int("dropped", res.Dropped).
		Int("replayed", res.Replayed).
		Dur("ttr", time.Since(t1))
	if m, err := mReader.ReadLatest(); err == nil {
		age := time.Since(m.CreatedAt())
		mreg.LastManifestAgeSec.Set(age.Seconds())
		if head >= 0 {
			mreg.ChangelogLag.Set(float64(head - m.ChangelogOffset))
		}
		ev = ev.Str("snapshot_id", m.SnapshotID).Str("source", m.Source).Dur("manifest_age", age).Int64("changelog_offset", m.ChangelogOffset)
	}
	ev.Msg("inspection cycle")
	mreg.PersistedCount.Set(float64(res.Count))

	if o.export != "" {
		b, err := json.MarshalIndent(cache.GetAll(), "", "  ")
		if err != nil {
			return fmt.Errorf("marshal export: %w", err)
		}
		if err := os.WriteFile(o.export, b, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
	}
	return nil
}

// headOffset returns the last (high-watermark - 1) offset of partition 0 for a topic
func headOffset(topic string, bootstrap string) int64 {
	brokers := manifest.SplitBrokers(bootstrap)
	if len(brokers) == 0 {
		return -1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := kafka.DialLeader(ctx, "tcp", brokers[0], topic, 0)
	if err != nil {
		return -1
	}
	defer conn.Close()
	off, err := conn.ReadLastOffset()
	if err != nil {
		return -1
	}
	return off - 1
}
