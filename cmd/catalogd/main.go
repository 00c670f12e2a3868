package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"smartdeals/internal/api"
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

func main() {
	if err := config.LoadDotenv(); err != nil {
		zlog.Fatal().Err(err).Msg("load .env")
	}
	cfg, err := config.LoadCatalog(flag.CommandLine, os.Args[1:])
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}
	log, err := logging.Setup("catalogd", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		zlog.Fatal().Err(err).Msg("logging")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("catalogd failed")
	}
}

func run(ctx context.Context, cfg config.Catalog, log zerolog.Logger) error {
	log.Info().Str("feed", cfg.Feed).Str("store", cfg.StoreKind).Str("id_mode", cfg.IDMode).Msg("starting catalogd")

	kv, err := persist.Open(cfg.StoreKind, cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer kv.Close()

	mani, maniReader := buildManifest(cfg, kv)
	clog, replayer, err := buildChangelog(cfg)
	if err != nil {
		return err
	}

	src, err := feed.FromURL(cfg.Feed, log)
	if err != nil {
		return fmt.Errorf("init feed: %w", err)
	}
	if k, ok := src.(*feed.KafkaFeed); ok {
		defer k.Close()
	}

	idMode, _ := normalize.ParseIDMode(cfg.IDMode)
	fallbackMode, _ := normalize.ParseIDMode(cfg.FallbackIDMode)
	cache := catalog.New(normalize.New(idMode), log)
	mreg := metrics.NewRegistry()

	rec, err := reconcile.New(reconcile.Deps{
		Cache:          cache,
		Feed:           src,
		Snapshots:      snapshot.NewStore(kv),
		Manifests:      mani,
		ManifestReader: maniReader,
		Changelog:      clog,
		Replayer:       replayer,
		Metrics:        mreg,
		Log:            log,
	}, reconcile.Options{
		ReadyTimeout: cfg.ReadyTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RetryDelay:   cfg.RetryDelay,
		FallbackMode: fallbackMode,
	})
	if err != nil {
		return err
	}

	if _, ok := src.(feed.Watcher); ok {
		go func() {
			if err := rec.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("push feed stopped")
			}
		}()
	}

	go func() {
		if _, err := rec.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("initial reconciliation interrupted")
		}
		if cfg.RefreshInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := rec.Run(ctx); err != nil {
					log.Warn().Err(err).Msg("periodic reconciliation interrupted")
				}
			}
		}
	}()

	h := api.NewHandler(cache, rec, mreg, log)
	if err := api.Serve(ctx, cfg.HTTPAddr, h.Router(), log); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	log.Info().Msg("catalogd stopped")
	return nil
}

func buildManifest(cfg config.Catalog, kv persist.Store) (manifest.Publisher, manifest.Reader) {
	maniStore := manifest.NewStoreManifest(kv)
	var (
		pub    manifest.Publisher = maniStore
		reader manifest.Reader    = maniStore
	)
	if cfg.ManifestSink == "kafka" || cfg.ManifestSink == "both" {
		maniK := manifest.NewKafkaManifest(cfg.KafkaBootstrap, cfg.TopicManifest, manifest.DefaultKafkaKey)
		if cfg.ManifestSink == "kafka" {
			pub = maniK
		} else {
			pub = manifest.MultiPublisher(maniStore, maniK)
		}
	}
	if cfg.ManifestSource == "kafka" {
		reader = manifest.NewKafkaReader(manifest.SplitBrokers(cfg.KafkaBootstrap), cfg.TopicManifest, manifest.DefaultKafkaKey)
	}
	return pub, reader
}

func buildChangelog(cfg config.Catalog) (changelog.Writer, changelog.Replayer, error) {
	var (
		w  changelog.Writer
		fw *changelog.FileWriter
	)
	if cfg.ChangelogSink == "file" || cfg.ChangelogSink == "both" || cfg.ChangelogSource == "file" {
		var err error
		fw, err = changelog.NewFileWriter(cfg.ChangelogDir, "catalog.jsonl")
		if err != nil {
			return nil, nil, fmt.Errorf("init changelog file: %w", err)
		}
	}
	if cfg.ChangelogSink == "file" || cfg.ChangelogSink == "both" {
		w = fw
	}
	if cfg.ChangelogSink == "kafka" || cfg.ChangelogSink == "both" {
		kw := changelog.NewKafkaWriter(cfg.KafkaBootstrap, cfg.TopicChangelog)
		if w == nil {
			w = kw
		} else {
			w = changelog.NewMultiWriter(w, kw)
		}
	}

	var r changelog.Replayer
	if cfg.ChangelogSource == "kafka" {
		r = changelog.NewKafkaReplayer(manifest.SplitBrokers(cfg.KafkaBootstrap), cfg.TopicChangelog)
	} else {
		r = changelog.NewFileReplayer(fw.Path())
	}
	return w, r, nil
}
