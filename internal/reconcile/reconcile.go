// Package reconcile decides which source supplies the catalog: the remote
// feed when it has real products, otherwise the last persisted snapshot, and
// as a last resort the built-in fallback list.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smartdeals/internal/catalog"
	"smartdeals/internal/changelog"
	"smartdeals/internal/fallback"
	"smartdeals/internal/feed"
	"smartdeals/internal/manifest"
	"smartdeals/internal/metrics"
	"smartdeals/internal/model"
	"smartdeals/internal/normalize"
	"smartdeals/internal/snapshot"
)

type State string

const (
	StateInit   State = "init"
	StateLive   State = "live"
	StateCached State = "cached"
	StateSeeded State = "seeded"
)

// ErrNotPush is returned by Watch when the feed cannot push snapshots.
var ErrNotPush = errors.New("feed does not push snapshots")

type Options struct {
	// ReadyTimeout bounds the wait for the feed's readiness signal.
	ReadyTimeout time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	// FallbackMode is the id mode used when seeding from the fallback list.
	FallbackMode normalize.IDMode
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.FallbackMode == "" {
		o.FallbackMode = normalize.IDContent
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// SnapshotStore is the persistence the reconciler reads and writes snapshots through.
type SnapshotStore interface {
	snapshot.Snapshotter
	ReadSnapshot(key string) ([]model.RawProduct, int, error)
}

// Deps wires a Reconciler. Cache, Feed and Snapshots are required; the rest
// may be nil.
type Deps struct {
	Cache          *catalog.Cache
	Feed           feed.Feed
	Snapshots      SnapshotStore
	Manifests      manifest.Publisher
	ManifestReader manifest.Reader
	Changelog      changelog.Writer
	Replayer       changelog.Replayer
	Metrics        *metrics.Registry
	Log            zerolog.Logger
}

// Result describes one reconciliation.
type Result struct {
	State      State     `json:"state"`
	Count      int       `json:"count"`
	Dropped    int       `json:"dropped"`
	Filtered   int       `json:"filtered"`
	Replayed   int       `json:"replayed"`
	Generation uint64    `json:"generation"`
	FeedError  string    `json:"feedError,omitempty"`
	At         time.Time `json:"at"`
}

type Reconciler struct {
	cache     *catalog.Cache
	feed      feed.Feed
	snaps     SnapshotStore
	manifests manifest.Publisher
	manReader manifest.Reader
	clog      changelog.Writer
	replayer  changelog.Replayer
	metrics   *metrics.Registry
	log       zerolog.Logger
	opts      Options
	seedNorm  *normalize.Normalizer

	// runMu serializes reconciliations and pushed snapshots.
	runMu sync.Mutex
	// logMu keeps cache writes and changelog appends in the same order, so
	// the offset recorded with a snapshot covers exactly the upserts before it.
	logMu sync.Mutex

	mu    sync.RWMutex
	state State
	last  Result
}

func New(d Deps, opts Options) (*Reconciler, error) {
	if d.Cache == nil || d.Feed == nil || d.Snapshots == nil {
		return nil, fmt.Errorf("reconcile: cache, feed and snapshots are required")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewRegistry()
	}
	opts = opts.withDefaults()
	seed := normalize.New(opts.FallbackMode)
	seed.Now = opts.Now
	r := &Reconciler{
		cache:     d.Cache,
		feed:      d.Feed,
		snaps:     d.Snapshots,
		manifests: d.Manifests,
		manReader: d.ManifestReader,
		clog:      d.Changelog,
		replayer:  d.Replayer,
		metrics:   d.Metrics,
		log:       d.Log.With().Str("component", "reconcile").Logger(),
		opts:      opts,
		seedNorm:  seed,
		state:     StateInit,
	}
	r.metrics.SetState(string(StateInit))
	return r, nil
}

func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Last returns the most recent reconciliation result.
func (r *Reconciler) Last() Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Run reconciles once. It only fails when ctx ends before any source was
// applied; every source failure degrades to the next source instead.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	start := time.Now()

	raws, feedErr := r.fetch(ctx)
	var res Result
	if feedErr == nil {
		usable := Usable(raws)
		filtered := len(raws) - len(usable)
		r.metrics.Filtered.Add(float64(filtered))
		if len(usable) > 0 {
			res = r.applyLive(usable, raws)
			res.Filtered = filtered
			return r.finish(res, start), nil
		}
		r.log.Info().Int("received", len(raws)).Int("filtered", filtered).Msg("feed had no usable records")
		feedErr = fmt.Errorf("%w: no usable records", feed.ErrUnavailable)
	} else {
		r.log.Warn().Err(feedErr).Msg("feed fetch failed")
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if cached, ok := r.applyCached(ctx); ok {
		res = cached
	} else {
		res = r.applySeeded()
	}
	res.FeedError = feedErr.Error()
	return r.finish(res, start), nil
}

// fetch waits for readiness and then tries the feed up to MaxAttempts times.
func (r *Reconciler) fetch(ctx context.Context) ([]model.RawProduct, error) {
	timer := time.NewTimer(r.opts.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-r.feed.Ready():
	case <-timer.C:
		r.metrics.FetchFailures.Inc()
		return nil, feed.ErrNotReady
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var err error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		var raws []model.RawProduct
		raws, err = r.feed.Fetch(ctx)
		if err == nil {
			return raws, nil
		}
		r.metrics.FetchFailures.Inc()
		r.log.Debug().Err(err).Int("attempt", attempt).Msg("fetch attempt failed")
		if ctx.Err() != nil || attempt == r.opts.MaxAttempts {
			break
		}
		select {
		case <-time.After(r.opts.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, err
}

func (r *Reconciler) applyLive(usable, all []model.RawProduct) Result {
	r.logMu.Lock()
	cr := r.cache.ReplaceAll(usable)
	offset := r.changelogOffset()
	r.logMu.Unlock()

	if err := r.snaps.WriteSnapshot(snapshot.KeyProducts, usable); err != nil {
		r.persistFailed(err, "write products snapshot")
	}
	if err := r.snaps.WriteSnapshot(snapshot.KeyAllProducts, all); err != nil {
		r.persistFailed(err, "write all-products snapshot")
	}
	if r.manifests != nil {
		m := manifest.New(string(StateLive), cr.Count, cr.Generation, offset, r.opts.Now())
		if err := r.manifests.PublishLatest(m); err != nil {
			r.persistFailed(err, "publish manifest")
		}
	}
	return Result{State: StateLive, Count: cr.Count, Dropped: cr.Dropped, Generation: cr.Generation}
}

func (r *Reconciler) applyCached(ctx context.Context) (Result, bool) {
	records, dropped, err := r.snaps.ReadSnapshot(snapshot.KeyProducts)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNoSnapshot) {
			r.persistFailed(err, "read products snapshot")
		}
		return Result{}, false
	}

	r.logMu.Lock()
	defer r.logMu.Unlock()
	cr := r.cache.ReplaceAll(records)
	res := Result{State: StateCached, Count: cr.Count, Dropped: cr.Dropped + dropped, Generation: cr.Generation}

	replayed, err := r.replay(ctx)
	if err != nil {
		r.persistFailed(err, "replay changelog")
	}
	res.Replayed = replayed
	res.Count = r.cache.Len()
	return res, true
}

// replay applies upserts logged after the manifest's offset. Without a
// manifest there is no way to tell which upserts the snapshot already
// includes, so nothing is replayed.
func (r *Reconciler) replay(ctx context.Context) (int, error) {
	if r.replayer == nil || r.manReader == nil {
		return 0, nil
	}
	m, err := r.manReader.ReadLatest()
	if err != nil {
		if errors.Is(err, manifest.ErrNoManifest) {
			return 0, nil
		}
		return 0, fmt.Errorf("read manifest: %w", err)
	}
	rr, err := r.replayer.Replay(ctx, m.ChangelogOffset, func(d changelog.Delta) (bool, error) {
		if _, err := r.cache.Upsert(d.Record); err != nil {
			r.log.Debug().Err(err).Str("id", d.ID).Msg("skipping changelog entry")
			return false, nil
		}
		return true, nil
	})
	r.metrics.Applied.Add(float64(rr.Applied))
	r.metrics.Skipped.Add(float64(rr.Skipped))
	if rr.Applied > 0 || rr.Skipped > 0 {
		r.log.Info().Int("applied", rr.Applied).Int("skipped", rr.Skipped).Int64("from", m.ChangelogOffset).Msg("changelog replayed")
	}
	return rr.Applied, err
}

func (r *Reconciler) applySeeded() Result {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	cr := r.cache.ReplaceAllWith(r.seedNorm.Batch(), fallback.Catalog())
	return Result{State: StateSeeded, Count: cr.Count, Dropped: cr.Dropped, Generation: cr.Generation}
}

func (r *Reconciler) finish(res Result, start time.Time) Result {
	res.At = r.opts.Now().UTC()
	r.mu.Lock()
	r.state = res.State
	r.last = res
	r.mu.Unlock()

	r.metrics.Reconciles.WithLabelValues(string(res.State)).Inc()
	r.metrics.SetState(string(res.State))
	r.metrics.CatalogSize.Set(float64(res.Count))
	r.metrics.Generation.Set(float64(res.Generation))
	r.metrics.Dropped.Add(float64(res.Dropped))
	r.metrics.ReconcileSec.Observe(time.Since(start).Seconds())
	r.log.Info().
		Str("state", string(res.State)).
		Int("count", res.Count).
		Int("dropped", res.Dropped).
		Int("filtered", res.Filtered).
		Int("replayed", res.Replayed).
		Uint64("generation", res.Generation).
		Msg("catalog reconciled")
	return res
}

// Watch applies every snapshot pushed by the feed until ctx ends. A snapshot
// without usable records is ignored and the current catalog kept.
func (r *Reconciler) Watch(ctx context.Context) error {
	w, ok := r.feed.(feed.Watcher)
	if !ok {
		return ErrNotPush
	}
	return w.Watch(ctx, r.applyPush)
}

func (r *Reconciler) applyPush(raws []model.RawProduct) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	start := time.Now()
	usable := Usable(raws)
	filtered := len(raws) - len(usable)
	r.metrics.Filtered.Add(float64(filtered))
	if len(usable) == 0 {
		r.metrics.PushIgnored.Inc()
		r.log.Info().Int("received", len(raws)).Msg("ignoring pushed snapshot without usable records")
		return
	}
	res := r.applyLive(usable, raws)
	res.Filtered = filtered
	r.finish(res, start)
}

// Upsert writes a single record. A non-zero generation makes the write fail
// with catalog.ErrStaleWrite when the catalog was replaced since. Accepted
// writes are appended to the changelog so a restart from the persisted
// snapshot can replay them.
func (r *Reconciler) Upsert(generation uint64, raw model.RawProduct) (model.Product, error) {
	r.logMu.Lock()
	defer r.logMu.Unlock()

	var (
		p   model.Product
		err error
	)
	if generation == 0 {
		p, err = r.cache.Upsert(raw)
	} else {
		p, err = r.cache.UpsertAt(generation, raw)
	}
	if err != nil {
		if errors.Is(err, catalog.ErrStaleWrite) {
			r.metrics.StaleWrites.Inc()
		}
		return model.Product{}, err
	}
	r.metrics.Upserts.Inc()
	r.metrics.CatalogSize.Set(float64(r.cache.Len()))

	if r.clog != nil {
		rec := raw
		rec.ID = model.FlexString(p.ID)
		d := changelog.Delta{
			ID:         p.ID,
			Seq:        r.cache.Seq(),
			Generation: r.cache.Generation(),
			Record:     rec,
			TS:         r.opts.Now().UnixMilli(),
		}
		if err := r.clog.Append(d); err != nil {
			r.persistFailed(err, "append changelog")
		} else {
			r.metrics.ChangelogAppended.Inc()
		}
	}
	return p, nil
}

func (r *Reconciler) changelogOffset() int64 {
	if o, ok := r.clog.(changelog.Offsetter); ok {
		return o.Offset()
	}
	return 0
}

func (r *Reconciler) persistFailed(err error, what string) {
	r.metrics.PersistFailures.Inc()
	r.log.Warn().Err(err).Msg(what)
}
