package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States reported by the reconcile_state gauge.
var States = []string{"init", "live", "cached", "seeded"}

type Registry struct {
	reg *prometheus.Registry

	// Reconciliation
	Reconciles      *prometheus.CounterVec
	State           *prometheus.GaugeVec
	FetchFailures   prometheus.Counter
	Filtered        prometheus.Counter
	PushIgnored     prometheus.Counter
	ReconcileSec    prometheus.Histogram
	PersistFailures prometheus.Counter

	// Cache
	CatalogSize prometheus.Gauge
	Generation  prometheus.Gauge
	Dropped     prometheus.Counter
	Upserts     prometheus.Counter
	StaleWrites prometheus.Counter

	// Changelog replay
	Applied           prometheus.Counter
	Skipped           prometheus.Counter
	ChangelogAppended prometheus.Counter
	ChangelogLag      prometheus.Gauge

	// Persisted snapshot as seen by inspect
	LastManifestAgeSec prometheus.Gauge
	PersistedCount     prometheus.Gauge

	// Normalizer relay
	TxProduced   prometheus.Counter
	TxAborted    prometheus.Counter
	TxLatencySec prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	reconciles := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "smartdeals_reconcile_total", Help: "Reconciliations by resulting state."}, []string{"state"})
	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "smartdeals_reconcile_state", Help: "1 for the current reconciliation state."}, []string{"state"})
	fetchFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_feed_fetch_failures_total"})
	filtered := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_placeholder_filtered_total"})
	pushIgnored := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_push_ignored_total"})
	reconcileSec := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "smartdeals_reconcile_seconds",
		Buckets: prometheus.DefBuckets,
	})
	persistFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_persist_failures_total"})

	size := prometheus.NewGauge(prometheus.GaugeOpts{Name: "smartdeals_catalog_size"})
	generation := prometheus.NewGauge(prometheus.GaugeOpts{Name: "smartdeals_catalog_generation"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_malformed_dropped_total"})
	upserts := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_upserts_total"})
	stale := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_stale_writes_total"})

	applied := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_replay_applied_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_replay_skipped_total"})
	changelogAppended := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_changelog_appended_total"})
	lag := prometheus.NewGauge(prometheus.GaugeOpts{Name: "smartdeals_changelog_lag", Help: "Upserts logged after the last persisted snapshot."})

	lastAge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "smartdeals_last_manifest_age_seconds"})
	persistedCount := prometheus.NewGauge(prometheus.GaugeOpts{Name: "smartdeals_persisted_products"})

	txProduced := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_normalizer_tx_produced_total"})
	txAborted := prometheus.NewCounter(prometheus.CounterOpts{Name: "smartdeals_normalizer_tx_aborted_total"})
	txLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "smartdeals_normalizer_tx_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(reconciles, state, fetchFailures, filtered, pushIgnored, reconcileSec, persistFailures,
		size, generation, dropped, upserts, stale,
		applied, skipped, changelogAppended, lag,
		lastAge, persistedCount,
		txProduced, txAborted, txLatency)
	return &Registry{
		reg:                r,
		Reconciles:         reconciles,
		State:              state,
		FetchFailures:      fetchFailures,
		Filtered:           filtered,
		PushIgnored:        pushIgnored,
		ReconcileSec:       reconcileSec,
		PersistFailures:    persistFailures,
		CatalogSize:        size,
		Generation:         generation,
		Dropped:            dropped,
		Upserts:            upserts,
		StaleWrites:        stale,
		Applied:            applied,
		Skipped:            skipped,
		ChangelogAppended:  changelogAppended,
		ChangelogLag:       lag,
		LastManifestAgeSec: lastAge,
		PersistedCount:     persistedCount,
		TxProduced:         txProduced,
		TxAborted:          txAborted,
		TxLatencySec:       txLatency,
	}
}

// SetState marks state as current and clears the others.
func (r *Registry) SetState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		r.State.WithLabelValues(s).Set(v)
	}
}

// Gatherer exposes the underlying registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
