// Package metrics exposes reconciliation runs to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "statement_reconciler"

// Recorder is the Prometheus implementation of reconcile.Metrics.
type Recorder struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	indexedBlobs *prometheus.GaugeVec
	classified   *prometheus.CounterVec
	probes       *prometheus.CounterVec
	probeLatency *prometheus.HistogramVec
	deleted      *prometheus.CounterVec
	itemErrors   *prometheus.CounterVec
}

var _ reconcile.Metrics = (*Recorder)(nil)

// New registers the reconciliation metrics with reg.
func New(reg prometheus.Registerer) *Recorder {
	return &Recorder{
		runs: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of reconciliation runs by scope, mode and final state",
			},
			[]string{"scope", "dry_run", "state"},
		),
		runDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of reconciliation runs",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"scope", "dry_run"},
		),
		indexedBlobs: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "indexed_blobs",
				Help:      "Number of blobs listed into the storage index by the latest run",
			},
			[]string{"provider"},
		),
		classified: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classified_total",
				Help:      "Total number of classified records by kind and status",
			},
			[]string{"kind", "status"}, // statement|file|blob, valid|orphaned|unverified
		),
		probes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of storage existence probes by provider and outcome",
			},
			[]string{"provider", "outcome"}, // ok|failed
		),
		probeLatency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_seconds",
				Help:      "Latency of storage existence probes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		deleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deleted_total",
				Help:      "Total number of deleted (or, in dry runs, deletable) items by kind",
			},
			[]string{"kind", "dry_run"},
		),
		itemErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "item_errors_total",
				Help:      "Total number of non-fatal item errors by kind",
			},
			[]string{"kind"},
		),
	}
}

// RunFinished implements reconcile.Metrics.
func (r *Recorder) RunFinished(scope reconcile.Scope, dryRun bool, state reconcile.State, d time.Duration) {
	if r == nil {
		return
	}
	mode := strconv.FormatBool(dryRun)
	r.runs.WithLabelValues(string(scope), mode, string(state)).Inc()
	r.runDuration.WithLabelValues(string(scope), mode).Observe(d.Seconds())
}

// IndexBuilt implements reconcile.Metrics.
func (r *Recorder) IndexBuilt(provider string, blobs int) {
	if r == nil {
		return
	}
	r.indexedBlobs.WithLabelValues(provider).Set(float64(blobs))
}

// Classified implements reconcile.Metrics.
func (r *Recorder) Classified(kind reconcile.OrphanKind, status reconcile.Status) {
	if r == nil {
		return
	}
	r.classified.WithLabelValues(string(kind), string(status)).Inc()
}

// Probed implements reconcile.Metrics.
func (r *Recorder) Probed(provider string, d time.Duration, failed bool) {
	if r == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	r.probes.WithLabelValues(provider, outcome).Inc()
	r.probeLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// Deleted implements reconcile.Metrics.
func (r *Recorder) Deleted(kind string, n int64, dryRun bool) {
	if r == nil || n <= 0 {
		return
	}
	r.deleted.WithLabelValues(kind, strconv.FormatBool(dryRun)).Add(float64(n))
}

// ItemErrors implements reconcile.Metrics.
func (r *Recorder) ItemErrors(kind reconcile.ErrorKind, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.itemErrors.WithLabelValues(string(kind)).Add(float64(n))
}
