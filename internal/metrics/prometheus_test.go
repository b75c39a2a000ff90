package metrics

import (
	"testing"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RunFinished(reconcile.ScopeAll, true, reconcile.StateDryRunComplete, 3*time.Second)
	r.IndexBuilt("gcs", 42)
	r.Classified(reconcile.OrphanStatement, reconcile.StatusOrphaned)
	r.Classified(reconcile.OrphanStatement, reconcile.StatusOrphaned)
	r.Probed("s3", 20*time.Millisecond, true)
	r.Deleted("transactions", 7, false)
	r.Deleted("blobs", 0, false)
	r.ItemErrors(reconcile.ErrorKindProbe, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("all", "true", "dry_run_complete")))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.indexedBlobs.WithLabelValues("gcs")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.classified.WithLabelValues("statement", "orphaned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.probes.WithLabelValues("s3", "failed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.deleted.WithLabelValues("transactions", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.itemErrors.WithLabelValues("probe")))

	n, err := testutil.GatherAndCount(reg, "statement_reconciler_deleted_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "zero deletions do not create a series")
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RunFinished(reconcile.ScopeAll, false, reconcile.StateComplete, time.Second)
		r.IndexBuilt("gcs", 1)
		r.Classified(reconcile.OrphanFile, reconcile.StatusValid)
		r.Probed("gcs", time.Millisecond, false)
		r.Deleted("files", 1, false)
		r.ItemErrors(reconcile.ErrorKindDelete, 1)
	})
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate registration must be rejected")
}
