package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeLock(t *testing.T) {
	l := NewScopeLock()

	releaseStmts, err := l.TryAcquire(reconcile.ScopeStatementsOnly)
	require.NoError(t, err)

	releaseFiles, err := l.TryAcquire(reconcile.ScopeFilesOnly)
	require.NoError(t, err, "disjoint scopes may run together")

	_, err = l.TryAcquire(reconcile.ScopeAll)
	assert.ErrorIs(t, err, ErrScopeBusy)
	_, err = l.TryAcquire(reconcile.ScopeStatementsOnly)
	assert.ErrorIs(t, err, ErrScopeBusy)

	assert.Equal(t, []reconcile.Scope{reconcile.ScopeStatementsOnly, reconcile.ScopeFilesOnly}, l.Held())

	releaseStmts()
	releaseStmts()
	releaseFiles()
	assert.Empty(t, l.Held())

	releaseAll, err := l.TryAcquire("")
	require.NoError(t, err)
	_, err = l.TryAcquire(reconcile.ScopeFilesOnly)
	assert.ErrorIs(t, err, ErrScopeBusy)
	releaseAll()

	_, err = l.TryAcquire(reconcile.ScopeFilesOnly)
	assert.NoError(t, err)
}

type stubRunner struct {
	report   *reconcile.Report
	err      error
	got      reconcile.Options
	deadline bool
}

func (s *stubRunner) Run(ctx context.Context, opts reconcile.Options) (*reconcile.Report, error) {
	s.got = opts
	_, s.deadline = ctx.Deadline()
	return s.report, s.err
}

func TestReconcileHandler(t *testing.T) {
	t.Run("stores the report", func(t *testing.T) {
		runner := &stubRunner{report: &reconcile.Report{RunID: "r1", State: reconcile.StateDryRunComplete}}
		job := &ReconcileJob{JobID: "j1", Options: reconcile.Options{DryRun: true, Scope: reconcile.ScopeFilesOnly}}

		err := NewReconcileHandler(runner, time.Minute)(context.Background(), job)

		require.NoError(t, err)
		assert.Equal(t, "r1", job.Report.RunID)
		assert.Equal(t, job.Options, runner.got)
		assert.True(t, runner.deadline)
	})

	t.Run("propagates run failures", func(t *testing.T) {
		boom := &reconcile.RunError{State: reconcile.StateScanning, Err: errors.New("backend error")}
		job := &ReconcileJob{JobID: "j2"}

		err := NewReconcileHandler(&stubRunner{err: boom}, 0)(context.Background(), job)

		assert.ErrorIs(t, err, reconcile.ErrFatal)
		assert.Nil(t, job.Report)
	})

	t.Run("rejects other job types", func(t *testing.T) {
		err := NewReconcileHandler(&stubRunner{}, 0)(context.Background(), otherJob{})
		assert.Error(t, err)
	})
}

type otherJob struct{}

func (otherJob) GetID() string        { return "x" }
func (otherJob) GetType() JobType     { return "other" }
func (otherJob) GetStatus() JobStatus { return JobStatusPending }
