package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/jobs"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ReconcileJob {
	t.Helper()
	var got *jobs.ReconcileJob
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return got
}

func TestStore_GetAndList(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 11, 5, 9, 0, 0, 0, time.UTC)

	for i, j := range []*jobs.ReconcileJob{
		{JobID: "a", Options: reconcile.Options{Scope: reconcile.ScopeAll}, Status: jobs.JobStatusCompleted},
		{JobID: "b", Options: reconcile.Options{Scope: reconcile.ScopeFilesOnly}, Status: jobs.JobStatusFailed},
		{JobID: "c", Options: reconcile.Options{Scope: reconcile.ScopeAll}, Status: jobs.JobStatusPending},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveJob(ctx, j))
	}

	_, err := s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.Error(t, s.SaveJob(ctx, &jobs.ReconcileJob{}))

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID, "newest first")

	scoped, err := s.ListJobs(ctx, jobs.JobFilter{Scope: reconcile.ScopeAll, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "a", scoped[0].JobID)

	failed, err := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].JobID)

	empty, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.UpdateJobStatus(ctx, "c", jobs.JobStatusFailed, "timeout"))
	c, err := s.GetJob(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "timeout", c.Error)
	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "zzz", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.ReconcileJob{JobID: "a", Status: jobs.JobStatusPending}))

	j, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	j.Status = jobs.JobStatusFailed

	again, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, again.Status)
}

func TestQueue_RunsJobsToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithWorkers(2))
	defer q.Close()

	require.NoError(t, q.Start(ctx, func(_ context.Context, job jobs.Job) error {
		rj := job.(*jobs.ReconcileJob)
		rj.Report = &reconcile.Report{RunID: "run-" + rj.JobID, State: reconcile.StateComplete}
		return nil
	}))

	job := &jobs.ReconcileJob{Options: reconcile.Options{Scope: reconcile.ScopeAll}}
	require.NoError(t, q.PublishReconcile(ctx, job))
	require.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.JobStatusPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	require.NotNil(t, done.Report)
	assert.Equal(t, "run-"+job.JobID, done.Report.RunID)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
}

func TestQueue_ScopeLockRejectsOverlappingJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	lock := jobs.NewScopeLock()
	q := NewQueue(10, store, WithScopeLock(lock))
	defer q.Close()

	unblock := make(chan struct{})
	require.NoError(t, q.Start(ctx, func(context.Context, jobs.Job) error {
		<-unblock
		return nil
	}))

	first := &jobs.ReconcileJob{Options: reconcile.Options{Scope: reconcile.ScopeAll}}
	require.NoError(t, q.PublishReconcile(ctx, first))

	err := q.PublishReconcile(ctx, &jobs.ReconcileJob{Options: reconcile.Options{Scope: reconcile.ScopeFilesOnly}})
	assert.ErrorIs(t, err, jobs.ErrScopeBusy)

	close(unblock)
	waitForStatus(t, store, first.JobID, jobs.JobStatusCompleted)

	require.Eventually(t, func() bool { return len(lock.Held()) == 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, q.PublishReconcile(ctx, &jobs.ReconcileJob{Options: reconcile.Options{Scope: reconcile.ScopeFilesOnly}}))
}

func TestQueue_RetriesThenFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	lock := jobs.NewScopeLock()
	q := NewQueue(10, store, WithScopeLock(lock), WithRetryBackoff(time.Millisecond))
	defer q.Close()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, jobs.Job) error {
		attempts.Add(1)
		return errors.New("bigquery: backend error")
	}))

	job := &jobs.ReconcileJob{MaxRetries: 2}
	require.NoError(t, q.PublishReconcile(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 2, failed.RetryCount)
	assert.Equal(t, "bigquery: backend error", failed.Error)
	require.Eventually(t, func() bool { return len(lock.Held()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, NewStore())
	require.NoError(t, q.Stop(context.Background()))
	require.NoError(t, q.Stop(context.Background()))

	assert.ErrorIs(t, q.PublishReconcile(context.Background(), &jobs.ReconcileJob{}), jobs.ErrQueueClosed)
	assert.ErrorIs(t, q.Start(context.Background(), func(context.Context, jobs.Job) error { return nil }), jobs.ErrQueueClosed)
}
