package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/jobs"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/google/uuid"
)

// DefaultWorkers is the number of concurrent workers started by Start.
const DefaultWorkers = 1

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.ReconcileJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool

	workers int
	backoff time.Duration
	lock    *jobs.ScopeLock

	relMu    sync.Mutex
	releases map[string]func()
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets how many jobs run concurrently.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithScopeLock makes PublishReconcile claim the job's scope until the job finishes.
func WithScopeLock(l *jobs.ScopeLock) QueueOption {
	return func(q *Queue) { q.lock = l }
}

// WithRetryBackoff sets the base delay between retries; attempt n waits n times the base.
func WithRetryBackoff(d time.Duration) QueueOption {
	return func(q *Queue) { q.backoff = d }
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishReconcile blocks.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...QueueOption) *Queue {
	q := &Queue{
		jobChan:   make(chan *jobs.ReconcileJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   DefaultWorkers,
		backoff:   time.Second,
		releases:  make(map[string]func()),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishReconcile implements the Publisher interface.
// The queue works on its own copy of job; the caller's copy receives the assigned ID,
// status and creation time.
func (q *Queue) PublishReconcile(ctx context.Context, job *jobs.ReconcileJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if q.lock != nil {
		release, err := q.lock.TryAcquire(job.Options.Scope)
		if err != nil {
			return err
		}
		q.holdRelease(job.JobID, release)
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			q.release(job.JobID)
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	queued := *job
	select {
	case q.jobChan <- &queued:
		return nil
	case <-ctx.Done():
		q.release(job.JobID)
		return ctx.Err()
	case <-q.closeChan:
		q.release(job.JobID)
		return jobs.ErrQueueClosed
	}
}

func (q *Queue) holdRelease(jobID string, release func()) {
	q.relMu.Lock()
	defer q.relMu.Unlock()
	q.releases[jobID] = release
}

func (q *Queue) release(jobID string) {
	q.relMu.Lock()
	release, ok := q.releases[jobID]
	delete(q.releases, jobID)
	q.relMu.Unlock()
	if ok {
		release()
	}
}

// Start implements the Consumer interface.
// It starts the configured number of workers, each processing one job at a time.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}

			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic. The scope claim is held across
// retries and released once the job reaches a final status.
func (q *Queue) processJob(ctx context.Context, job *jobs.ReconcileJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx)

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Error = err.Error()

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = jobs.JobStatusRetrying
			if q.store != nil {
				_ = q.store.SaveJob(ctx, job)
			}

			backoff := time.Duration(job.RetryCount) * q.backoff
			log.Warn().Err(err).Str("job_id", job.JobID).Dur("backoff", backoff).Msg("Retrying job")
			time.AfterFunc(backoff, func() { q.requeue(ctx, job) })
			return
		}
		job.Status = jobs.JobStatusFailed
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
	q.release(job.JobID)
}

// requeue puts a retrying job back on the queue, failing it when the queue stopped.
func (q *Queue) requeue(ctx context.Context, job *jobs.ReconcileJob) {
	job.Status = jobs.JobStatusPending
	job.StartedAt = nil
	job.CompletedAt = nil

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()

	if !closed {
		if q.store != nil {
			_ = q.store.SaveJob(ctx, job)
		}
		select {
		case q.jobChan <- job:
			return
		case <-q.closeChan:
		case <-ctx.Done():
		}
	}

	job.Status = jobs.JobStatusFailed
	if q.store != nil {
		_ = q.store.SaveJob(context.Background(), job)
	}
	q.release(job.JobID)
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
// It closes the queue and releases resources.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
