package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/reconcile"
)

var (
	// ErrJobNotFound is returned by stores for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned when publishing to or starting a stopped queue.
	ErrQueueClosed = errors.New("queue is closed")
	// ErrScopeBusy is returned when a run on an overlapping scope is already queued or running.
	ErrScopeBusy = errors.New("a reconciliation run on this scope is already in progress")
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeReconcile represents a reconciliation run.
	JobTypeReconcile JobType = "reconcile"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ReconcileJob is an asynchronous reconciliation run.
type ReconcileJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Options are passed to the orchestrator unchanged.
	Options reconcile.Options `json:"options"`

	// RequestedBy identifies the caller, usually the request ID.
	RequestedBy string `json:"requested_by,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// Report is set once the run finished, including runs that recorded item errors.
	Report *reconcile.Report `json:"report,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed. Runs are idempotent, so a
	// retried run picks up whatever the failed attempt left behind.
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ReconcileJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ReconcileJob) GetType() JobType {
	return JobTypeReconcile
}

// GetStatus implements the Job interface.
func (j *ReconcileJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishReconcile enqueues a reconciliation run. It returns ErrScopeBusy when a run
	// on an overlapping scope is already queued or running.
	PublishReconcile(ctx context.Context, job *ReconcileJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ReconcileJob) error

	// GetJob retrieves a job by ID. It returns ErrJobNotFound for unknown IDs.
	GetJob(ctx context.Context, jobID string) (*ReconcileJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ReconcileJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Scope filters jobs by cleanup scope.
	Scope reconcile.Scope

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
