package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/api/middleware"
	"github.com/dvloznov/statement-reconciler/internal/jobs"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Reconciler is the engine surface the handlers need. *reconcile.Orchestrator implements it.
type Reconciler interface {
	Run(ctx context.Context, opts reconcile.Options) (*reconcile.Report, error)
	Status(ctx context.Context, sample int) (*reconcile.StatusReport, error)
	State() reconcile.State
}

var _ Reconciler = (*reconcile.Orchestrator)(nil)

// RunRequest is the body of POST /api/reconcile/run and POST /api/reconcile/jobs.
// Omitted fields fall back to the configured defaults; dry_run defaults to true.
type RunRequest struct {
	BatchSize               *int   `json:"batch_size" validate:"omitempty,min=1,max=10000"`
	DryRun                  *bool  `json:"dry_run"`
	Scope                   string `json:"cleanup_scope" validate:"omitempty,oneof=all statementsOnly filesOnly"`
	MaxRecords              *int   `json:"max_records" validate:"omitempty,min=0"`
	DeleteUnreferencedBlobs *bool  `json:"delete_unreferenced_blobs"`

	// MaxRetries applies to queued jobs only.
	MaxRetries int `json:"max_retries" validate:"min=0,max=5"`
}

func (req RunRequest) options(defaults reconcile.Options) reconcile.Options {
	opts := defaults
	if req.BatchSize != nil {
		opts.BatchSize = *req.BatchSize
	}
	if req.DryRun != nil {
		opts.DryRun = *req.DryRun
	}
	if req.Scope != "" {
		opts.Scope = reconcile.Scope(req.Scope)
	}
	if req.MaxRecords != nil {
		opts.MaxRecords = *req.MaxRecords
	}
	if req.DeleteUnreferencedBlobs != nil {
		opts.DeleteUnreferencedBlobs = *req.DeleteUnreferencedBlobs
	}
	return opts
}

// ReconcileHandler serves the reconcile endpoints.
type ReconcileHandler struct {
	engine   Reconciler
	lock     *jobs.ScopeLock
	defaults reconcile.Options
	timeout  time.Duration
	validate *validator.Validate
	log      zerolog.Logger
}

// NewReconcileHandler creates a reconcile handler. lock must be shared with the job queue
// so synchronous runs and queued jobs exclude each other.
func NewReconcileHandler(engine Reconciler, lock *jobs.ScopeLock, defaults reconcile.Options, timeout time.Duration, log zerolog.Logger) *ReconcileHandler {
	return &ReconcileHandler{
		engine:   engine,
		lock:     lock,
		defaults: defaults,
		timeout:  timeout,
		validate: validator.New(),
		log:      log,
	}
}

// decodeRunRequest reads and validates a RunRequest, writing a 400 on failure.
func decodeRunRequest(w http.ResponseWriter, r *http.Request, v *validator.Validate) (RunRequest, bool) {
	var req RunRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if err := v.Struct(req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

// Status handles GET /api/reconcile/status
func (h *ReconcileHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sample := 0
	if s := r.URL.Query().Get("sample"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			middleware.WriteError(w, http.StatusBadRequest, "sample must be an integer between 1 and 1000")
			return
		}
		sample = n
	}

	st, err := h.engine.Status(ctx, sample)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute status")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute status")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, st)
}

// Run handles POST /api/reconcile/run. It runs synchronously and returns the full report.
func (h *ReconcileHandler) Run(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRunRequest(w, r, h.validate)
	if !ok {
		return
	}
	opts := req.options(h.defaults)

	release, err := h.lock.TryAcquire(opts.Scope)
	if err != nil {
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	}
	defer release()

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	log := logger.FromContext(ctx)
	report, err := h.engine.Run(ctx, opts)
	if err != nil {
		var runErr *reconcile.RunError
		switch {
		case errors.Is(err, reconcile.ErrInvalidOptions):
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &runErr):
			log.Error().Err(err).Msg("Reconciliation run aborted")
			middleware.WriteJSON(w, http.StatusInternalServerError, map[string]string{
				"error":     runErr.Err.Error(),
				"run_id":    runErr.RunID,
				"failed_in": string(runErr.State),
			})
		default:
			log.Error().Err(err).Msg("Reconciliation run failed")
			middleware.WriteError(w, http.StatusInternalServerError, "Reconciliation run failed")
		}
		return
	}

	middleware.WriteJSON(w, http.StatusOK, report)
}

// Health handles GET /health
func (h *ReconcileHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"state":  string(h.engine.State()),
		"time":   time.Now().Format(time.RFC3339),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	defaults  reconcile.Options
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(publisher jobs.Publisher, store jobs.JobStore, defaults reconcile.Options, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		publisher: publisher,
		store:     store,
		defaults:  defaults,
		validate:  validator.New(),
		log:       log,
	}
}

// EnqueueRun handles POST /api/reconcile/jobs
func (h *JobsHandler) EnqueueRun(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRunRequest(w, r, h.validate)
	if !ok {
		return
	}
	ctx := r.Context()

	job := &jobs.ReconcileJob{
		Options:     req.options(h.defaults),
		RequestedBy: middleware.GetRequestID(ctx),
		MaxRetries:  req.MaxRetries,
	}

	if err := h.publisher.PublishReconcile(ctx, job); err != nil {
		switch {
		case errors.Is(err, jobs.ErrScopeBusy):
			middleware.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, jobs.ErrQueueClosed):
			middleware.WriteError(w, http.StatusServiceUnavailable, "Job queue is shutting down")
		default:
			h.log.Error().Err(err).Msg("Failed to enqueue reconcile job")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue reconcile job")
		}
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("scope", string(job.Options.Scope)).
		Bool("dry_run", job.Options.DryRun).
		Msg("Reconcile job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// GetJob handles GET /api/reconcile/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/reconcile/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}

	if s := query.Get("scope"); s != "" {
		scope, err := reconcile.ParseScope(s)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Scope = scope
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
