// Package api assembles the reconciler HTTP surface.
package api

import (
	"net/http"
	"strings"

	"github.com/dvloznov/statement-reconciler/internal/api/handlers"
	"github.com/dvloznov/statement-reconciler/internal/api/middleware"
	"github.com/rs/zerolog"
)

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	Reconcile *handlers.ReconcileHandler
	Jobs      *handlers.JobsHandler

	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string

	// AdminToken protects every route except /health and the metrics path.
	AdminToken string

	Log zerolog.Logger
}

func methodNotAllowed(w http.ResponseWriter) {
	middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// NewRouter builds the mux and wraps it in the middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/reconcile/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			cfg.Reconcile.Status(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/reconcile/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			cfg.Reconcile.Run(w, r)
		} else {
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/reconcile/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			cfg.Jobs.ListJobs(w, r)
		case http.MethodPost:
			cfg.Jobs.EnqueueRun(w, r)
		default:
			methodNotAllowed(w)
		}
	})

	mux.HandleFunc("/api/reconcile/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/reconcile/jobs/")
		if jobID == "" || strings.Contains(jobID, "/") {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		cfg.Jobs.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/health", cfg.Reconcile.Health)

	public := []string{"/health"}
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, cfg.Metrics)
		public = append(public, path)
	}

	return middleware.RequestID(
		middleware.Recovery(cfg.Log)(
			middleware.Logger(cfg.Log)(
				middleware.CORS(
					middleware.AdminAuth(cfg.AdminToken, public...)(mux),
				),
			),
		),
	)
}
