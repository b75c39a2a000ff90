package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/api"
	"github.com/dvloznov/statement-reconciler/internal/api/handlers"
	"github.com/dvloznov/statement-reconciler/internal/app"
	"github.com/dvloznov/statement-reconciler/internal/config"
	"github.com/dvloznov/statement-reconciler/internal/jobs"
	"github.com/dvloznov/statement-reconciler/internal/jobs/inmemory"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/metrics"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to a YAML config file")
		port       = flag.Int("port", 0, "HTTP server port (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New().Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != 0 {
		cfg.API.Port = *port
	}

	log := app.NewLogger(cfg.Logging)
	if cfg.API.AdminToken == "" {
		log.Warn().Msg("No admin token configured - reconcile endpoints are unauthenticated")
	}

	ctx := logger.WithContext(context.Background(), log)

	// Metrics
	var engineOpts []reconcile.Option
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		engineOpts = append(engineOpts, reconcile.WithMetrics(metrics.New(reg)))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	a, err := app.New(ctx, cfg, engineOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise reconciler")
	}
	defer a.Close()

	// Initialize job infrastructure. The scope lock is shared by queued jobs and
	// synchronous runs.
	lock := jobs.NewScopeLock()
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore,
		inmemory.WithWorkers(cfg.API.Workers),
		inmemory.WithScopeLock(lock),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.API.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, jobs.NewReconcileHandler(a.Orchestrator, cfg.Reconcile.Timeout)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	defaults := app.DefaultOptions(cfg)
	handler := api.NewRouter(api.RouterConfig{
		Reconcile:   handlers.NewReconcileHandler(a.Orchestrator, lock, defaults, cfg.Reconcile.Timeout, log),
		Jobs:        handlers.NewJobsHandler(jobQueue, jobStore, defaults, log),
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
		AdminToken:  cfg.API.AdminToken,
		Log:         log,
	})

	// Synchronous runs can take up to the reconcile timeout.
	writeTimeout := 15 * time.Second
	if cfg.Reconcile.Timeout > 0 {
		writeTimeout += cfg.Reconcile.Timeout
	}

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.API.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Int("port", cfg.API.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs, then cancel whatever is left
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
