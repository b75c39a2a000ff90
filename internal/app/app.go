// Package app wires configuration into a ready reconciliation orchestrator. It is shared by
// the reconcile CLI and the API server.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/statement-reconciler/internal/config"
	infraBQ "github.com/dvloznov/statement-reconciler/internal/infra/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/dvloznov/statement-reconciler/internal/storage"
	"github.com/dvloznov/statement-reconciler/internal/storage/gcs"
	"github.com/dvloznov/statement-reconciler/internal/storage/s3"
	"github.com/rs/zerolog"
)

// App owns the clients behind an orchestrator.
type App struct {
	Orchestrator *reconcile.Orchestrator
	Registry     *storage.Registry

	repos *infraBQ.Repositories
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) zerolog.Logger {
	return logger.NewWithOptions(logger.Options{Level: cfg.Level, Format: cfg.Format})
}

// EngineConfig maps configuration onto the orchestrator's static settings.
func EngineConfig(cfg *config.Config) reconcile.Config {
	return reconcile.Config{
		Prefix:           cfg.Storage.Prefix,
		StartYear:        cfg.Storage.StartYear,
		ListPageSize:     cfg.Reconcile.ListPageSize,
		ProbeConcurrency: cfg.Reconcile.ProbeConcurrency,
		DeleteChunkSize:  cfg.Reconcile.DeleteChunkSize,
	}
}

// DefaultOptions returns the per-run options configured as defaults. It is a dry run
// unless the caller says otherwise.
func DefaultOptions(cfg *config.Config) reconcile.Options {
	return reconcile.Options{
		BatchSize:               cfg.Reconcile.BatchSize,
		DryRun:                  true,
		Scope:                   reconcile.ScopeAll,
		MaxRecords:              cfg.Reconcile.MaxRecords,
		DeleteUnreferencedBlobs: cfg.Reconcile.DeleteUnreferencedBlobs,
	}
}

// NewRegistry opens a provider for every configured bucket.
func NewRegistry(ctx context.Context, cfg config.StorageConfig) (*storage.Registry, error) {
	registry := storage.NewRegistry()

	if cfg.GCS.Bucket != "" {
		p, err := gcs.NewFromBucket(ctx, cfg.GCS.Bucket)
		if err != nil {
			return nil, fmt.Errorf("NewRegistry: %w", err)
		}
		registry.Register(p)
	}

	if cfg.S3.Bucket != "" {
		p, err := s3.NewFromConfig(ctx, s3.Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			KeyPrefix:      cfg.S3.KeyPrefix,
			ForcePathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("NewRegistry: %w", err)
		}
		registry.Register(p)
	}

	if err := registry.SetDefault(storage.Kind(cfg.Default)); err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("NewRegistry: %w", err)
	}
	return registry, nil
}

// New opens BigQuery and the storage providers and builds the orchestrator.
func New(ctx context.Context, cfg *config.Config, opts ...reconcile.Option) (*App, error) {
	repos, err := infraBQ.NewRepositories(ctx, infraBQ.Dataset{
		ProjectID: cfg.BigQuery.ProjectID,
		DatasetID: cfg.BigQuery.DatasetID,
	})
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}

	registry, err := NewRegistry(ctx, cfg.Storage)
	if err != nil {
		_ = repos.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("project", cfg.BigQuery.ProjectID).
		Str("dataset", cfg.BigQuery.DatasetID).
		Interface("providers", registry.Kinds()).
		Msg("Connected to metadata and storage")

	orch := reconcile.New(reconcile.Dependencies{
		Statements:   repos.Statements,
		Files:        repos.Files,
		Transactions: repos.Transactions,
		Registry:     registry,
	}, EngineConfig(cfg), opts...)

	return &App{Orchestrator: orch, Registry: registry, repos: repos}, nil
}

// Close releases the storage and BigQuery clients.
func (a *App) Close() error {
	return errors.Join(a.Registry.Close(), a.repos.Close())
}
