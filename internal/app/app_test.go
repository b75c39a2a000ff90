package app

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/config"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Default: "gcs", Prefix: "statements", StartYear: 2022},
		Reconcile: config.ReconcileConfig{
			BatchSize:               250,
			MaxRecords:              1000,
			ListPageSize:            50,
			ProbeConcurrency:        4,
			DeleteChunkSize:         300,
			Timeout:                 time.Minute,
			DeleteUnreferencedBlobs: true,
		},
	}
}

func TestEngineConfig(t *testing.T) {
	assert.Equal(t, reconcile.Config{
		Prefix:           "statements",
		StartYear:        2022,
		ListPageSize:     50,
		ProbeConcurrency: 4,
		DeleteChunkSize:  300,
	}, EngineConfig(testConfig()))
}

func TestDefaultOptionsArePreview(t *testing.T) {
	opts := DefaultOptions(testConfig())
	assert.True(t, opts.DryRun)
	assert.Equal(t, reconcile.ScopeAll, opts.Scope)
	assert.Equal(t, 250, opts.BatchSize)
	assert.Equal(t, 1000, opts.MaxRecords)
	assert.True(t, opts.DeleteUnreferencedBlobs)
}

func TestNewRegistry_DefaultMustBeConfigured(t *testing.T) {
	_, err := NewRegistry(context.Background(), config.StorageConfig{Default: "s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}
