package main

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/dvloznov/statement-reconciler/internal/config"
	"github.com/dvloznov/statement-reconciler/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Reconcile: config.ReconcileConfig{
			BatchSize:    100,
			MaxRecords:   500,
			StatusSample: 20,
			Timeout:      10 * time.Minute,
		},
	}
}

func TestParseFlags_Modes(t *testing.T) {
	tests := []struct {
		args []string
		want mode
	}{
		{[]string{"--preview"}, modePreview},
		{[]string{"--execute"}, modeExecute},
		{[]string{"-verify"}, modeVerify},
	}

	for _, tt := range tests {
		opts, err := parseFlags(tt.args, io.Discard)
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.want, opts.mode)
		assert.Equal(t, reconcile.ScopeAll, opts.scope)
	}
}

func TestParseFlags_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no mode", nil},
		{"two modes", []string{"--preview", "--execute"}},
		{"bad scope", []string{"--preview", "--scope", "blobs"}},
		{"zero batch", []string{"--preview", "--batch-size", "0"}},
		{"negative max", []string{"--preview", "--max-records", "-1"}},
		{"sample too big", []string{"--verify", "--sample", "5000"}},
		{"stray argument", []string{"--preview", "extra"}},
		{"unknown flag", []string{"--preview", "--force"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	var buf bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &buf)
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, buf.String(), "--preview | --execute | --verify")
}

func TestRunOptions_ConfigDefaults(t *testing.T) {
	opts, err := parseFlags([]string{"--preview", "--scope", "files-only"}, io.Discard)
	require.NoError(t, err)

	got := opts.runOptions(testConfig())
	assert.True(t, got.DryRun)
	assert.Equal(t, reconcile.ScopeFilesOnly, got.Scope)
	assert.Equal(t, 100, got.BatchSize)
	assert.Equal(t, 500, got.MaxRecords)
	assert.False(t, got.DeleteUnreferencedBlobs)
	assert.Equal(t, 20, opts.sampleSize(testConfig()))
	assert.Equal(t, 10*time.Minute, opts.runTimeout(testConfig()))
}

func TestRunOptions_FlagsOverride(t *testing.T) {
	opts, err := parseFlags([]string{
		"--execute", "--batch-size", "25", "--max-records", "0",
		"--delete-unreferenced-blobs", "--timeout", "30s",
	}, io.Discard)
	require.NoError(t, err)

	got := opts.runOptions(testConfig())
	assert.False(t, got.DryRun)
	assert.Equal(t, 25, got.BatchSize)
	assert.Equal(t, 0, got.MaxRecords, "an explicit zero lifts the configured cap")
	assert.True(t, got.DeleteUnreferencedBlobs)
	assert.Equal(t, 30*time.Second, opts.runTimeout(testConfig()))
}

func TestRun_UsageErrorExitCode(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{"--preview", "--verify"}, io.Discard, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "exactly one of")
}

func TestLogProgress(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.InfoLevel)
	fn := logProgress(log)

	fn(reconcile.Progress{RunID: "r1", State: reconcile.StateIndexing})
	fn(reconcile.Progress{RunID: "r1", State: reconcile.StateScanning, Processed: 0})
	fn(reconcile.Progress{RunID: "r1", State: reconcile.StateScanning, Processed: 100})

	out := buf.String()
	assert.Contains(t, out, `"state":"indexing"`)
	assert.Contains(t, out, `"state":"scanning"`)
	assert.NotContains(t, out, `"processed":100`, "batch progress logs at debug")
}

func TestEmitJSON(t *testing.T) {
	var buf bytes.Buffer
	st := &reconcile.StatusReport{TotalStatements: 3}

	code := emit(&buf, true, st, func() { t.Fatal("table printed in JSON mode") }, zerolog.Nop())

	assert.Equal(t, exitOK, code)
	assert.Contains(t, buf.String(), `"total_statements": 3`)
}
