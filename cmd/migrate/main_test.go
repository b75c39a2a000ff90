package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_create_files.sql", true, 1, "create_files"},
		{"0042_add_index.sql", true, 42, "add_index"},
		{"001_invalid.sql", false, 0, ""},
		{"0001_test", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"invalid_0001_test.sql", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseFilename(tt.filename)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestChecksumIgnoresTarget(t *testing.T) {
	content := []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.files` (id STRING);")

	assert.Equal(t, checksum(content), checksum([]byte(string(content))))
	assert.NotEqual(t, checksum(content), checksum([]byte("CREATE TABLE other (id STRING);")))
	assert.Equal(t, "CREATE TABLE `p.d.files` (id STRING);", render(content, Target{ProjectID: "p", DatasetID: "d"}))
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestReadMigrations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0002_statements.sql": "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.statements` (id STRING);",
		"0001_files.sql":      "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.files` (id STRING);",
		"README.md":           "not a migration",
	})

	migrations, err := readMigrations(zerolog.Nop(), dir, Target{ProjectID: "proj", DatasetID: "ds"})

	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "files", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE `proj.ds.files` (id STRING);", migrations[0].SQL)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Len(t, migrations[1].Checksum, 64)
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"0001_a.sql": "SELECT 1;",
		"0001_b.sql": "SELECT 2;",
	})

	_, err := readMigrations(zerolog.Nop(), dir, Target{ProjectID: "p", DatasetID: "d"})
	assert.ErrorContains(t, err, "version 0001")
}

func TestRepositoryMigrationsParse(t *testing.T) {
	dir, err := resolveDir("migrations/bigquery")
	require.NoError(t, err)

	migrations, err := readMigrations(zerolog.Nop(), dir, Target{ProjectID: "p", DatasetID: "d"})
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	for _, m := range migrations {
		assert.NotContains(t, m.SQL, "{{")
	}
}

func TestPlan(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Filename: "0001_a.sql", Checksum: "aaa"},
		{Version: 2, Filename: "0002_b.sql", Checksum: "bbb"},
		{Version: 3, Filename: "0003_c.sql", Checksum: "ccc"},
	}

	pending, err := plan(migrations, []AppliedMigration{{Version: 1, Checksum: "aaa"}, {Version: 2}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 3, pending[0].Version)

	_, err = plan(migrations, []AppliedMigration{{Version: 1, Checksum: "changed"}})
	assert.ErrorContains(t, err, "0001_a.sql")
}

func TestResolveTarget(t *testing.T) {
	target, err := resolveTarget("", "proj", "")
	require.NoError(t, err)
	assert.Equal(t, Target{ProjectID: "proj", DatasetID: "finance"}, target)

	_, err = resolveTarget("", "", "ds")
	assert.Error(t, err)
}
