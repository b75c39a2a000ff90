// Command migrate applies the numbered SQL files under migrations/bigquery to the
// configured dataset, recording each in schema_migrations.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-reconciler/internal/config"
	"github.com/dvloznov/statement-reconciler/internal/logger"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Target is the dataset migrations are applied to.
type Target struct {
	ProjectID string
	DatasetID string
}

func (t Target) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", t.ProjectID, t.DatasetID, name)
}

// Pattern to match migration files: 0001_name.sql
var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// parseFilename extracts the version and name from a migration filename.
func parseFilename(filename string) (int, string, bool) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// checksum is computed from the file before placeholder substitution, so the same
// migration applied to different datasets has the same checksum.
func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

func render(content []byte, target Target) string {
	sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", target.ProjectID)
	return strings.ReplaceAll(sql, "{{DATASET_ID}}", target.DatasetID)
}

// readMigrations reads all migration files from dir, sorted by version.
func readMigrations(log zerolog.Logger, dir string, target Target) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("readMigrations: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		version, name, ok := parseFilename(file.Name())
		if !ok {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("readMigrations: version %04d used by %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("readMigrations: reading %s: %w", file.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      render(content, target),
			Checksum: checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// resolveDir finds the migrations directory from the repo root or from cmd/migrate.
func resolveDir(dir string) (string, error) {
	for _, candidate := range []string{dir, filepath.Join("..", "..", dir)} {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("migrations directory not found: %s", dir)
}

// plan returns the migrations not yet applied. A checksum mismatch on an applied
// migration is an error: applied files must not be edited.
func plan(migrations []Migration, applied []AppliedMigration) ([]Migration, error) {
	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	var pending []Migration
	for _, m := range migrations {
		am, ok := appliedByVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			return nil, fmt.Errorf("plan: migration %s was modified after being applied", m.Filename)
		}
	}
	return pending, nil
}

func main() {
	var (
		configPath    = flag.String("config", "", "Path to a YAML config file")
		projectID     = flag.String("project", "", "GCP project ID (overrides config)")
		datasetID     = flag.String("dataset", "", "BigQuery dataset ID (overrides config)")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "migrations/bigquery", "Path to migrations directory")
		statusOnly    = flag.Bool("status", false, "List pending migrations without applying them")
	)
	flag.Parse()

	log := logger.New()

	target, err := resolveTarget(*configPath, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	client, err := bigquery.NewClient(ctx, target.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	log.Info().Str("project", target.ProjectID).Str("dataset", target.DatasetID).Msg("Connected to BigQuery")

	if err := ensureSchemaMigrationsTable(ctx, client, target); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	dir, err := resolveDir(*migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate migrations")
	}
	migrations, err := readMigrations(log, dir, target)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	applied, err := getAppliedMigrations(ctx, client, target)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get applied migrations")
	}
	log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	pending, err := plan(migrations, applied)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration history does not match files")
	}

	if *statusOnly {
		for _, m := range pending {
			log.Info().Str("migration", m.Filename).Msg("Pending")
		}
		log.Info().Int("pending", len(pending)).Msg("Status complete")
		return
	}

	for _, m := range pending {
		mlog := log.With().Str("migration", m.Filename).Logger()
		mlog.Info().Msg("Applying migration")

		if err := runStatement(ctx, client, m.SQL, nil); err != nil {
			mlog.Fatal().Err(err).Msg("Failed to execute migration")
		}
		if err := recordMigration(ctx, client, target, m, *appliedBy); err != nil {
			mlog.Fatal().Err(err).Msg("Failed to record migration")
		}

		mlog.Info().Msg("Migration applied")
	}

	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", len(pending)).Msg("Successfully applied migrations")
	}
}

// resolveTarget reads the bigquery section of the config file and applies flag overrides.
func resolveTarget(configPath, projectID, datasetID string) (Target, error) {
	target := Target{DatasetID: "finance"}

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return target, err
		}
		target = Target{ProjectID: cfg.BigQuery.ProjectID, DatasetID: cfg.BigQuery.DatasetID}
	}
	if projectID != "" {
		target.ProjectID = projectID
	}
	if datasetID != "" {
		target.DatasetID = datasetID
	}

	if target.ProjectID == "" {
		return target, errors.New("a project ID is required: pass -project or -config")
	}
	return target, nil
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func ensureSchemaMigrationsTable(ctx context.Context, client *bigquery.Client, target Target) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, target.table("schema_migrations"))

	if err := runStatement(ctx, client, sql, nil); err != nil {
		return fmt.Errorf("ensureSchemaMigrationsTable: %w", err)
	}
	return nil
}

// getAppliedMigrations retrieves the list of already applied migrations
func getAppliedMigrations(ctx context.Context, client *bigquery.Client, target Target) ([]AppliedMigration, error) {
	sql := fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, target.table("schema_migrations"))

	it, err := client.Query(sql).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("getAppliedMigrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time `bigquery:"applied_at"`
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("getAppliedMigrations: iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}

	return applied, nil
}

// recordMigration records a successfully applied migration in schema_migrations
func recordMigration(ctx context.Context, client *bigquery.Client, target Target, m Migration, appliedBy string) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, target.table("schema_migrations"))

	err := runStatement(ctx, client, sql, []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	})
	if err != nil {
		return fmt.Errorf("recordMigration: %w", err)
	}
	return nil
}

// runStatement runs a DDL or DML statement and waits for it to finish.
func runStatement(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) error {
	query := client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}

	return nil
}
