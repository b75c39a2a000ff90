// Package config loads reconciler settings from a YAML file and RECONCILER_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix, e.g. RECONCILER_STORAGE_GCS_BUCKET.
const EnvPrefix = "RECONCILER"

// Config is the full reconciler configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	BigQuery  BigQueryConfig  `mapstructure:"bigquery"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	API       APIConfig       `mapstructure:"api"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggingConfig selects the zerolog level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

// BigQueryConfig locates the statements, files and transactions tables.
type BigQueryConfig struct {
	ProjectID string `mapstructure:"project_id" validate:"required"`
	DatasetID string `mapstructure:"dataset_id" validate:"required"`
}

// StorageConfig configures the blob providers. At least one bucket must be set, and the
// default provider must be one of the configured ones.
type StorageConfig struct {
	// Default is the provider assumed for file records without storage_provider.
	Default string `mapstructure:"default" validate:"required,oneof=gcs s3"`

	// Prefix is the managed blob prefix; blobs live under Prefix/<year>/<month>/.
	Prefix string `mapstructure:"prefix" validate:"required"`

	// StartYear is the first year root that is listed.
	StartYear int `mapstructure:"start_year" validate:"min=1970,max=9999"`

	GCS GCSConfig `mapstructure:"gcs"`
	S3  S3Config  `mapstructure:"s3"`
}

// GCSConfig configures the Google Cloud Storage provider.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// S3Config configures the S3 provider.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint" validate:"omitempty,url"`
	KeyPrefix string `mapstructure:"key_prefix"`
	PathStyle bool   `mapstructure:"path_style"`
}

// ReconcileConfig holds engine defaults. CLI flags and API requests override the per-run ones.
type ReconcileConfig struct {
	BatchSize        int           `mapstructure:"batch_size" validate:"min=1,max=10000"`
	MaxRecords       int           `mapstructure:"max_records" validate:"min=0"`
	ListPageSize     int           `mapstructure:"list_page_size" validate:"min=1,max=1000"`
	ProbeConcurrency int           `mapstructure:"probe_concurrency" validate:"min=1,max=64"`
	DeleteChunkSize  int           `mapstructure:"delete_chunk_size" validate:"min=1,max=10000"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gte=0"`
	StatusSample     int           `mapstructure:"status_sample" validate:"min=1,max=1000"`

	// DeleteUnreferencedBlobs removes blobs no file record points at.
	DeleteUnreferencedBlobs bool `mapstructure:"delete_unreferenced_blobs"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// AdminToken is required as a bearer token on reconcile endpoints. Empty disables auth.
	AdminToken string `mapstructure:"admin_token"`

	Workers         int           `mapstructure:"workers" validate:"min=1,max=16"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required,startswith=/"`
}

// setDefaults registers every key so environment variables override them even without
// a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset_id", "finance")

	v.SetDefault("storage.default", "gcs")
	v.SetDefault("storage.prefix", "statements")
	v.SetDefault("storage.start_year", 2020)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.key_prefix", "")
	v.SetDefault("storage.s3.path_style", false)

	v.SetDefault("reconcile.batch_size", 100)
	v.SetDefault("reconcile.max_records", 0)
	v.SetDefault("reconcile.list_page_size", 100)
	v.SetDefault("reconcile.probe_concurrency", 1)
	v.SetDefault("reconcile.delete_chunk_size", 500)
	v.SetDefault("reconcile.timeout", 10*time.Minute)
	v.SetDefault("reconcile.status_sample", 20)
	v.SetDefault("reconcile.delete_unreferenced_blobs", false)

	v.SetDefault("api.port", 8080)
	v.SetDefault("api.admin_token", "")
	v.SetDefault("api.workers", 1)
	v.SetDefault("api.shutdown_timeout", 30*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads configPath (optional; a missing file is not an error), applies
// RECONCILER_* environment overrides and validates the result.
//
// Precedence, highest first: environment, config file, defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("Load: read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	c.Storage.Default = strings.ToLower(c.Storage.Default)
	c.Storage.Prefix = strings.Trim(c.Storage.Prefix, "/")
}

var validate = validator.New()

// Validate checks struct tags and the cross-field storage rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s := cfg.Storage
	if s.GCS.Bucket == "" && s.S3.Bucket == "" {
		return fmt.Errorf("invalid configuration: storage.gcs.bucket or storage.s3.bucket must be set")
	}
	if s.Default == "gcs" && s.GCS.Bucket == "" {
		return fmt.Errorf("invalid configuration: default provider gcs has no bucket")
	}
	if s.Default == "s3" && s.S3.Bucket == "" {
		return fmt.Errorf("invalid configuration: default provider s3 has no bucket")
	}
	return nil
}
