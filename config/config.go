package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "config/config.yml"

var envPaths = map[string]string{
	EnvironmentProduction: "config/config.production.yml",
	EnvironmentStaging:    "config/config.staging.yml",
}

type Config struct {
	App       AppConfig       `yaml:"app"`
	Paths     PathsConfig     `yaml:"paths"`
	Source    SourceConfig    `yaml:"source"`
	Selection SelectionConfig `yaml:"selection"`
	Database  DatabaseConfig  `yaml:"database"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version" validate:"required"`
}

// PathsConfig locates every artifact the pipeline reads or writes.
type PathsConfig struct {
	RawDir        string `yaml:"raw_dir" validate:"required"`
	Manifest      string `yaml:"manifest" validate:"required"`
	NormalizedDir string `yaml:"normalized_dir" validate:"required"`
	TickersFile   string `yaml:"tickers_file" validate:"required"`
	PanelFile     string `yaml:"panel_file" validate:"required"`
	ReturnsFile   string `yaml:"returns_file" validate:"required"`
	SampleDir     string `yaml:"sample_dir" validate:"required"`
	ReportFile    string `yaml:"report_file" validate:"required"`
	MetadataDir   string `yaml:"metadata_dir" validate:"required"`
}

// SourceConfig describes the chart endpoint.
type SourceConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	AccessToken       string        `yaml:"access_token"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	ChartID           int           `yaml:"chart_id" validate:"gte=0"`
	Period            int           `yaml:"period" validate:"gte=0"`
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int           `yaml:"burst" validate:"gte=1"`
	TickersFile       string        `yaml:"tickers_file"`
	LookbackYears     int           `yaml:"lookback_years" validate:"gte=1"`
}

type SelectionConfig struct {
	MinRows     int    `yaml:"min_rows" validate:"gte=0"`
	MinStart    string `yaml:"min_start" validate:"omitempty,datetime=2006-01-02"`
	MinSpanDays int    `yaml:"min_span_days" validate:"gte=0"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver" validate:"oneof=postgres mysql sqlite"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port" validate:"gte=0,lte=65535"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Name      string `yaml:"name"`
	SSLMode   string `yaml:"sslmode"`
	Path      string `yaml:"path"`
	Table     string `yaml:"table" validate:"required"`
	BatchSize int    `yaml:"batch_size" validate:"gt=0"`
}

type WriterConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
	CSV     CSVConfig     `yaml:"csv"`
}

type ParquetConfig struct {
	Compression  string `yaml:"compression" validate:"oneof=snappy gzip none uncompressed"`
	RowGroupSize int64  `yaml:"row_group_size" validate:"gte=0"`
	Parallelism  int64  `yaml:"parallelism" validate:"gte=1"`
}

type CSVConfig struct {
	FloatPrecision int `yaml:"float_precision" validate:"gte=-1"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	PushgatewayURL string           `yaml:"pushgateway_url" validate:"omitempty,url"`
	Job            string           `yaml:"job"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json text"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age" validate:"gte=0"`
}

// envOverrides are the deployment settings that come from the process
// environment (or a .env file) rather than the YAML file.
type envOverrides struct {
	PostgresUser     string `envconfig:"POSTGRES_USER"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresHost     string `envconfig:"POSTGRES_HOST"`
	PostgresPort     string `envconfig:"POSTGRES_PORT"`
	PostgresDB       string `envconfig:"POSTGRES_DB"`
	APIBase          string `envconfig:"CSE_API_BASE"`
	AccessToken      string `envconfig:"CSE_ACCESS_TOKEN"`
	AWSAccessKeyID   string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey     string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion        string `envconfig:"AWS_REGION"`
	S3Bucket         string `envconfig:"S3_BUCKET"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		App: AppConfig{Name: "cseflow", Version: "0.1.0"},
		Paths: PathsConfig{
			RawDir:        "data/cse/raw",
			Manifest:      "data/cse/raw/manifest.csv",
			NormalizedDir: "data/cse/normalized",
			TickersFile:   "data/tickers_used.csv",
			PanelFile:     "data/processed/prices_long.parquet",
			ReturnsFile:   "data/processed/prices_with_returns.parquet",
			SampleDir:     "data/sample",
			ReportFile:    "data/processed/report.xlsx",
			MetadataDir:   "data/processed/_metadata",
		},
		Source: SourceConfig{
			BaseURL:           "https://www.cse.lk",
			Timeout:           60 * time.Second,
			ChartID:           1,
			Period:            1,
			UserAgent:         "Mozilla/5.0",
			RequestsPerSecond: 1,
			Burst:             1,
			TickersFile:       "config/tickers.yml",
			LookbackYears:     20,
		},
		Selection: SelectionConfig{MinRows: 50},
		Database: DatabaseConfig{
			Driver:    "postgres",
			Host:      "localhost",
			Port:      5432,
			SSLMode:   "disable",
			Path:      "data/cse.db",
			Table:     "cse_prices",
			BatchSize: 1000,
		},
		Writer: WriterConfig{
			Parquet: ParquetConfig{Compression: "snappy", RowGroupSize: 128 * 1024 * 1024, Parallelism: 4},
			CSV:     CSVConfig{FloatPrecision: -1},
		},
		Metrics: MetricsConfig{Job: "cseflow"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig reads the YAML file at path on top of Default, applies
// environment overrides and validates the result. When path is the default
// location an APP_ENV specific file is preferred, and a missing default file
// is not an error.
func LoadConfig(path string) (*Config, error) {
	explicit := path != "" && path != DefaultPath
	path = resolveEnvSpecificPath(path, DefaultPath, envPaths)

	config := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	config.Source.BaseURL = TrimAPISuffix(config.Source.BaseURL)
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	setString(&cfg.Database.User, env.PostgresUser)
	setString(&cfg.Database.Password, env.PostgresPassword)
	setString(&cfg.Database.Host, env.PostgresHost)
	setString(&cfg.Database.Name, env.PostgresDB)
	if p := strings.TrimSpace(env.PostgresPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid POSTGRES_PORT %q: %w", p, err)
		}
		cfg.Database.Port = port
	}
	setString(&cfg.Source.BaseURL, env.APIBase)
	setString(&cfg.Source.AccessToken, env.AccessToken)

	if cfg.Storage.S3.Enabled {
		setString(&cfg.Storage.S3.AccessKeyID, env.AWSAccessKeyID)
		setString(&cfg.Storage.S3.SecretAccessKey, env.AWSSecretKey)
		setString(&cfg.Storage.S3.Region, env.AWSRegion)
		setString(&cfg.Storage.S3.Bucket, env.S3Bucket)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// TrimAPISuffix drops a trailing slash and "/api" so that both
// https://host and https://host/api resolve to the same chart endpoint.
func TrimAPISuffix(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	base = strings.TrimSuffix(base, "/api")
	return strings.TrimRight(base, "/")
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite driver")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if (cfg.Storage.S3.AccessKeyID == "") != (cfg.Storage.S3.SecretAccessKey == "") {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key must be set together")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
