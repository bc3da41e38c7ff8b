package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	verrors "github.com/23skdu/vecbench/internal/errors"
	"github.com/23skdu/vecbench/internal/limiter"
	"github.com/23skdu/vecbench/internal/objstore"
	"github.com/23skdu/vecbench/internal/provider/qdrant"
	"github.com/23skdu/vecbench/internal/query"
	"github.com/23skdu/vecbench/internal/telemetry"
)

// EnvPrefix prefixes every environment variable read by Config.
const EnvPrefix = "VECBENCH"

// Config validation errors
var (
	ErrInvalidLogFormat  = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel   = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidCacheDir   = errors.New("cache_dir cannot be empty")
	ErrInvalidFaultRate  = errors.New("fault rates must be within [0, 1]")
	ErrInvalidVectorSize = errors.New("qdrant_vector_size must be positive")
	ErrInvalidDataset    = errors.New("dataset must contain exactly one %s for the size tag")
	ErrInvalidSampling   = errors.New("otel_trace_sample_ratio must be within [0, 1]")
	ErrInvalidQPS        = errors.New("query_max_qps must not be negative")
)

// Config is the process configuration, read from VECBENCH_* variables.
type Config struct {
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	CacheDir  string `envconfig:"CACHE_DIR" default:"/tmp/vecbench"`
	// MetricsAddr serves /metrics when set, e.g. "0.0.0.0:9090".
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	// Dataset is the read-write dataset template.
	Dataset string `envconfig:"DATASET" default:"s3://topk-bench/docs-%s.parquet"`

	Telemetry telemetry.Config `envconfig:"OTEL"`
	Query     limiter.Config   `envconfig:"QUERY"`

	S3Region    string `envconfig:"S3_REGION"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3PathStyle bool   `envconfig:"S3_PATH_STYLE" default:"false"`

	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinioRegion    string `envconfig:"MINIO_REGION"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"true"`

	MemoryVisibilityDelay time.Duration `envconfig:"MEMORY_VISIBILITY_DELAY" default:"0s"`
	DuckDBPath            string        `envconfig:"DUCKDB_PATH"`
	QdrantAddr            string        `envconfig:"QDRANT_ADDR" default:"localhost:6334"`
	QdrantAPIKey          string        `envconfig:"QDRANT_API_KEY"`
	QdrantTLS             bool          `envconfig:"QDRANT_TLS" default:"false"`
	QdrantVectorSize      uint64        `envconfig:"QDRANT_VECTOR_SIZE" default:"768"`
	FlightAddr            string        `envconfig:"FLIGHT_ADDR" default:"localhost:3000"`

	// Fault injection rates applied to upserts and queries of any provider.
	FaultUpsertRate float64 `envconfig:"FAULT_UPSERT_RATE" default:"0"`
	FaultQueryRate  float64 `envconfig:"FAULT_QUERY_RATE" default:"0"`
	FaultSeed       uint64  `envconfig:"FAULT_SEED" default:"1"`
}

// LoadConfig reads envFile when it exists, then the environment.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, verrors.Wrap(err, verrors.ErrorTypeConfiguration, "load_config", "invalid configuration")
	}
	return &cfg, nil
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	if cfg.CacheDir == "" {
		return ErrInvalidCacheDir
	}
	if !validRate(cfg.FaultUpsertRate) || !validRate(cfg.FaultQueryRate) {
		return ErrInvalidFaultRate
	}
	if cfg.QdrantVectorSize == 0 {
		return ErrInvalidVectorSize
	}
	if strings.Count(cfg.Dataset, "%s") != 1 {
		return ErrInvalidDataset
	}
	if cfg.Telemetry.Enabled() && !validRate(cfg.Telemetry.SampleRatio) {
		return ErrInvalidSampling
	}
	if cfg.Query.RPS < 0 {
		return ErrInvalidQPS
	}
	return nil
}

func validRate(r float64) bool {
	return r >= 0 && r <= 1
}

// S3Config builds the S3 backend configuration.
func (c *Config) S3Config() objstore.S3Config {
	s3 := objstore.DefaultS3Config()
	s3.Region = c.S3Region
	s3.Endpoint = c.S3Endpoint
	s3.UsePathStyle = c.S3PathStyle
	return s3
}

// MinioConfig builds the MinIO backend configuration.
func (c *Config) MinioConfig() objstore.MinioConfig {
	return objstore.MinioConfig{
		Endpoint:  c.MinioEndpoint,
		AccessKey: c.MinioAccessKey,
		SecretKey: c.MinioSecretKey,
		Region:    c.MinioRegion,
		UseSSL:    c.MinioUseSSL,
	}
}

// QdrantConfig builds the qdrant provider configuration.
func (c *Config) QdrantConfig() qdrant.Config {
	return qdrant.Config{
		Addr:       c.QdrantAddr,
		APIKey:     c.QdrantAPIKey,
		UseTLS:     c.QdrantTLS,
		VectorSize: c.QdrantVectorSize,
	}
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	qd := qdrant.DefaultConfig()
	return Config{
		LogFormat:        "console",
		LogLevel:         "info",
		CacheDir:         "/tmp/vecbench",
		Dataset:          query.DefaultDataset,
		Telemetry:        telemetry.Config{ServiceName: "vecbench", ServiceVersion: "dev", SampleRatio: 1},
		MinioUseSSL:      true,
		QdrantAddr:       qd.Addr,
		QdrantVectorSize: qd.VectorSize,
		FlightAddr:       "localhost:3000",
		FaultSeed:        1,
	}
}
