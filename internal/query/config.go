// Package query drives a provider through a vector query workload and
// measures throughput, latency, availability and recall.
package query

import (
	"fmt"
	"strconv"
	"time"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/errors"
	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/provider"
)

const (
	// MaxTopK is the deepest ground truth carried by query sets.
	MaxTopK = 100
	// DefaultDataset locates the read-write dataset; %s is the size tag.
	DefaultDataset = "s3://topk-bench/docs-%s.parquet"
	// FilterMode is the mode whose runs end with a recall pass.
	FilterMode = "filter"
)

// Config describes one query run.
type Config struct {
	Collection    string
	Queries       string
	TopK          int
	IntFilter     *uint32
	KeywordFilter *string
	Concurrency   int
	Size          string
	Timeout       time.Duration
	Warmup        bool
	ReadWrite     bool
	Mode          string
	CacheDir      string
	// MaxQPS throttles query generation; 0 disables it.
	MaxQPS float64
	// Dataset is the read-write dataset template; empty is DefaultDataset.
	Dataset string
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if err := dataset.ValidateSize(cfg.Size); err != nil {
		return nil, err
	}
	switch {
	case cfg.Collection == "":
		return nil, errors.NewConfigurationError("query_config", "collection is required")
	case cfg.TopK <= 0 || cfg.TopK > MaxTopK:
		return nil, errors.NewConfigurationError("query_config", "top_k must be between 1 and 100").
			WithContext("top_k", cfg.TopK)
	case cfg.Concurrency <= 0:
		return nil, errors.NewConfigurationError("query_config", "concurrency must be positive").
			WithContext("concurrency", cfg.Concurrency)
	case cfg.Timeout <= 0:
		return nil, errors.NewConfigurationError("query_config", "timeout must be positive").
			WithContext("timeout", cfg.Timeout.String())
	case cfg.Queries == "" && (!cfg.ReadWrite || cfg.MeasuresRecall()):
		return nil, errors.NewConfigurationError("query_config", "queries is required")
	case cfg.MaxQPS < 0:
		return nil, errors.NewConfigurationError("query_config", "max qps must not be negative")
	}
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	return &cfg, nil
}

// MeasuresRecall reports whether the run ends with a recall pass.
func (c *Config) MeasuresRecall() bool {
	return c.Mode == FilterMode && !c.Warmup
}

// Filter returns the provider filter for the configured facets.
func (c *Config) Filter() provider.Filter {
	return provider.Filter{Int: c.IntFilter, Keyword: c.KeywordFilter}
}

// DatasetURI is the read-write dataset for the configured size.
func (c *Config) DatasetURI() string {
	return fmt.Sprintf(c.Dataset, c.Size)
}

// Labels returns the label set attached to every metric of the run.
func (c *Config) Labels(providerName, runID string) map[string]string {
	intFilter := ""
	if c.IntFilter != nil {
		intFilter = strconv.FormatUint(uint64(*c.IntFilter), 10)
	}
	keywordFilter := ""
	if c.KeywordFilter != nil {
		keywordFilter = *c.KeywordFilter
	}
	return map[string]string{
		metrics.RunIDLabel: runID,
		"provider":         providerName,
		"collection":       c.Collection,
		"queries":          c.Queries,
		"top_k":            strconv.Itoa(c.TopK),
		"concurrency":      strconv.Itoa(c.Concurrency),
		"size":             c.Size,
		"timeout":          strconv.FormatInt(int64(c.Timeout/time.Second), 10),
		"int_filter":       intFilter,
		"keyword_filter":   keywordFilter,
		"warmup":           strconv.FormatBool(c.Warmup),
		"read_write":       strconv.FormatBool(c.ReadWrite),
		"mode":             c.Mode,
	}
}
