package ingest

import (
	"strconv"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/errors"
	"github.com/23skdu/vecbench/internal/metrics"
)

// Config describes one ingest run.
type Config struct {
	Collection  string
	BatchSize   int
	Concurrency int
	Input       string
	Mode        string
	Size        string
	CacheDir    string
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	switch {
	case c.Collection == "":
		return errors.NewConfigurationError("ingest_config", "collection is required")
	case c.BatchSize <= 0:
		return errors.NewConfigurationError("ingest_config", "batch size must be positive").
			WithContext("batch_size", c.BatchSize)
	case c.Concurrency <= 0:
		return errors.NewConfigurationError("ingest_config", "concurrency must be positive").
			WithContext("concurrency", c.Concurrency)
	case c.Input == "":
		return errors.NewConfigurationError("ingest_config", "input is required")
	}
	return dataset.ValidateSize(c.Size)
}

// Labels returns the label set attached to every metric of the run.
func (c Config) Labels(providerName, runID string) map[string]string {
	return map[string]string{
		"provider":         providerName,
		"collection":       c.Collection,
		"batch_size":       strconv.Itoa(c.BatchSize),
		"concurrency":      strconv.Itoa(c.Concurrency),
		"input":            c.Input,
		"size":             c.Size,
		metrics.RunIDLabel: runID,
		"mode":             c.Mode,
	}
}
