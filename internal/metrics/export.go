package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/23skdu/vecbench/internal/objstore"
)

// exportChunkRows bounds the rows buffered per write during export.
const exportChunkRows = 64 * 1024

// Uploader publishes a local file to an object-store URI.
type Uploader interface {
	Upload(ctx context.Context, localPath, uri string) error
}

// LabelKeys returns the sorted union of label keys across metrics.
func LabelKeys(metrics []Metric) []string {
	seen := make(map[string]struct{})
	for _, m := range metrics {
		for k := range m.Labels {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fixed export columns. Label columns sit alongside them.
const (
	columnTimestamp = "ts"
	columnMetric    = "metric"
	columnValue     = "value"
)

func exportSchema(labelKeys []string) *parquet.Schema {
	group := parquet.Group{
		columnTimestamp: parquet.Timestamp(parquet.Microsecond),
		columnMetric:    parquet.String(),
		columnValue:     parquet.Leaf(parquet.DoubleType),
	}
	for _, k := range labelKeys {
		group[k] = parquet.String()
	}
	return parquet.NewSchema("metrics", group)
}

// WriteParquet writes metrics as a parquet file with a ts, metric and value
// column plus one string column per label key. Missing labels are "".
func WriteParquet(w io.Writer, metrics []Metric) error {
	keys := LabelKeys(metrics)
	schema := exportSchema(keys)

	column := func(name string) int {
		leaf, _ := schema.Lookup(name)
		return leaf.ColumnIndex
	}
	tsCol, metricCol, valueCol := column(columnTimestamp), column(columnMetric), column(columnValue)
	labelCols := make([]int, len(keys))
	for i, k := range keys {
		labelCols[i] = column(k)
	}
	width := len(schema.Columns())

	pw := parquet.NewWriter(w, schema, parquet.Compression(&parquet.Snappy))
	rows := make([]parquet.Row, 0, exportChunkRows)
	for start := 0; start < len(metrics); start += exportChunkRows {
		end := min(start+exportChunkRows, len(metrics))

		rows = rows[:0]
		for _, m := range metrics[start:end] {
			row := make(parquet.Row, width)
			row[tsCol] = parquet.Int64Value(m.Timestamp.UnixMicro()).Level(0, 0, tsCol)
			row[metricCol] = parquet.ByteArrayValue([]byte(m.Name)).Level(0, 0, metricCol)
			row[valueCol] = parquet.DoubleValue(m.Value).Level(0, 0, valueCol)
			for i, k := range keys {
				row[labelCols[i]] = parquet.ByteArrayValue([]byte(m.Labels[k])).Level(0, 0, labelCols[i])
			}
			rows = append(rows, row)
		}
		if _, err := pw.WriteRows(rows); err != nil {
			_ = pw.Close()
			return fmt.Errorf("failed to write metrics rows: %w", err)
		}
	}

	if err := pw.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// Export writes metrics to path. A scheme://bucket/key path is written to a
// temporary file and uploaded through up.
func Export(ctx context.Context, metrics []Metric, path string, up Uploader) error {
	if _, remote := objstore.ParseURI(path); remote {
		if up == nil {
			return fmt.Errorf("no uploader configured for %s", path)
		}
		tmp, err := os.CreateTemp("", "vecbench-metrics-*.parquet")
		if err != nil {
			return err
		}
		defer os.Remove(tmp.Name())

		if err := writeFile(tmp, metrics); err != nil {
			return err
		}
		return up.Upload(ctx, tmp.Name(), path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return writeFile(f, metrics)
}

func writeFile(f *os.File, metrics []Metric) error {
	err := WriteParquet(f, metrics)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
