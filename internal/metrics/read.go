package metrics

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ExportRow is one row of an exported metrics file.
type ExportRow struct {
	Timestamp time.Time
	Metric    string
	Value     float64
	Labels    map[string]string
}

// ReadExport loads a metrics file written by Export. It returns the rows and
// the label column names in file order.
func ReadExport(path string) ([]ExportRow, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	tsCol, metricCol, valueCol := -1, -1, -1
	labelCols := make(map[int]string)
	var labelKeys []string
	for _, col := range pf.Root().Columns() {
		switch col.Name() {
		case columnTimestamp:
			tsCol = col.Index()
		case columnMetric:
			metricCol = col.Index()
		case columnValue:
			valueCol = col.Index()
		default:
			labelCols[col.Index()] = col.Name()
			labelKeys = append(labelKeys, col.Name())
		}
	}
	if tsCol < 0 || metricCol < 0 || valueCol < 0 {
		return nil, nil, fmt.Errorf("%s is not a metrics export: missing ts/metric/value columns", path)
	}

	var out []ExportRow
	buf := make([]parquet.Row, 256)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				r := ExportRow{Labels: make(map[string]string, len(labelCols))}
				for _, v := range row {
					switch idx := v.Column(); idx {
					case tsCol:
						r.Timestamp = time.UnixMicro(v.Int64()).UTC()
					case metricCol:
						r.Metric = string(v.ByteArray())
					case valueCol:
						r.Value = v.Double()
					default:
						if name, ok := labelCols[idx]; ok {
							r.Labels[name] = string(v.ByteArray())
						}
					}
				}
				out = append(out, r)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, nil, fmt.Errorf("failed to read rows: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, nil, err
		}
	}
	return out, labelKeys, nil
}

// MetricSummary aggregates the rows of one metric name.
type MetricSummary struct {
	Metric string
	Count  int
	Sum    float64
	Mean   float64
	Min    float64
	Max    float64
}

// Summarize groups rows by metric name, sorted by name.
func Summarize(rows []ExportRow) []MetricSummary {
	byName := make(map[string]*MetricSummary)
	for _, r := range rows {
		s, ok := byName[r.Metric]
		if !ok {
			s = &MetricSummary{Metric: r.Metric, Min: r.Value, Max: r.Value}
			byName[r.Metric] = s
		}
		s.Count++
		s.Sum += r.Value
		if r.Value < s.Min {
			s.Min = r.Value
		}
		if r.Value > s.Max {
			s.Max = r.Value
		}
	}

	out := make([]MetricSummary, 0, len(byName))
	for _, s := range byName {
		s.Mean = s.Sum / float64(s.Count)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}
