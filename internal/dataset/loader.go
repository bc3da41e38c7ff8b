package dataset

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	json "github.com/goccy/go-json"

	"github.com/23skdu/vecbench/internal/errors"
)

// LoadQueries loads a query set. Newline-delimited JSON files are decoded
// directly; anything else is read as parquet and converted record by record
// to JSON lines.
func LoadQueries(path string) ([]Query, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.WrapDatasetError(err, "load_queries", "failed to open query set")
		}
		defer f.Close()
		return DecodeQueries(f)
	}

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.WrapDatasetError(err, "load_queries", "failed to open parquet file").
			WithContext("path", path)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: 1024}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.WrapDatasetError(err, "load_queries", "failed to create arrow reader")
	}
	rr, err := fr.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		return nil, errors.WrapDatasetError(err, "load_queries", "failed to create record reader")
	}
	defer rr.Release()

	var out []Query
	for {
		rec, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WrapDatasetError(err, "load_queries", "failed to read record batch")
		}
		qs, err := QueriesFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, qs...)
	}
	return out, nil
}

// QueriesFromRecord renders rec as JSON lines and decodes each line.
func QueriesFromRecord(rec arrow.Record) ([]Query, error) {
	var buf bytes.Buffer
	if err := array.RecordToJSON(rec, &buf); err != nil {
		return nil, errors.WrapDatasetError(err, "load_queries", "failed to render record as JSON")
	}
	return DecodeQueries(&buf)
}

// DecodeQueries decodes newline-delimited JSON queries, skipping blank lines.
func DecodeQueries(r io.Reader) ([]Query, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 256<<20)

	var out []Query
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var q Query
		if err := json.Unmarshal(text, &q); err != nil {
			return nil, errors.WrapDatasetError(err, "decode_query", "malformed query record").
				WithContext("line", line)
		}
		out = append(out, q)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WrapDatasetError(err, "decode_query", "failed to scan query records")
	}
	return out, nil
}
