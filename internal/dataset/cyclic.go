package dataset

import (
	"io"

	"github.com/23skdu/vecbench/internal/errors"
)

// CyclicReader yields batches from a dataset forever, reopening the file each
// time it is exhausted.
type CyclicReader struct {
	path      string
	batchSize int
	current   *BatchReader
}

func NewCyclicReader(path string, batchSize int) (*CyclicReader, error) {
	r, err := OpenBatchReader(path, batchSize)
	if err != nil {
		return nil, err
	}
	return &CyclicReader{path: path, batchSize: batchSize, current: r}, nil
}

// Next returns the next batch, wrapping around at end of file. An empty
// dataset is a validation error rather than an endless loop.
func (c *CyclicReader) Next() ([]Document, error) {
	docs, err := c.current.Next()
	if err != io.EOF {
		return docs, err
	}

	_ = c.current.Close()
	r, err := OpenBatchReader(c.path, c.batchSize)
	if err != nil {
		return nil, err
	}
	c.current = r

	docs, err = c.current.Next()
	if err == io.EOF {
		return nil, errors.NewValidationError("cyclic_read", "dataset has no rows").WithContext("path", c.path)
	}
	return docs, err
}

func (c *CyclicReader) Close() error {
	return c.current.Close()
}
