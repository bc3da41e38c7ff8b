package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError_Error(t *testing.T) {
	err := New(ErrorTypeValidation, "max_id", "id is not numeric")
	assert.Equal(t, "[validation] max_id: id is not numeric", err.Error())

	cause := errors.New("connection refused")
	werr := Wrap(cause, ErrorTypeStorage, "download", "failed to fetch dataset")
	assert.Equal(t, "[storage] download: failed to fetch dataset: connection refused", werr.Error())
	assert.ErrorIs(t, werr, cause)
}

func TestStructuredError_ContextRendering(t *testing.T) {
	err := NewConfigurationError("validate_size", "invalid size").
		WithContext("size", "5k").
		WithContext("allowed", []string{"100k", "1m", "10m"})

	assert.Equal(t, "[configuration] validate_size: invalid size (allowed=[100k 1m 10m] size=5k)", err.Error())
	assert.Equal(t, "5k", err.Context["size"])
}

func TestNewf(t *testing.T) {
	err := Newf(ErrorTypeValidation, "recall", "top_k %d exceeds %d", 200, 100)
	assert.Equal(t, "[validation] recall: top_k 200 exceeds 100", err.Error())
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeStorage, "op", "msg"))
}

func TestIsType(t *testing.T) {
	inner := NewValidationError("parse", "bad id")
	outer := WrapDatasetError(inner, "decode", "batch 3")
	wrapped := fmt.Errorf("ingest: %w", outer)

	assert.True(t, IsType(wrapped, ErrorTypeValidation))
	assert.True(t, IsType(wrapped, ErrorTypeDataset))
	assert.False(t, IsType(wrapped, ErrorTypeStorage))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeValidation))
	assert.False(t, IsType(nil, ErrorTypeValidation))
}

func TestErrorConstructors(t *testing.T) {
	assert.Equal(t, ErrorTypeValidation, NewValidationError("op", "msg").Type)
	assert.Equal(t, ErrorTypeConfiguration, NewConfigurationError("op", "msg").Type)

	cause := errors.New("boom")
	assert.Equal(t, ErrorTypeValidation, WrapValidationError(cause, "op", "msg").Type)
	assert.Equal(t, ErrorTypeDataset, WrapDatasetError(cause, "op", "msg").Type)
	assert.Equal(t, ErrorTypeStorage, WrapStorageError(cause, "op", "msg").Type)
	assert.Equal(t, ErrorTypeProvider, WrapProviderError(cause, "op", "msg").Type)
}
