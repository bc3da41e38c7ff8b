// Package errors classifies the failures that end a benchmark run. Transient
// provider errors never reach this package: the retry loops absorb them.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies a failure. Validation errors are structural defects in the
// input (dataset, query set or run configuration) and are never retried.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeDataset       ErrorType = "dataset"
	ErrorTypeStorage       ErrorType = "storage"
	ErrorTypeProvider      ErrorType = "provider"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeTimeout       ErrorType = "timeout"
)

// StructuredError is a classified failure with the operation that raised it
// and optional key/value detail.
type StructuredError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
}

func (e *StructuredError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", e.Type, e.Operation, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteByte(')')
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a detail rendered after the message.
func (e *StructuredError) WithContext(key string, value any) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func New(errType ErrorType, operation, message string) *StructuredError {
	return &StructuredError{Type: errType, Operation: operation, Message: message}
}

func Newf(errType ErrorType, operation, format string, args ...any) *StructuredError {
	return New(errType, operation, fmt.Sprintf(format, args...))
}

// Wrap classifies err. A nil err stays nil.
func Wrap(err error, errType ErrorType, operation, message string) *StructuredError {
	if err == nil {
		return nil
	}
	return &StructuredError{Type: errType, Operation: operation, Message: message, Cause: err}
}

// IsType reports whether any error in err's chain is a StructuredError of type t.
func IsType(err error, t ErrorType) bool {
	var se *StructuredError
	for err != nil {
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Type == t {
			return true
		}
		err = se.Cause
	}
	return false
}

func NewValidationError(operation, message string) *StructuredError {
	return New(ErrorTypeValidation, operation, message)
}

func NewConfigurationError(operation, message string) *StructuredError {
	return New(ErrorTypeConfiguration, operation, message)
}

func WrapValidationError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeValidation, operation, message)
}

// WrapDatasetError marks a decoding failure of a dataset or query set.
func WrapDatasetError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeDataset, operation, message)
}

// WrapStorageError marks an object storage download or upload failure.
func WrapStorageError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeStorage, operation, message)
}

// WrapProviderError marks a provider failure outside the retry loops, such
// as collection setup.
func WrapProviderError(err error, operation, message string) *StructuredError {
	return Wrap(err, ErrorTypeProvider, operation, message)
}
