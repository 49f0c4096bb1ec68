package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryIO       Category = "io"
	CategoryDecode   Category = "decode"
	CategoryEncode   Category = "encode"
	CategoryInternal Category = "internal"
	CategoryInput    Category = "input"
	CategoryConfig   Category = "config"
	CategoryStorage  Category = "storage"
	CategoryCanceled Category = "canceled"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category Category
	Op       string // operation name
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Wrap wraps an existing error with context. An error that already carries a
// category is returned unchanged.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return New(category, op, err)
}

// Canceled builds the failure reported for a path that was never dispatched
// because the batch context ended first.
func Canceled(op string, cause error) *ProcessingError {
	if cause == nil {
		cause = ErrCanceled
	}
	return New(CategoryCanceled, op, fmt.Errorf("%w: %w", ErrCanceled, cause))
}

// CategoryOf classifies err. Uncategorised context errors map to canceled,
// anything else uncategorised maps to internal.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryCanceled
	}
	return CategoryInternal
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// Sentinel errors for common failure modes.
var (
	ErrEmptyInput         = errors.New("empty input")
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrDestinationExists  = errors.New("destination already exists")
	ErrTooLarge           = errors.New("input exceeds size limit")
	ErrCanceled           = errors.New("conversion canceled")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
