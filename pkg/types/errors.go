package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds. Every typed error below matches exactly one of these through
// errors.Is, so callers can branch on the kind without type assertions.
var (
	ErrDimension        = errors.New("embedding dimension mismatch")
	ErrCorruptEmbedding = errors.New("corrupt embedding")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrTimeout          = errors.New("query timeout")
	ErrIndexUnavailable = errors.New("index unavailable")
)

// DimensionError reports an embedding whose component count is not EmbeddingDimensions.
// It is a caller defect, so it also matches ErrInvalidArgument.
type DimensionError struct {
	Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding has %d components, want %d", e.Got, EmbeddingDimensions)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimension || target == ErrInvalidArgument
}

// CorruptEmbeddingError reports a stored embedding that does not parse into a valid vector.
type CorruptEmbeddingError struct {
	Reason string
	Err    error
}

func (e *CorruptEmbeddingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt embedding: %s: %v", e.Reason, e.Err)
	}
	return "corrupt embedding: " + e.Reason
}

func (e *CorruptEmbeddingError) Is(target error) bool { return target == ErrCorruptEmbedding }
func (e *CorruptEmbeddingError) Unwrap() error        { return e.Err }

// InvalidArgumentError reports a malformed request.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TimeoutError reports a query that exceeded its execution budget.
type TimeoutError struct {
	Op     string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded its %s budget", e.Op, e.Budget)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// IndexUnavailableError reports an index whose backing store cannot be reached.
type IndexUnavailableError struct {
	Index string
	Err   error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("%s index unavailable: %v", e.Index, e.Err)
}

func (e *IndexUnavailableError) Is(target error) bool { return target == ErrIndexUnavailable }
func (e *IndexUnavailableError) Unwrap() error        { return e.Err }

// IsRetryable reports whether a caller may retry the failed operation.
// Validation failures are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrNotFound) {
		return false
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrIndexUnavailable)
}

func invalid(field, format string, args ...any) error {
	return &InvalidArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
