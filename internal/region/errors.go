package region

import (
	"errors"
	"fmt"

	"github.com/litetable/litetable-region/internal/keyvalue"
)

var (
	ErrWrongRegion     = errors.New("row outside region")
	ErrNotServing      = errors.New("region not serving")
	ErrReadOnly        = errors.New("region is read only")
	ErrInvalidColumn   = errors.New("invalid column")
	ErrNoSuchFamily    = errors.New("no such column family")
	ErrInvalidLock     = errors.New("invalid row lock")
	ErrDroppedSnapshot = errors.New("dropped snapshot")
	ErrInvalidMerge    = errors.New("regions cannot be merged")
	ErrInvalidRequest  = errors.New("invalid request")
	// ErrMergeAborted means a merge failed after closing its inputs. Their
	// directories are left intact and they serve again once reopened.
	ErrMergeAborted = errors.New("merge aborted")
)

// Error wraps a sentinel error with additional context
type Error struct {
	err     error  // The underlying sentinel error
	context string // Additional error context
}

// Error satisfies the error interface
func (e *Error) Error() string {
	if e.context == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %s", e.err.Error(), e.context)
}

// Unwrap implements the errors.Unwrap interface for compatibility with errors.Is/As
func (e *Error) Unwrap() error {
	return e.err
}

// newError creates a new region error with context
func newError(err error, format string, args ...interface{}) *Error {
	return &Error{
		err:     err,
		context: fmt.Sprintf(format, args...),
	}
}

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	// KindRetryable errors are transient, usually file system trouble.
	KindRetryable Kind = iota
	// KindValidation errors were rejected before anything changed.
	KindValidation
	// KindNotServing means the region is closing or closed; look it up again.
	KindNotServing
	// KindFatal means memory and disk may disagree. The process should abort
	// and recover the region from the log.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindValidation:
		return "validation"
	case KindNotServing:
		return "not serving"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Classify sorts err into a Kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrDroppedSnapshot):
		return KindFatal
	case errors.Is(err, ErrNotServing), errors.Is(err, ErrMergeAborted):
		return KindNotServing
	case errors.Is(err, ErrWrongRegion),
		errors.Is(err, ErrReadOnly),
		errors.Is(err, ErrInvalidColumn),
		errors.Is(err, ErrNoSuchFamily),
		errors.Is(err, ErrInvalidLock),
		errors.Is(err, ErrInvalidMerge),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, keyvalue.ErrMissingDivider),
		errors.Is(err, keyvalue.ErrEmptyRow),
		errors.Is(err, keyvalue.ErrRowTooLong),
		errors.Is(err, keyvalue.ErrFamilyTooLong):
		return KindValidation
	}
	return KindRetryable
}
