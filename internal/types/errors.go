package types

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is matched by every rejection: the request is invalid and no
	// response will ever be produced for it.
	ErrRejected = errors.New("transaction rejected")

	// ErrRepeatedRequest rejects a request that was already posted.
	ErrRepeatedRequest = errors.New("repeated request")

	// ErrNotFound is returned for unknown references.
	ErrNotFound = errors.New("not found")

	// ErrTimeout is returned when a response does not appear in time.
	ErrTimeout = errors.New("timeout")

	// ErrInternal is matched by every internal error.
	ErrInternal = errors.New("internal error")

	// ErrInconsistentStore marks an internal error caused by a corrupted store.
	ErrInconsistentStore = errors.New("inconsistent store")
)

// RejectedError is the error of a rejected transaction.
type RejectedError struct {
	Message string // Message is the reason of the rejection
	cause   error  // cause is the wrapped error, if any
}

// Rejected creates a rejection with a formatted message.
func Rejected(format string, args ...any) *RejectedError {
	return &RejectedError{Message: fmt.Sprintf(format, args...)}
}

// RejectedBy creates a rejection wrapping err.
func RejectedBy(err error) *RejectedError {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected
	}

	return &RejectedError{Message: err.Error(), cause: err}
}

func (e *RejectedError) Error() string        { return e.Message }
func (e *RejectedError) Unwrap() error        { return e.cause }
func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// InternalError is an unexpected node error, not attributable to the request.
type InternalError struct {
	Err error // Err is the wrapped cause
}

// Internal wraps err as an internal error, unless it already is one.
func Internal(err error) error {
	if err == nil || errors.Is(err, ErrInternal) {
		return err
	}

	return &InternalError{Err: err}
}

// Inconsistent reports a corrupted store.
func Inconsistent(format string, args ...any) error {
	return &InternalError{Err: fmt.Errorf("%w: %s", ErrInconsistentStore, fmt.Sprintf(format, args...))}
}

func (e *InternalError) Error() string        { return "internal error: " + e.Err.Error() }
func (e *InternalError) Unwrap() error        { return e.Err }
func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// DeserializationError reports that a stored object could not be materialized.
type DeserializationError struct {
	Object StorageReference // Object is the object being deserialized
	Reason string           // Reason explains what went wrong
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("cannot deserialize %s: %s", e.Object, e.Reason)
}
