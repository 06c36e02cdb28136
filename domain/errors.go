package domain

import (
	"errors"
	"fmt"
)

// Sentinel validation errors.
var (
	ErrInvalidGrade   = errors.New("invalid grade")
	ErrInvalidEnergy  = errors.New("energy out of range")
	ErrInvalidProfile = errors.New("invalid profile weights")
	ErrInvalidReward  = errors.New("reward out of range")
)

// ErrorKind is the category of a failure.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindRepository ErrorKind = "repository"
	KindModel      ErrorKind = "model"
)

// Error is the error type returned across package boundaries.
type Error struct {
	Kind      ErrorKind
	Op        string
	Err       error
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind {
		return &Error{Kind: kind, Op: op, Err: err, Retryable: existing.Retryable}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound wraps err as a NotFound error. Returns nil if err is nil.
func NotFound(op string, err error) error {
	return wrap(KindNotFound, op, err)
}

// Validation wraps err as a Validation error. Returns nil if err is nil.
func Validation(op string, err error) error {
	return wrap(KindValidation, op, err)
}

// StorageError wraps err as a Repository error. Returns nil if err is nil.
func StorageError(op string, err error) error {
	return wrap(KindRepository, op, err)
}

// RetryableStorageError wraps err as a Repository error that may succeed on retry
// (for example a locked database).
func RetryableStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindRepository, Op: op, Err: err, Retryable: true}
}

// Model wraps err as a Model error. Returns nil if err is nil.
func Model(op string, err error) error {
	return wrap(KindModel, op, err)
}

func kindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// IsValidation reports whether err is a Validation error.
func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

// IsRepository reports whether err is a Repository error.
func IsRepository(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRepository
}

// IsModel reports whether err is a Model error.
func IsModel(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindModel
}

// IsRetryable reports whether any Error in the chain is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
