// Package errors defines the error taxonomy of the index engine: sentinel
// errors for the broad failure classes and IndexError, which binds a failure
// to the index, operation, and input it happened in.
package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrDisposed       = errors.New("index disposed")
	ErrStorage        = errors.New("storage failure")
	ErrCorruptData    = errors.New("corrupt index data")
	ErrValueContract  = errors.New("value contract violation")
	ErrAlreadyApplied = errors.New("update already applied")
	ErrInvalidInput   = errors.New("invalid input")
)

// IndexError reports a failure inside one index. Callers should treat any
// IndexError wrapping ErrStorage as "the index data for this input is
// untrustworthy until rebuilt".
type IndexError struct {
	Index   string
	Op      string
	InputID uint32
	HasID   bool
	Err     error
}

func (e *IndexError) Error() string {
	if e.HasID {
		return fmt.Sprintf("index %s: %s input %d: %v", e.Index, e.Op, e.InputID, e.Err)
	}
	return fmt.Sprintf("index %s: %s: %v", e.Index, e.Op, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// New wraps err as a failure of op in the named index.
func New(index, op string, err error) *IndexError {
	return &IndexError{Index: index, Op: op, Err: err}
}

// ForInput wraps err as a failure of op for one input of the named index.
func ForInput(index, op string, inputID uint32, err error) *IndexError {
	return &IndexError{Index: index, Op: op, InputID: inputID, HasID: true, Err: err}
}

// Storage marks err as a storage failure while keeping the original cause
// reachable through errors.Is/As.
func Storage(err error) error {
	if err == nil || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// Corrupt builds an ErrCorruptData error with a formatted message.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptData, fmt.Sprintf(format, args...))
}

// IsCancellation reports whether err stems from cooperative cancellation.
// A storage failure is never a cancellation, even when the backend gave up
// on its own deadline.
func IsCancellation(err error) bool {
	if err == nil || errors.Is(err, ErrStorage) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
