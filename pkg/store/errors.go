package store

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrEmptyBookID is returned when an operation is missing the book id
	ErrEmptyBookID = errors.New("empty book id")

	// ErrModelMismatch is returned when a batch is written under a model
	// different from the one already cached for the book
	ErrModelMismatch = errors.New("embedding model mismatch")
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("embedcache: %v", e.Err)
	}
	return fmt.Sprintf("embedcache: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
