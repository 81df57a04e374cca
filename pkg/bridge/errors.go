package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no response arrives within the deadline.
	// The slot is reclaimed; a late response becomes a capacity release.
	ErrTimeout = errors.New("request timed out")

	// ErrWorkerCrashed is returned for every request outstanding when the
	// worker's message loop dies, and for all calls made afterwards.
	ErrWorkerCrashed = errors.New("worker crashed")

	// ErrClientClosed is returned once the client has been closed.
	ErrClientClosed = errors.New("client is closed")

	// ErrBadPayload is returned when a response payload has an unexpected
	// type or a message payload cannot be interpreted by the handler.
	ErrBadPayload = errors.New("unexpected payload type")
)

// Error wraps a bridge failure with the message type it belongs to.
type Error struct {
	Op  string // message type
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("bridge: %v", e.Err)
	}
	return fmt.Sprintf("bridge: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is checks if the error matches the target.
func (e *Error) Is(target error) bool { return errors.Is(e.Err, target) }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
