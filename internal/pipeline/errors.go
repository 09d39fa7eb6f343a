package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is wrapped by every StateError.
	ErrInvalidState = errors.New("invalid state")
	// ErrDetectorUnavailable is returned by Load when no detector is configured.
	ErrDetectorUnavailable = errors.New("detector unavailable")
)

// StateError reports an operation that is not valid in the current state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s while %s: %v", e.Op, e.State, ErrInvalidState)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// InferenceError reports a detector failure on one frame. The frame is forwarded
// unannotated and the session continues.
type InferenceError struct {
	Frame int
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed on frame %d: %v", e.Frame, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
