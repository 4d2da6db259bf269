package capture

import (
	"errors"
	"fmt"
)

// Failure kinds. Every failed capture matches exactly one with errors.Is.
var (
	ErrMapNotReady     = errors.New("map not ready")
	ErrBlankCanvas     = errors.New("blank canvas")
	ErrCaptureTimeout  = errors.New("capture timeout")
	ErrCompositeEmpty  = errors.New("composite empty")
	ErrCaptureInFlight = errors.New("capture already running")
)

// Error is the single failure type of a capture session.
type Error struct {
	Kind  error
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s during %s", e.Kind, e.Phase)
	}
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Phase, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// UserMessage is the retryable text shown for any capture failure.
const UserMessage = "Map not ready, try again"

func fail(kind error, phase Phase, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Err: err}
}
