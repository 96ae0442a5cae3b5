package session

import (
	"fmt"

	"github.com/xraph/conductor"
)

// CorruptError reports a checkpoint record that exists but cannot be
// decoded. It matches conductor.ErrCorruptCheckpoint under errors.Is, so
// callers can tell an unrecoverable session from a missing one.
type CorruptError struct {
	ID  string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%v: %s: %v", conductor.ErrCorruptCheckpoint, e.ID, e.Err)
}

// Unwrap exposes both the sentinel and the decode error.
func (e *CorruptError) Unwrap() []error {
	return []error{conductor.ErrCorruptCheckpoint, e.Err}
}

// NotResumableError reports why a resume request was refused.
type NotResumableError struct {
	ID     string
	Status Status
	Reason string
}

func (e *NotResumableError) Error() string {
	return fmt.Sprintf("%v: %s (status %s): %s", conductor.ErrNotResumable, e.ID, e.Status, e.Reason)
}

// Unwrap returns conductor.ErrNotResumable.
func (e *NotResumableError) Unwrap() error { return conductor.ErrNotResumable }

// TransitionError reports a transition missing from the state table.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", conductor.ErrInvalidTransition, e.From, e.To)
}

// Unwrap returns conductor.ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return conductor.ErrInvalidTransition }
