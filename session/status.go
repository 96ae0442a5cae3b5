package session

import (
	"fmt"
	"slices"
)

// Status is the lifecycle state of a session. The set is closed: decoding
// any other value fails.
type Status string

// Session states.
const (
	StatusInProgress  Status = "in_progress"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
	StatusCompleted   Status = "completed"
)

// transitions lists the allowed targets of each status. The Interrupted
// and Failed edges back to InProgress belong to the resume operation only.
var transitions = map[Status][]Status{
	StatusInProgress:  {StatusInProgress, StatusCompleted, StatusInterrupted, StatusFailed},
	StatusInterrupted: {StatusInProgress},
	StatusFailed:      {StatusInProgress},
	StatusCompleted:   nil,
}

// Valid reports whether s is one of the four states.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool { return s == StatusCompleted }

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	v := Status(text)
	if !v.Valid() {
		return fmt.Errorf("session: unknown status %q", string(text))
	}
	*s = v
	return nil
}
