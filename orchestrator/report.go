package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/session"
)

// Code classifies how a run or resume ended.
type Code string

// Result codes.
const (
	CodeCompleted    Code = "completed"
	CodeFailed       Code = "failed"
	CodeInterrupted  Code = "interrupted"
	CodeNotFound     Code = "not_found"
	CodeNotResumable Code = "not_resumable"
)

// ExitCode maps c to a process exit status.
func (c Code) ExitCode() int {
	switch c {
	case CodeCompleted:
		return 0
	case CodeNotResumable:
		return 2
	case CodeNotFound:
		return 3
	case CodeInterrupted:
		return 130
	default:
		return 1
	}
}

// CodeOf classifies an error returned by Run or Resume.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeCompleted
	case errors.Is(err, conductor.ErrSessionNotFound):
		return CodeNotFound
	case errors.Is(err, conductor.ErrNotResumable),
		errors.Is(err, conductor.ErrSessionCompleted),
		errors.Is(err, conductor.ErrWorkflowChanged),
		errors.Is(err, conductor.ErrCorruptCheckpoint):
		return CodeNotResumable
	default:
		return CodeFailed
	}
}

// Report is the outcome of driving one session.
type Report struct {
	Code    Code
	Session *session.Session
	// Resumed is set when the session was re-entered from a checkpoint.
	Resumed bool
	// Err is the step failure that ended a failed session.
	Err     error
	Elapsed time.Duration
}

// Message renders the user-visible summary: status, last error and, when
// the session can be resumed, how to resume it.
func (r *Report) Message() string {
	s := r.Session
	if s == nil {
		return string(r.Code)
	}

	var b strings.Builder
	verb := "ran"
	if r.Resumed {
		verb = "resumed"
	}
	fmt.Fprintf(&b, "session %s (%s) %s: %s at step %d/%d",
		s.ID, s.Workflow.Name, verb, s.Status, s.StepIndex, s.Workflow.TotalSteps)
	if s.Error != "" {
		fmt.Fprintf(&b, "\nlast error: %s", s.Error)
	}
	if session.IsResumable(s) && s.Status != session.StatusInProgress {
		fmt.Fprintf(&b, "\nresume with: conductor resume %s", s.ID)
	}
	return b.String()
}
