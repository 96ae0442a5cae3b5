package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/retry"
)

// Context is the per-session execution context handed to every step. It
// replaces any notion of a process-wide "current session".
type Context struct {
	SessionID id.SessionID
	// WorkDir is the session's working copy. The executor only passes it
	// through to the collaborator.
	WorkDir string
	// Variables is the workflow state snapshot visible to the step.
	Variables map[string]string
	// Env is exported to the collaborator process.
	Env map[string]string
}

// Status is the terminal status of one step execution.
type Status string

// Step statuses.
const (
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusInterrupted Status = "interrupted"
)

// Outcome is what the executor reports for one step.
type Outcome struct {
	Status Status
	Step   string
	// Command is the expanded command that was run.
	Command  string
	Attempts int
	// Class is the classification of the last attempt.
	Class command.Class
	// Reason is set when the retry engine gave up.
	Reason retry.Reason
	Output string
	// Variables are produced by a successful step, for merging into the
	// workflow state.
	Variables map[string]string
	Duration  time.Duration
	// Waited is the retry delay spent on this step.
	Waited time.Duration
	// Continue is set on a failed outcome whose policy moves on to the
	// next step.
	Continue bool
	// FellBack is set when the fallback command produced the outcome.
	FellBack bool
	Err      error
}

// Failed reports whether the step failed in a way that fails the session.
func (o *Outcome) Failed() bool { return o.Status == StatusFailed && !o.Continue }

// StepError is the error carried by a failed Outcome.
type StepError struct {
	Step     string
	Class    command.Class
	Reason   retry.Reason
	Attempts int
	Message  string
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %s failed after %d attempt(s)", e.Step, e.Attempts)
	if e.Reason != "" {
		msg += fmt.Sprintf(" (%s", e.Reason)
		if e.Class != "" {
			msg += ", " + string(e.Class)
		}
		msg += ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// maxMessage bounds how much collaborator output lands in an error.
const maxMessage = 512

// tail returns the last n bytes of s, trimmed to a line start where
// possible.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}

// captured builds the variables a successful attempt contributes.
func captured(kind command.Kind, capture, output string) map[string]string {
	out := strings.TrimRight(output, "\r\n")
	vars := make(map[string]string, 3)
	vars["last.output"] = out
	vars[string(kind)+".output"] = out
	if capture != "" {
		vars[capture] = out
	}
	return vars
}
