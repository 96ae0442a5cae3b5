package session

import (
	"maps"
	"slices"
	"time"

	"github.com/xraph/conductor/id"
)

// WorkflowRef identifies the workflow definition a session runs.
type WorkflowRef struct {
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	Hash       string `json:"hash"`
	TotalSteps int    `json:"total_steps"`
}

// State is the variable snapshot accumulated by completed steps.
type State struct {
	Variables map[string]string `json:"variables"`
}

func (st *State) clone() *State {
	if st == nil {
		return nil
	}
	return &State{Variables: maps.Clone(st.Variables)}
}

// Outcome is the recorded result of one step.
type Outcome string

// Step outcomes. A failed outcome is only recorded for steps whose policy
// continues past failure; a step that fails the session is not recorded.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// StepResult summarizes one step that reached a terminal outcome.
type StepResult struct {
	Index       int               `json:"index"`
	Name        string            `json:"name"`
	Command     string            `json:"command,omitempty"`
	Outcome     Outcome           `json:"outcome"`
	Attempts    int               `json:"attempts"`
	Output      string            `json:"output,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Duration    time.Duration     `json:"duration"`
	CompletedAt time.Time         `json:"completed_at"`
	Error       string            `json:"error,omitempty"`
}

// Session is one execution of a workflow.
type Session struct {
	ID       id.SessionID `json:"id"`
	Workflow WorkflowRef  `json:"workflow"`
	// Steps holds one result per step boundary crossed, in order.
	Steps []StepResult `json:"steps"`
	// StepIndex is the index of the first step that has not completed.
	StepIndex int    `json:"step_index"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	// Inputs are the variables supplied when the session was created.
	Inputs map[string]string `json:"inputs,omitempty"`
	// State is nil until the first step is attempted.
	State *State `json:"workflow_state,omitempty"`
	// WorkDir is a non-owning reference to the session's working copy.
	WorkDir   string            `json:"work_dir,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// New creates an unsaved session for wf. Machine.Start makes it durable.
func New(wf WorkflowRef, inputs map[string]string) *Session {
	return &Session{
		ID:       id.NewSessionID(),
		Workflow: wf,
		Status:   StatusInProgress,
		Inputs:   maps.Clone(inputs),
	}
}

// Variables returns the current variable snapshot, falling back to the
// inputs before any step has run.
func (s *Session) Variables() map[string]string {
	if s.State != nil {
		return maps.Clone(s.State.Variables)
	}
	return maps.Clone(s.Inputs)
}

// Remaining returns how many steps have not completed.
func (s *Session) Remaining() int {
	return max(s.Workflow.TotalSteps-s.StepIndex, 0)
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Steps = make([]StepResult, len(s.Steps))
	for i, r := range s.Steps {
		r.Variables = maps.Clone(r.Variables)
		cp.Steps[i] = r
	}
	if s.Steps == nil {
		cp.Steps = nil
	}
	cp.Inputs = maps.Clone(s.Inputs)
	cp.Labels = maps.Clone(s.Labels)
	cp.State = s.State.clone()
	return &cp
}

// Completed returns the results of steps that ended with the given
// outcome.
func (s *Session) Completed(outcome Outcome) []StepResult {
	return slices.DeleteFunc(slices.Clone(s.Steps), func(r StepResult) bool {
		return r.Outcome != outcome
	})
}

// ──────────────────────────────────────────────────
// Resumability
// ──────────────────────────────────────────────────

// IsResumable reports whether s can be resumed: it is not Completed and
// it carries workflow state.
func IsResumable(s *Session) bool {
	return s != nil && s.Status != StatusCompleted && s.State != nil
}

// ResumeBlocker explains why IsResumable is false, or returns "" when the
// session is resumable.
func ResumeBlocker(s *Session) string {
	switch {
	case s == nil:
		return "no session"
	case s.Status == StatusCompleted:
		return "session already completed"
	case s.State == nil:
		return "no checkpoint data: no step was attempted"
	}
	return ""
}
