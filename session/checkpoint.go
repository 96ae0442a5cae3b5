package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/conductor/id"
)

// CheckpointVersion is the record layout version written by Encode.
const CheckpointVersion = 1

// Checkpoint is the persisted form of a Session. Readers ignore fields
// they do not know, so newer writers can add fields without breaking
// older readers.
type Checkpoint struct {
	Version       int               `json:"version"`
	SessionID     id.SessionID      `json:"session_id"`
	Status        Status            `json:"status"`
	StepIndex     int               `json:"step_index"`
	Workflow      WorkflowRef       `json:"workflow"`
	WorkflowState *State            `json:"workflow_state,omitempty"`
	Inputs        map[string]string `json:"inputs,omitempty"`
	Steps         []StepResult      `json:"steps"`
	Error         string            `json:"error,omitempty"`
	WorkDir       string            `json:"work_dir,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ToCheckpoint converts s to its record layout.
func ToCheckpoint(s *Session) *Checkpoint {
	c := s.Clone()
	steps := c.Steps
	if steps == nil {
		steps = []StepResult{}
	}
	return &Checkpoint{
		Version:       CheckpointVersion,
		SessionID:     c.ID,
		Status:        c.Status,
		StepIndex:     c.StepIndex,
		Workflow:      c.Workflow,
		WorkflowState: c.State,
		Inputs:        c.Inputs,
		Steps:         steps,
		Error:         c.Error,
		WorkDir:       c.WorkDir,
		Labels:        c.Labels,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// Session converts the record back to a Session.
func (c *Checkpoint) Session() *Session {
	return &Session{
		ID:        c.SessionID,
		Workflow:  c.Workflow,
		Steps:     c.Steps,
		StepIndex: c.StepIndex,
		Status:    c.Status,
		Error:     c.Error,
		Inputs:    c.Inputs,
		State:     c.WorkflowState,
		WorkDir:   c.WorkDir,
		Labels:    c.Labels,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// Encode serializes s as a versioned checkpoint record.
func Encode(s *Session) ([]byte, error) {
	if s == nil || s.ID.IsNil() {
		return nil, errors.New("session: encode: session has no id")
	}
	data, err := json.Marshal(ToCheckpoint(s))
	if err != nil {
		return nil, fmt.Errorf("session: encode %s: %w", s.ID, err)
	}
	return data, nil
}

// Decode parses a checkpoint record. Any record that cannot be trusted
// returns a *CorruptError naming key, the storage key it was read from.
func Decode(key string, data []byte) (*Session, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &CorruptError{ID: key, Err: err}
	}
	switch {
	case c.Version < 1:
		return nil, &CorruptError{ID: key, Err: fmt.Errorf("missing or invalid version %d", c.Version)}
	case !c.Status.Valid():
		return nil, &CorruptError{ID: key, Err: fmt.Errorf("invalid status %q", c.Status)}
	case c.SessionID.IsNil():
		return nil, &CorruptError{ID: key, Err: errors.New("missing session id")}
	case c.StepIndex < 0 || (c.Workflow.TotalSteps > 0 && c.StepIndex > c.Workflow.TotalSteps):
		return nil, &CorruptError{ID: key, Err: fmt.Errorf("step index %d out of range", c.StepIndex)}
	}
	return c.Session(), nil
}
