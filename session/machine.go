package session

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/xraph/conductor"
)

// Machine drives one session through its states. It is the sole writer of
// the session's checkpoint: every transition is saved before the method
// returns, and a failed save restores the previous in-memory state.
type Machine struct {
	store Store
	now   func() time.Time

	mu sync.Mutex
	s  *Session
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithClock replaces the machine's time source.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

func newMachine(store Store, s *Session, opts []MachineOption) *Machine {
	m := &Machine{store: store, s: s, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start persists a fresh session as InProgress and returns its Machine.
func Start(ctx context.Context, store Store, s *Session, opts ...MachineOption) (*Machine, error) {
	if s.State != nil || len(s.Steps) > 0 || s.StepIndex != 0 {
		return nil, fmt.Errorf("session: start %s: session already has progress", s.ID)
	}
	m := newMachine(store, s.Clone(), opts)
	now := m.now()
	m.s.Status = StatusInProgress
	m.s.CreatedAt = now
	m.s.UpdatedAt = now
	if err := m.save(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Attach wraps a session loaded from the store. Use Resume to move it
// back to InProgress.
func Attach(store Store, s *Session, opts ...MachineOption) *Machine {
	return newMachine(store, s.Clone(), opts)
}

// Snapshot returns a deep copy of the current session.
func (m *Machine) Snapshot() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.Clone()
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.Status
}

// BeginStep marks the step at StepIndex as attempted. The first attempt of
// a session materializes its workflow state from the inputs and
// checkpoints it, which is what makes a session resumable from its very
// first step.
func (m *Machine) BeginStep(ctx context.Context) error {
	return m.mutate(ctx, StatusInProgress, StatusInProgress, func(s *Session) bool {
		if s.State != nil {
			return false
		}
		s.State = &State{Variables: maps.Clone(s.Inputs)}
		if s.State.Variables == nil {
			s.State.Variables = map[string]string{}
		}
		return true
	})
}

// RecordStep records a step that reached a terminal outcome, merges vars
// into the workflow state and advances StepIndex. After the final step the
// session becomes Completed.
func (m *Machine) RecordStep(ctx context.Context, res StepResult, vars map[string]string) error {
	m.mu.Lock()
	last := m.s.StepIndex+1 >= m.s.Workflow.TotalSteps
	m.mu.Unlock()

	to := StatusInProgress
	if last {
		to = StatusCompleted
	}
	return m.mutate(ctx, StatusInProgress, to, func(s *Session) bool {
		if s.State == nil {
			s.State = &State{Variables: maps.Clone(s.Inputs)}
		}
		if s.State.Variables == nil {
			s.State.Variables = map[string]string{}
		}
		maps.Copy(s.State.Variables, vars)
		res.Index = s.StepIndex
		if res.CompletedAt.IsZero() {
			res.CompletedAt = m.now()
		}
		s.Steps = append(s.Steps, res)
		s.StepIndex++
		s.Error = ""
		return true
	})
}

// Fail marks the session Failed with cause as its error.
func (m *Machine) Fail(ctx context.Context, cause error) error {
	return m.mutate(ctx, "", StatusFailed, func(s *Session) bool {
		if cause != nil {
			s.Error = cause.Error()
		}
		return true
	})
}

// Interrupt marks the session Interrupted. The step in flight, if any, is
// abandoned: no result is recorded and StepIndex does not move.
func (m *Machine) Interrupt(ctx context.Context) error {
	return m.mutate(ctx, "", StatusInterrupted, func(s *Session) bool {
		s.Error = "interrupted"
		return true
	})
}

// Resume moves a resumable session back to InProgress and clears its
// error. A session left InProgress by a crash resumes the same way.
func (m *Machine) Resume(ctx context.Context) error {
	m.mu.Lock()
	snap := m.s
	m.mu.Unlock()
	if !IsResumable(snap) {
		return &NotResumableError{ID: snap.ID.String(), Status: snap.Status, Reason: ResumeBlocker(snap)}
	}
	return m.mutate(ctx, "", StatusInProgress, func(s *Session) bool {
		s.Error = ""
		return true
	})
}

// mutate applies fn under the transition to status `to` and saves. A
// non-empty only restricts the starting status, for operations that are
// valid only while the session runs. If fn reports no change and the
// status is unchanged, nothing is written.
func (m *Machine) mutate(ctx context.Context, only, to Status, fn func(*Session) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.s.Status
	if from.Terminal() {
		return fmt.Errorf("session %s: %w", m.s.ID, conductor.ErrSessionCompleted)
	}
	if (only != "" && from != only) || !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}

	prev := m.s.Clone()
	changed := fn(m.s)
	if !changed && from == to {
		return nil
	}
	m.s.Status = to
	m.s.UpdatedAt = m.now()
	if err := m.saveLocked(ctx); err != nil {
		m.s = prev
		return err
	}
	return nil
}

func (m *Machine) save(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(ctx)
}

func (m *Machine) saveLocked(ctx context.Context) error {
	if err := m.store.SaveSession(ctx, m.s); err != nil {
		return fmt.Errorf("session %s: checkpoint: %w", m.s.ID, err)
	}
	return nil
}
