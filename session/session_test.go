package session_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/session"
)

// mapStore is a checkpoint store that round-trips through the record
// codec and can be told to fail saves.
type mapStore struct {
	mu      sync.Mutex
	records map[string][]byte
	failErr error
	saves   int
}

func newMapStore() *mapStore { return &mapStore{records: make(map[string][]byte)} }

func (m *mapStore) SaveSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	data, err := session.Encode(s)
	if err != nil {
		return err
	}
	m.records[s.ID.String()] = data
	m.saves++
	return nil
}

func (m *mapStore) LoadSession(_ context.Context, sid id.SessionID) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.records[sid.String()]
	if !ok {
		return nil, conductor.ErrSessionNotFound
	}
	return session.Decode(sid.String(), data)
}

func (m *mapStore) ListSessions(_ context.Context, opts session.ListOpts) ([]*session.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*session.Summary
	for k, data := range m.records {
		s, err := session.Decode(k, data)
		if err != nil {
			continue
		}
		if sum := session.Summarize(s); opts.Match(sum) {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *mapStore) DeleteSession(_ context.Context, sid id.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sid.String())
	return nil
}

func threeSteps() session.WorkflowRef {
	return session.WorkflowRef{Name: "deploy", Hash: "abc", TotalSteps: 3}
}

func ok(name string) session.StepResult {
	return session.StepResult{Name: name, Outcome: session.OutcomeSucceeded, Attempts: 1, Duration: time.Second}
}

// ──────────────────────────────────────────────────
// Status and resumability
// ──────────────────────────────────────────────────

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to session.Status
		want     bool
	}{
		{session.StatusInProgress, session.StatusInProgress, true},
		{session.StatusInProgress, session.StatusCompleted, true},
		{session.StatusInProgress, session.StatusInterrupted, true},
		{session.StatusInProgress, session.StatusFailed, true},
		{session.StatusInterrupted, session.StatusInProgress, true},
		{session.StatusFailed, session.StatusInProgress, true},
		{session.StatusInterrupted, session.StatusCompleted, false},
		{session.StatusFailed, session.StatusInterrupted, false},
		{session.StatusCompleted, session.StatusInProgress, false},
		{session.StatusCompleted, session.StatusFailed, false},
	}
	for _, tt := range tests {
		if got := session.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsResumable(t *testing.T) {
	statuses := []session.Status{
		session.StatusInProgress, session.StatusInterrupted, session.StatusFailed, session.StatusCompleted,
	}
	for _, st := range statuses {
		for _, hasState := range []bool{true, false} {
			s := &session.Session{Status: st}
			if hasState {
				s.State = &session.State{Variables: map[string]string{}}
			}
			want := hasState && st != session.StatusCompleted
			if got := session.IsResumable(s); got != want {
				t.Errorf("IsResumable(status=%s, state=%v) = %v, want %v", st, hasState, got, want)
			}
			if blocker := session.ResumeBlocker(s); (blocker == "") != want {
				t.Errorf("ResumeBlocker(status=%s, state=%v) = %q", st, hasState, blocker)
			}
		}
	}
}

func TestStatus_UnmarshalRejectsUnknown(t *testing.T) {
	var st session.Status
	if err := st.UnmarshalText([]byte("paused")); err == nil {
		t.Error("UnmarshalText(paused) succeeded, want error")
	}
	if err := st.UnmarshalText([]byte("failed")); err != nil || st != session.StatusFailed {
		t.Errorf("UnmarshalText(failed) = %v, %q", err, st)
	}
}

// ──────────────────────────────────────────────────
// Checkpoint codec
// ──────────────────────────────────────────────────

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	s := session.New(threeSteps(), map[string]string{"env": "prod"})
	s.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := session.Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Simulate a newer writer by splicing an extra field in.
	data = append([]byte(`{"future_field":{"x":1},`), data[1:]...)

	got, err := session.Decode(s.ID.String(), data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != s.ID || got.Inputs["env"] != "prod" || !got.CreatedAt.Equal(s.CreatedAt) {
		t.Errorf("decoded %+v, want fields of %+v", got, s)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	sid := id.NewSessionID().String()
	tests := map[string]string{
		"truncated":      `{"version":1,"session_id":"` + sid,
		"not json":       `garbage`,
		"unknown status": `{"version":1,"session_id":"` + sid + `","status":"paused"}`,
		"missing status": `{"version":1,"session_id":"` + sid + `"}`,
		"no version":     `{"session_id":"` + sid + `","status":"failed"}`,
		"no id":          `{"version":1,"status":"failed"}`,
		"index range":    `{"version":1,"session_id":"` + sid + `","status":"failed","step_index":9,"workflow":{"total_steps":3}}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := session.Decode("k", []byte(data))
			if !errors.Is(err, conductor.ErrCorruptCheckpoint) {
				t.Fatalf("Decode = %v, want ErrCorruptCheckpoint", err)
			}
			var ce *session.CorruptError
			if !errors.As(err, &ce) || ce.ID != "k" {
				t.Errorf("error %v is not a CorruptError for key k", err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Machine
// ──────────────────────────────────────────────────

func TestMachine_HappyPath(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	m, err := session.Start(ctx, store, session.New(threeSteps(), map[string]string{"a": "1"}))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	loaded, err := store.LoadSession(ctx, m.Snapshot().ID)
	if err != nil {
		t.Fatalf("Load after start: %v", err)
	}
	if loaded.Status != session.StatusInProgress || loaded.State != nil {
		t.Fatalf("fresh record status=%s state=%v", loaded.Status, loaded.State)
	}

	for i, name := range []string{"build", "test", "ship"} {
		if err := m.BeginStep(ctx); err != nil {
			t.Fatalf("BeginStep %d: %v", i, err)
		}
		if err := m.RecordStep(ctx, ok(name), map[string]string{name: "done"}); err != nil {
			t.Fatalf("RecordStep %d: %v", i, err)
		}
	}

	got, _ := store.LoadSession(ctx, m.Snapshot().ID)
	if got.Status != session.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.StepIndex != 3 || len(got.Steps) != 3 || got.Steps[2].Index != 2 {
		t.Errorf("step index %d, %d results", got.StepIndex, len(got.Steps))
	}
	vars := got.Variables()
	if vars["a"] != "1" || vars["ship"] != "done" {
		t.Errorf("variables = %v", vars)
	}
	if session.IsResumable(got) {
		t.Error("completed session reported resumable")
	}

	if err := m.Fail(ctx, errors.New("late")); !errors.Is(err, conductor.ErrSessionCompleted) {
		t.Errorf("Fail after completion = %v, want ErrSessionCompleted", err)
	}
}

func TestMachine_FirstAttemptMakesResumable(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	m, _ := session.Start(ctx, store, session.New(threeSteps(), nil))

	if err := m.BeginStep(ctx); err != nil {
		t.Fatalf("BeginStep: %v", err)
	}
	saves := store.saves
	if err := m.BeginStep(ctx); err != nil {
		t.Fatalf("BeginStep again: %v", err)
	}
	if store.saves != saves {
		t.Errorf("repeated BeginStep wrote %d extra checkpoints", store.saves-saves)
	}
	if err := m.Interrupt(ctx); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	got, _ := store.LoadSession(ctx, m.Snapshot().ID)
	if got.Status != session.StatusInterrupted || got.StepIndex != 0 || len(got.Steps) != 0 {
		t.Fatalf("interrupted record = %+v", got)
	}
	if !session.IsResumable(got) {
		t.Error("interrupted session with state is not resumable")
	}
}

func TestMachine_ResumeFailed(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	m, _ := session.Start(ctx, store, session.New(threeSteps(), nil))
	_ = m.BeginStep(ctx)
	_ = m.RecordStep(ctx, ok("build"), nil)
	if err := m.Fail(ctx, errors.New("tests broke")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	loaded, _ := store.LoadSession(ctx, m.Snapshot().ID)
	if loaded.Error != "tests broke" {
		t.Errorf("error = %q", loaded.Error)
	}

	r := session.Attach(store, loaded)
	if err := r.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ := store.LoadSession(ctx, loaded.ID)
	if got.Status != session.StatusInProgress || got.Error != "" || got.StepIndex != 1 {
		t.Errorf("resumed record = status %s error %q index %d", got.Status, got.Error, got.StepIndex)
	}
}

func TestMachine_ResumeRefused(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	m, _ := session.Start(ctx, store, session.New(session.WorkflowRef{Name: "x", TotalSteps: 1}, nil))
	_ = m.Interrupt(ctx)

	err := session.Attach(store, m.Snapshot()).Resume(ctx)
	var nre *session.NotResumableError
	if !errors.As(err, &nre) || !errors.Is(err, conductor.ErrNotResumable) {
		t.Fatalf("Resume = %v, want NotResumableError", err)
	}
	if nre.Status != session.StatusInterrupted {
		t.Errorf("reported status = %s, want interrupted", nre.Status)
	}
}

func TestMachine_SaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	m, _ := session.Start(ctx, store, session.New(threeSteps(), nil))
	_ = m.BeginStep(ctx)

	store.failErr = errors.New("disk full")
	err := m.RecordStep(ctx, ok("build"), map[string]string{"x": "y"})
	if err == nil || !errors.Is(err, store.failErr) {
		t.Fatalf("RecordStep = %v, want disk full", err)
	}

	snap := m.Snapshot()
	if snap.StepIndex != 0 || len(snap.Steps) != 0 || snap.Variables()["x"] != "" {
		t.Errorf("in-memory session advanced despite failed checkpoint: %+v", snap)
	}

	store.failErr = nil
	if err := m.RecordStep(ctx, ok("build"), nil); err != nil {
		t.Fatalf("RecordStep after recovery: %v", err)
	}
	if got := m.Snapshot().StepIndex; got != 1 {
		t.Errorf("step index = %d, want 1", got)
	}
}

func TestMachine_InvalidTransition(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	m, _ := session.Start(ctx, store, session.New(threeSteps(), nil))
	_ = m.BeginStep(ctx)
	_ = m.Fail(ctx, errors.New("x"))

	err := m.Interrupt(ctx)
	if !errors.Is(err, conductor.ErrInvalidTransition) {
		t.Errorf("Interrupt after Fail = %v, want ErrInvalidTransition", err)
	}
	if err := m.RecordStep(ctx, ok("y"), nil); !errors.Is(err, conductor.ErrInvalidTransition) {
		t.Errorf("RecordStep after Fail = %v, want ErrInvalidTransition", err)
	}
}

func TestStart_RejectsProgress(t *testing.T) {
	s := session.New(threeSteps(), nil)
	s.StepIndex = 1
	if _, err := session.Start(context.Background(), newMapStore(), s); err == nil {
		t.Error("Start accepted a session with progress")
	}
}
