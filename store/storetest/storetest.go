// Package storetest holds the behavioural tests every store backend must
// pass. Backend packages call [Run] from their own _test files.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/session"
	"github.com/xraph/conductor/store"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("SessionRoundTrip", func(t *testing.T) { testSessionRoundTrip(t, newStore(t)) })
	t.Run("SessionReplace", func(t *testing.T) { testSessionReplace(t, newStore(t)) })
	t.Run("SessionNotFound", func(t *testing.T) { testSessionNotFound(t, newStore(t)) })
	t.Run("SessionList", func(t *testing.T) { testSessionList(t, newStore(t)) })
	t.Run("SessionDelete", func(t *testing.T) { testSessionDelete(t, newStore(t)) })
	t.Run("SnapshotIsolation", func(t *testing.T) { testSnapshotIsolation(t, newStore(t)) })
	t.Run("JobRoundTrip", func(t *testing.T) { testJobRoundTrip(t, newStore(t)) })
	t.Run("DLQ", func(t *testing.T) { testDLQ(t, newStore(t)) })
}

// NewSession builds an in-progress session with one completed step.
func NewSession(name string, updated time.Time) *session.Session {
	s := session.New(session.WorkflowRef{Name: name, Hash: "h1", TotalSteps: 3}, map[string]string{"target": "main"})
	s.Status = session.StatusInProgress
	s.State = &session.State{Variables: map[string]string{"target": "main"}}
	s.Steps = []session.StepResult{{
		Index:       0,
		Name:        "build",
		Command:     "make",
		Outcome:     session.OutcomeSucceeded,
		Attempts:    1,
		Output:      "ok",
		CompletedAt: updated,
	}}
	s.StepIndex = 1
	s.CreatedAt = updated.Add(-time.Minute)
	s.UpdatedAt = updated
	return s
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testSessionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	want := NewSession("deploy", now)

	if err := s.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	got, err := s.LoadSession(ctx, want.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("ID = %v, want %v", got.ID, want.ID)
	}
	if got.Status != session.StatusInProgress {
		t.Errorf("Status = %v, want %v", got.Status, session.StatusInProgress)
	}
	if got.StepIndex != 1 || len(got.Steps) != 1 {
		t.Errorf("StepIndex = %d, steps = %d, want 1, 1", got.StepIndex, len(got.Steps))
	}
	if got.Steps[0].Output != "ok" {
		t.Errorf("Steps[0].Output = %q, want %q", got.Steps[0].Output, "ok")
	}
	if got.State == nil || got.State.Variables["target"] != "main" {
		t.Errorf("State = %+v, want target=main", got.State)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
	}
}

func testSessionReplace(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := NewSession("deploy", time.Now().UTC())
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	sess.Status = session.StatusInterrupted
	sess.Error = "interrupted"
	sess.UpdatedAt = sess.UpdatedAt.Add(time.Second)
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession (replace): %v", err)
	}

	got, err := s.LoadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.Status != session.StatusInterrupted || got.Error != "interrupted" {
		t.Errorf("got status %v error %q, want interrupted", got.Status, got.Error)
	}

	list, err := s.ListSessions(ctx, session.ListOpts{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListSessions returned %d records after replace, want 1", len(list))
	}
}

func testSessionNotFound(t *testing.T, s store.Store) {
	_, err := s.LoadSession(context.Background(), id.NewSessionID())
	if !errors.Is(err, conductor.ErrSessionNotFound) {
		t.Errorf("LoadSession(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func testSessionList(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	older := NewSession("a", base)
	newer := NewSession("b", base.Add(time.Minute))
	newer.Status = session.StatusInterrupted
	done := NewSession("c", base.Add(2*time.Minute))
	done.Status = session.StatusCompleted

	for _, sess := range []*session.Session{older, newer, done} {
		if err := s.SaveSession(ctx, sess); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	all, err := s.ListSessions(ctx, session.ListOpts{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListSessions = %d, want 3", len(all))
	}
	if all[0].ID != done.ID || all[2].ID != older.ID {
		t.Errorf("ListSessions not newest first: %v, %v, %v", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[0].Resumable {
		t.Error("completed session reported resumable")
	}
	if !all[1].Resumable {
		t.Error("interrupted session reported not resumable")
	}

	interrupted, err := s.ListSessions(ctx, session.ListOpts{Status: session.StatusInterrupted})
	if err != nil {
		t.Fatalf("ListSessions(interrupted): %v", err)
	}
	if len(interrupted) != 1 || interrupted[0].ID != newer.ID {
		t.Errorf("status filter returned %+v", interrupted)
	}

	limited, err := s.ListSessions(ctx, session.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListSessions(limit): %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit returned %d, want 2", len(limited))
	}
}

func testSessionDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := NewSession("deploy", time.Now().UTC())
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.LoadSession(ctx, sess.ID); !errors.Is(err, conductor.ErrSessionNotFound) {
		t.Errorf("LoadSession after delete error = %v, want ErrSessionNotFound", err)
	}
	if err := s.DeleteSession(ctx, sess.ID); !errors.Is(err, conductor.ErrSessionNotFound) {
		t.Errorf("DeleteSession(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func testSnapshotIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess := NewSession("deploy", time.Now().UTC())
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	sess.State.Variables["target"] = "mutated"
	sess.Steps[0].Output = "mutated"

	got, err := s.LoadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got.State.Variables["target"] != "main" || got.Steps[0].Output != "ok" {
		t.Error("store shares memory with the saved session")
	}
}

func testJobRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	j, err := job.New("lint", "h1", []json.RawMessage{
		json.RawMessage(`{"file":"a.go"}`),
		json.RawMessage(`{"file":"b.go"}`),
	})
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	j.SetupDone = true
	j.Ordered()[0].Status = job.UnitSucceeded
	j.UpdatedAt = j.UpdatedAt.Add(time.Second)
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob (replace): %v", err)
	}

	got, err := s.LoadJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("LoadJob: %v", err)
	}
	if !got.SetupDone {
		t.Error("SetupDone lost")
	}
	if len(got.Pending()) != 1 {
		t.Errorf("Pending = %d, want 1", len(got.Pending()))
	}

	jobs, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("ListJobs = %d, want 1", len(jobs))
	}

	if _, err := s.LoadJob(ctx, id.NewJobID()); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Errorf("LoadJob(missing) error = %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.LoadJob(ctx, j.ID); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Errorf("LoadJob after delete error = %v, want ErrJobNotFound", err)
	}
}

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobID := id.NewJobID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	first := &dlq.Entry{
		ID: id.NewDLQID(), JobID: jobID, UnitKey: "k1", Workflow: "lint",
		Item: json.RawMessage(`{"file":"a.go"}`), SessionID: id.NewSessionID(),
		Error: "exit 1", Attempts: 3, FailedAt: base.Add(-2 * time.Hour), CreatedAt: base,
	}
	second := &dlq.Entry{
		ID: id.NewDLQID(), JobID: id.NewJobID(), UnitKey: "k2", Workflow: "lint",
		SessionID: id.NewSessionID(), Error: "timeout", Attempts: 1,
		FailedAt: base, CreatedAt: base,
	}
	for _, e := range []*dlq.Entry{first, second} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	n, err := s.CountDLQ(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CountDLQ = %d, %v, want 2", n, err)
	}

	all, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID {
		t.Errorf("ListDLQ not oldest first: %+v", all)
	}

	byJob, err := s.ListDLQ(ctx, dlq.ListOpts{JobID: jobID})
	if err != nil {
		t.Fatalf("ListDLQ(job): %v", err)
	}
	if len(byJob) != 1 || byJob[0].UnitKey != "k1" {
		t.Errorf("job filter returned %+v", byJob)
	}

	got, err := s.GetDLQ(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.Replayed() {
		t.Error("fresh entry reported replayed")
	}
	if string(got.Item) != `{"file":"a.go"}` {
		t.Errorf("Item = %s", got.Item)
	}

	if err := s.ReplayDLQ(ctx, first.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, err = s.GetDLQ(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if !got.Replayed() {
		t.Error("replayed entry not marked")
	}

	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, conductor.ErrDLQNotFound) {
		t.Errorf("GetDLQ(missing) error = %v, want ErrDLQNotFound", err)
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, conductor.ErrDLQNotFound) {
		t.Errorf("ReplayDLQ(missing) error = %v, want ErrDLQNotFound", err)
	}

	purged, err := s.PurgeDLQ(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if purged != 1 {
		t.Errorf("PurgeDLQ = %d, want 1", purged)
	}
	if n, _ := s.CountDLQ(ctx); n != 1 {
		t.Errorf("CountDLQ after purge = %d, want 1", n)
	}
}
