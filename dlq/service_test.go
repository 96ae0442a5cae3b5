package dlq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/conductor"
	conductorDLQ "github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/store/memory"
)

func newFailure(key string) conductorDLQ.Failure {
	return conductorDLQ.Failure{
		JobID:     id.NewJobID(),
		UnitKey:   key,
		Workflow:  "lint-files",
		Item:      json.RawMessage(`{"file":"main.go"}`),
		SessionID: id.NewSessionID(),
		Attempts:  3,
		Err:       errors.New("exit status 1"),
	}
}

func TestService_Push_BuildsEntryFromFailure(t *testing.T) {
	s := memory.New()
	svc := conductorDLQ.NewService(s)
	ctx := context.Background()

	f := newFailure("k1")
	entry, err := svc.Push(ctx, f)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, conductorDLQ.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	got := entries[0]
	if got.ID != entry.ID {
		t.Errorf("ID = %v, want %v", got.ID, entry.ID)
	}
	if got.JobID != f.JobID {
		t.Errorf("JobID = %v, want %v", got.JobID, f.JobID)
	}
	if got.UnitKey != "k1" {
		t.Errorf("UnitKey = %q, want %q", got.UnitKey, "k1")
	}
	if got.Error != "exit status 1" {
		t.Errorf("Error = %q, want %q", got.Error, "exit status 1")
	}
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", got.Attempts)
	}
	if string(got.Item) != `{"file":"main.go"}` {
		t.Errorf("Item = %s", got.Item)
	}
	if got.FailedAt.IsZero() {
		t.Error("FailedAt not set")
	}
	if got.Replayed() {
		t.Error("fresh entry reported replayed")
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := conductorDLQ.NewService(s)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := svc.Push(ctx, newFailure(key)); err != nil {
			t.Fatalf("Push(%s): %v", key, err)
		}
	}

	count, err := svc.Store().CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 3 {
		t.Errorf("CountDLQ = %d, want 3", count)
	}
}

func TestService_Replay_RerunsAndMarks(t *testing.T) {
	s := memory.New()
	svc := conductorDLQ.NewService(s)
	ctx := context.Background()

	entry, err := svc.Push(ctx, newFailure("k1"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	var rerun *conductorDLQ.Entry
	got, err := svc.Replay(ctx, entry.ID, func(_ context.Context, e *conductorDLQ.Entry) error {
		rerun = e
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if rerun == nil || rerun.UnitKey != "k1" {
		t.Fatalf("rerun got %+v, want entry k1", rerun)
	}
	if !got.Replayed() {
		t.Error("entry not marked replayed")
	}
}

func TestService_Replay_FailedRerunLeavesEntry(t *testing.T) {
	s := memory.New()
	svc := conductorDLQ.NewService(s)
	ctx := context.Background()

	entry, _ := svc.Push(ctx, newFailure("k1"))
	boom := errors.New("still broken")
	_, err := svc.Replay(ctx, entry.ID, func(context.Context, *conductorDLQ.Entry) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Replay error = %v, want %v", err, boom)
	}

	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.Replayed() {
		t.Error("entry marked replayed after a failed rerun")
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	svc := conductorDLQ.NewService(memory.New())
	_, err := svc.Replay(context.Background(), id.NewDLQID(), func(context.Context, *conductorDLQ.Entry) error {
		t.Fatal("rerun called for a missing entry")
		return nil
	})
	if !errors.Is(err, conductor.ErrDLQNotFound) {
		t.Errorf("Replay error = %v, want ErrDLQNotFound", err)
	}
}
