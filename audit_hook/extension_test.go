package audithook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/conductor/audit_hook"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/session"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

func newTestSession() *session.Session {
	s := session.New(session.WorkflowRef{Name: "release", Hash: "abc", TotalSteps: 3}, nil)
	s.StepIndex = 1
	return s
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_SessionHooks(t *testing.T) {
	ctx := context.Background()
	s := newTestSession()
	boom := errors.New("exit status 2")

	tests := []struct {
		name     string
		fire     func(e *ah.Extension) error
		action   string
		severity string
		outcome  string
		reason   string
	}{
		{"started", func(e *ah.Extension) error { return e.OnSessionStarted(ctx, s) },
			ah.ActionSessionStarted, ah.SeverityInfo, ah.OutcomeSuccess, ""},
		{"resumed", func(e *ah.Extension) error { return e.OnSessionResumed(ctx, s) },
			ah.ActionSessionResumed, ah.SeverityInfo, ah.OutcomeSuccess, ""},
		{"completed", func(e *ah.Extension) error { return e.OnSessionCompleted(ctx, s, time.Second) },
			ah.ActionSessionCompleted, ah.SeverityInfo, ah.OutcomeSuccess, ""},
		{"failed", func(e *ah.Extension) error { return e.OnSessionFailed(ctx, s, boom) },
			ah.ActionSessionFailed, ah.SeverityCritical, ah.OutcomeFailure, "exit status 2"},
		{"interrupted", func(e *ah.Extension) error { return e.OnSessionInterrupted(ctx, s) },
			ah.ActionSessionInterrupted, ah.SeverityWarning, ah.OutcomeFailure, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			if err := tt.fire(ah.New(rec)); err != nil {
				t.Fatalf("hook: %v", err)
			}
			evt := rec.last()
			if evt == nil {
				t.Fatal("no event recorded")
			}
			if evt.Action != tt.action {
				t.Errorf("Action: want %q, got %q", tt.action, evt.Action)
			}
			if evt.Resource != ah.ResourceSession || evt.Category != ah.CategorySession {
				t.Errorf("Resource/Category: got %q/%q", evt.Resource, evt.Category)
			}
			if evt.ResourceID != s.ID.String() {
				t.Errorf("ResourceID: want %q, got %q", s.ID.String(), evt.ResourceID)
			}
			if evt.Severity != tt.severity {
				t.Errorf("Severity: want %q, got %q", tt.severity, evt.Severity)
			}
			if evt.Outcome != tt.outcome {
				t.Errorf("Outcome: want %q, got %q", tt.outcome, evt.Outcome)
			}
			if evt.Reason != tt.reason {
				t.Errorf("Reason: want %q, got %q", tt.reason, evt.Reason)
			}
			if evt.Metadata["workflow"] != "release" {
				t.Errorf("Metadata[workflow]: got %v", evt.Metadata["workflow"])
			}
		})
	}
}

func TestExtension_StepRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	sid := id.NewSessionID()

	if err := e.OnStepRetrying(context.Background(), sid, "build", 2, 1500*time.Millisecond); err != nil {
		t.Fatalf("OnStepRetrying: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionStepRetrying {
		t.Errorf("Action: want %q, got %q", ah.ActionStepRetrying, evt.Action)
	}
	if evt.Metadata["step"] != "build" {
		t.Errorf("Metadata[step]: got %v", evt.Metadata["step"])
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: got %v", evt.Metadata["attempt"])
	}
	if evt.Metadata["delay_ms"] != int64(1500) {
		t.Errorf("Metadata[delay_ms]: got %v", evt.Metadata["delay_ms"])
	}
}

func TestExtension_UnitDLQ(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	entry := &dlq.Entry{
		ID:       id.NewDLQID(),
		JobID:    id.NewJobID(),
		UnitKey:  "pkg/a.go",
		Workflow: "fix-files/agent",
		Error:    "rate limited",
		Attempts: 3,
	}

	if err := e.OnUnitDLQ(context.Background(), entry); err != nil {
		t.Fatalf("OnUnitDLQ: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionUnitDLQ || evt.Severity != ah.SeverityCritical {
		t.Errorf("got %q/%q", evt.Action, evt.Severity)
	}
	if evt.ResourceID != entry.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", entry.ID.String(), evt.ResourceID)
	}
	if evt.Reason != "rate limited" {
		t.Errorf("Reason: got %q", evt.Reason)
	}
	if evt.Metadata["unit"] != "pkg/a.go" {
		t.Errorf("Metadata[unit]: got %v", evt.Metadata["unit"])
	}
}

func TestExtension_WithActions(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionUnitFailed))
	ctx := context.Background()
	sid := id.NewSessionID()

	_ = e.OnUnitCompleted(ctx, "a", sid)
	_ = e.OnUnitFailed(ctx, "b", sid, errors.New("boom"))
	_ = e.OnStepCompleted(ctx, sid, "build", time.Second)

	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
	if rec.last().ResourceID != "b" {
		t.Errorf("ResourceID: got %q", rec.last().ResourceID)
	}
}

func TestExtension_RecorderErrorSwallowed(t *testing.T) {
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("disk full")
	})
	e := ah.New(failing, ah.WithLogger(discard()))
	if err := e.OnSessionStarted(context.Background(), newTestSession()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	var buf bytes.Buffer
	reg := ext.NewRegistry(discard())
	reg.Register(ah.New(ah.NewJSONLRecorder(&buf)))

	ctx := context.Background()
	s := newTestSession()
	reg.EmitSessionStarted(ctx, s)
	reg.EmitStepFailed(ctx, s.ID, "test", errors.New("exit status 1"))
	reg.EmitWorktreeReclaimed(ctx, "/tmp/wt", "completed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var evt ah.AuditEvent
	if err := json.Unmarshal([]byte(lines[1]), &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Action != ah.ActionStepFailed || evt.Reason != "exit status 1" {
		t.Errorf("got %+v", evt)
	}
	if evt.Time.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestAllActions(t *testing.T) {
	if got := len(ah.AllActions()); got != 11 {
		t.Errorf("expected 11 actions, got %d", got)
	}
}
