package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/session"
)

var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.SessionStarted     = (*Extension)(nil)
	_ ext.SessionResumed     = (*Extension)(nil)
	_ ext.SessionCompleted   = (*Extension)(nil)
	_ ext.SessionFailed      = (*Extension)(nil)
	_ ext.SessionInterrupted = (*Extension)(nil)
	_ ext.StepCompleted      = (*Extension)(nil)
	_ ext.StepFailed         = (*Extension)(nil)
	_ ext.StepRetrying       = (*Extension)(nil)
	_ ext.UnitCompleted      = (*Extension)(nil)
	_ ext.UnitFailed         = (*Extension)(nil)
	_ ext.UnitDLQ            = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
	Time       time.Time      `json:"time"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension records conductor lifecycle events through a [Recorder].
// Recorder errors are logged and never fail the session.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Session lifecycle hooks ─────────────────────────

func (e *Extension) OnSessionStarted(ctx context.Context, s *session.Session) error {
	return e.recordSession(ctx, ActionSessionStarted, SeverityInfo, OutcomeSuccess, s, nil)
}

func (e *Extension) OnSessionResumed(ctx context.Context, s *session.Session) error {
	return e.recordSession(ctx, ActionSessionResumed, SeverityInfo, OutcomeSuccess, s, nil,
		"step_index", s.StepIndex,
	)
}

func (e *Extension) OnSessionCompleted(ctx context.Context, s *session.Session, elapsed time.Duration) error {
	return e.recordSession(ctx, ActionSessionCompleted, SeverityInfo, OutcomeSuccess, s, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

func (e *Extension) OnSessionFailed(ctx context.Context, s *session.Session, err error) error {
	return e.recordSession(ctx, ActionSessionFailed, SeverityCritical, OutcomeFailure, s, err,
		"step_index", s.StepIndex,
	)
}

func (e *Extension) OnSessionInterrupted(ctx context.Context, s *session.Session) error {
	return e.recordSession(ctx, ActionSessionInterrupted, SeverityWarning, OutcomeFailure, s, nil,
		"step_index", s.StepIndex,
	)
}

// ── Step hooks ──────────────────────────────────────

func (e *Extension) OnStepCompleted(ctx context.Context, sid id.SessionID, step string, elapsed time.Duration) error {
	return e.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceSession, sid.String(), CategorySession, nil,
		"step", step,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

func (e *Extension) OnStepFailed(ctx context.Context, sid id.SessionID, step string, err error) error {
	return e.record(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure,
		ResourceSession, sid.String(), CategorySession, err,
		"step", step,
	)
}

func (e *Extension) OnStepRetrying(ctx context.Context, sid id.SessionID, step string, attempt int, delay time.Duration) error {
	return e.record(ctx, ActionStepRetrying, SeverityWarning, OutcomeFailure,
		ResourceSession, sid.String(), CategorySession, nil,
		"step", step,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

// ── Fan-out hooks ───────────────────────────────────

func (e *Extension) OnUnitCompleted(ctx context.Context, key string, sid id.SessionID) error {
	return e.record(ctx, ActionUnitCompleted, SeverityInfo, OutcomeSuccess,
		ResourceUnit, key, CategoryUnit, nil,
		"session_id", sid.String(),
	)
}

func (e *Extension) OnUnitFailed(ctx context.Context, key string, sid id.SessionID, err error) error {
	return e.record(ctx, ActionUnitFailed, SeverityWarning, OutcomeFailure,
		ResourceUnit, key, CategoryUnit, err,
		"session_id", sid.String(),
	)
}

func (e *Extension) OnUnitDLQ(ctx context.Context, entry *dlq.Entry) error {
	var err error
	if entry.Error != "" {
		err = errors.New(entry.Error)
	}
	return e.record(ctx, ActionUnitDLQ, SeverityCritical, OutcomeFailure,
		ResourceDLQEntry, entry.ID.String(), CategoryUnit, err,
		"unit", entry.UnitKey,
		"workflow", entry.Workflow,
		"job_id", entry.JobID.String(),
		"attempts", entry.Attempts,
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordSession(ctx context.Context, action, severity, outcome string, s *session.Session, err error, kvPairs ...any) error {
	kvPairs = append(kvPairs, "workflow", s.Workflow.Name, "status", string(s.Status))
	return e.record(ctx, action, severity, outcome,
		ResourceSession, s.ID.String(), CategorySession, err, kvPairs...)
}

// record builds and sends an audit event if the action is enabled.
// kvPairs are added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
		Time:       e.now().UTC(),
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
