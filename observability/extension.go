package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/session"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.SessionStarted     = (*MetricsExtension)(nil)
	_ ext.SessionResumed     = (*MetricsExtension)(nil)
	_ ext.SessionCompleted   = (*MetricsExtension)(nil)
	_ ext.SessionFailed      = (*MetricsExtension)(nil)
	_ ext.SessionInterrupted = (*MetricsExtension)(nil)
	_ ext.StepCompleted      = (*MetricsExtension)(nil)
	_ ext.StepFailed         = (*MetricsExtension)(nil)
	_ ext.StepRetrying       = (*MetricsExtension)(nil)
	_ ext.UnitCompleted      = (*MetricsExtension)(nil)
	_ ext.UnitFailed         = (*MetricsExtension)(nil)
	_ ext.UnitDLQ            = (*MetricsExtension)(nil)
	_ ext.WorktreeAllocated  = (*MetricsExtension)(nil)
	_ ext.WorktreeReclaimed  = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/conductor/observability"

// MetricsExtension records system-wide lifecycle counters. Register it as
// a conductor extension to track session outcomes, retries, unit results
// and worktree churn.
type MetricsExtension struct {
	SessionStarted     metric.Int64Counter
	SessionResumed     metric.Int64Counter
	SessionCompleted   metric.Int64Counter
	SessionFailed      metric.Int64Counter
	SessionInterrupted metric.Int64Counter
	SessionDuration    metric.Float64Histogram
	StepCompleted      metric.Int64Counter
	StepFailed         metric.Int64Counter
	StepRetried        metric.Int64Counter
	UnitCompleted      metric.Int64Counter
	UnitFailed         metric.Int64Counter
	UnitDLQ            metric.Int64Counter
	WorktreeAllocated  metric.Int64Counter
	WorktreeReclaimed  metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Instrument creation errors yield noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram("conductor.session.duration",
		metric.WithDescription("Wall time of completed sessions in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		SessionStarted:     counter("conductor.session.started", "Sessions started"),
		SessionResumed:     counter("conductor.session.resumed", "Sessions resumed from a checkpoint"),
		SessionCompleted:   counter("conductor.session.completed", "Sessions completed"),
		SessionFailed:      counter("conductor.session.failed", "Sessions failed"),
		SessionInterrupted: counter("conductor.session.interrupted", "Sessions interrupted"),
		SessionDuration:    duration,
		StepCompleted:      counter("conductor.step.completed", "Steps completed"),
		StepFailed:         counter("conductor.step.failed", "Steps that gave up"),
		StepRetried:        counter("conductor.step.retried", "Step retries scheduled"),
		UnitCompleted:      counter("conductor.unit.completed", "Fan-out units completed"),
		UnitFailed:         counter("conductor.unit.failed", "Fan-out units failed"),
		UnitDLQ:            counter("conductor.unit.dlq", "Fan-out units dead-lettered"),
		WorktreeAllocated:  counter("conductor.worktree.allocated", "Worktree leases"),
		WorktreeReclaimed:  counter("conductor.worktree.reclaimed", "Worktrees reclaimed"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func workflowAttr(s *session.Session) metric.AddOption {
	return metric.WithAttributes(attribute.String("workflow", s.Workflow.Name))
}

// ── Session lifecycle hooks ─────────────────────────

// OnSessionStarted implements ext.SessionStarted.
func (m *MetricsExtension) OnSessionStarted(ctx context.Context, s *session.Session) error {
	m.SessionStarted.Add(ctx, 1, workflowAttr(s))
	return nil
}

// OnSessionResumed implements ext.SessionResumed.
func (m *MetricsExtension) OnSessionResumed(ctx context.Context, s *session.Session) error {
	m.SessionResumed.Add(ctx, 1, workflowAttr(s))
	return nil
}

// OnSessionCompleted implements ext.SessionCompleted.
func (m *MetricsExtension) OnSessionCompleted(ctx context.Context, s *session.Session, elapsed time.Duration) error {
	m.SessionCompleted.Add(ctx, 1, workflowAttr(s))
	m.SessionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("workflow", s.Workflow.Name)))
	return nil
}

// OnSessionFailed implements ext.SessionFailed.
func (m *MetricsExtension) OnSessionFailed(ctx context.Context, s *session.Session, _ error) error {
	m.SessionFailed.Add(ctx, 1, workflowAttr(s))
	return nil
}

// OnSessionInterrupted implements ext.SessionInterrupted.
func (m *MetricsExtension) OnSessionInterrupted(ctx context.Context, s *session.Session) error {
	m.SessionInterrupted.Add(ctx, 1, workflowAttr(s))
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, _ id.SessionID, step string, _ time.Duration) error {
	m.StepCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, _ id.SessionID, step string, _ error) error {
	m.StepFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, _ id.SessionID, step string, _ int, _ time.Duration) error {
	m.StepRetried.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	return nil
}

// ── Coordinator hooks ───────────────────────────────

// OnUnitCompleted implements ext.UnitCompleted.
func (m *MetricsExtension) OnUnitCompleted(ctx context.Context, _ string, _ id.SessionID) error {
	m.UnitCompleted.Add(ctx, 1)
	return nil
}

// OnUnitFailed implements ext.UnitFailed.
func (m *MetricsExtension) OnUnitFailed(ctx context.Context, _ string, _ id.SessionID, _ error) error {
	m.UnitFailed.Add(ctx, 1)
	return nil
}

// OnUnitDLQ implements ext.UnitDLQ.
func (m *MetricsExtension) OnUnitDLQ(ctx context.Context, e *dlq.Entry) error {
	m.UnitDLQ.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", e.Workflow)))
	return nil
}

// OnWorktreeAllocated implements ext.WorktreeAllocated.
func (m *MetricsExtension) OnWorktreeAllocated(ctx context.Context, _ string, _ id.SessionID, reused bool) error {
	m.WorktreeAllocated.Add(ctx, 1, metric.WithAttributes(attribute.Bool("reused", reused)))
	return nil
}

// OnWorktreeReclaimed implements ext.WorktreeReclaimed.
func (m *MetricsExtension) OnWorktreeReclaimed(ctx context.Context, _ string, reason string) error {
	m.WorktreeReclaimed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return nil
}
