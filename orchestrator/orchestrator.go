package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/executor"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/session"
	"github.com/xraph/conductor/workflow"
)

// maxRecordedOutput bounds the step output kept in a checkpoint.
const maxRecordedOutput = 4096

// Orchestrator composes the session machine, the checkpoint store and the
// step executor.
type Orchestrator struct {
	store      session.Store
	exec       *executor.Executor
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExtensions sets the registry notified of session events.
func WithExtensions(r *ext.Registry) Option {
	return func(o *Orchestrator) { o.extensions = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces the time source used for checkpoints and elapsed
// times.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(store session.Store, exec *executor.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		exec:   exec,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.extensions == nil {
		o.extensions = ext.NewRegistry(o.logger)
	}
	return o
}

// RunOptions configures a fresh run.
type RunOptions struct {
	// SessionID pre-assigns the session id. Zero means a new id.
	SessionID id.SessionID
	// WorkDir is the session's working copy.
	WorkDir string
	// Variables seed the workflow state.
	Variables map[string]string
	Labels    map[string]string
}

// ResumeOptions configures a resume.
type ResumeOptions struct {
	// WorkDir overrides the working copy recorded in the checkpoint, for
	// sessions whose worktree was reclaimed.
	WorkDir string
}

// Run starts a fresh session of plan and drives it to a terminal status.
// A failed or interrupted session is reported through Report.Code with a
// nil error; the error return is reserved for checkpoint failures.
func (o *Orchestrator) Run(ctx context.Context, plan *workflow.Plan, opts RunOptions) (*Report, error) {
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("%w: %s has no steps", conductor.ErrInvalidWorkflow, plan.Name)
	}

	vars := maps.Clone(plan.Env)
	if vars == nil {
		vars = map[string]string{}
	}
	maps.Copy(vars, opts.Variables)

	s := session.New(plan.Ref(), vars)
	if !opts.SessionID.IsNil() {
		s.ID = opts.SessionID
	}
	s.WorkDir = opts.WorkDir
	s.Labels = maps.Clone(opts.Labels)

	start := o.now()
	m, err := session.Start(context.WithoutCancel(ctx), o.store, s, session.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("conductor/orchestrator: start: %w", err)
	}
	o.logger.Info("session started",
		slog.String("session_id", s.ID.String()),
		slog.String("workflow", plan.Name),
		slog.Int("steps", len(plan.Steps)),
	)
	o.extensions.EmitSessionStarted(ctx, m.Snapshot())

	return o.drive(ctx, m, plan, start, false)
}

// Resume reloads sessionID and re-enters plan at its first incomplete
// step. It fails with conductor.ErrSessionNotFound, a *session.CorruptError,
// a *session.NotResumableError, or conductor.ErrWorkflowChanged when plan
// no longer matches the checkpoint.
func (o *Orchestrator) Resume(ctx context.Context, sessionID id.SessionID, plan *workflow.Plan, opts ResumeOptions) (*Report, error) {
	s, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return &Report{Code: CodeOf(err)}, err
	}
	if !session.IsResumable(s) {
		err := &session.NotResumableError{ID: s.ID.String(), Status: s.Status, Reason: session.ResumeBlocker(s)}
		return &Report{Code: CodeNotResumable, Session: s}, err
	}
	if s.Workflow.Hash != plan.Hash {
		err := fmt.Errorf("%w: session %s ran %s@%s, plan is %s",
			conductor.ErrWorkflowChanged, s.ID, s.Workflow.Name, short(s.Workflow.Hash), short(plan.Hash))
		return &Report{Code: CodeNotResumable, Session: s}, err
	}
	if opts.WorkDir != "" {
		s.WorkDir = opts.WorkDir
	}

	start := o.now()
	m := session.Attach(o.store, s, session.WithClock(o.now))
	if err := m.Resume(context.WithoutCancel(ctx)); err != nil {
		return &Report{Code: CodeOf(err), Session: s}, fmt.Errorf("conductor/orchestrator: resume: %w", err)
	}
	o.logger.Info("session resumed",
		slog.String("session_id", s.ID.String()),
		slog.String("workflow", plan.Name),
		slog.Int("step_index", s.StepIndex),
		slog.String("previous_status", string(s.Status)),
	)
	o.extensions.EmitSessionResumed(ctx, m.Snapshot())

	return o.drive(ctx, m, plan, start, true)
}

// drive runs steps from the machine's StepIndex until the session leaves
// InProgress.
func (o *Orchestrator) drive(ctx context.Context, m *session.Machine, plan *workflow.Plan, start time.Time, resumed bool) (*Report, error) {
	persist := context.WithoutCancel(ctx)
	report := func(code Code, cause error) *Report {
		return &Report{Code: code, Session: m.Snapshot(), Resumed: resumed, Err: cause, Elapsed: o.now().Sub(start)}
	}

	for {
		snap := m.Snapshot()
		if snap.Status == session.StatusCompleted {
			o.extensions.EmitSessionCompleted(ctx, snap, o.now().Sub(start))
			o.logger.Info("session completed",
				slog.String("session_id", snap.ID.String()),
				slog.Duration("elapsed", o.now().Sub(start)),
			)
			return report(CodeCompleted, nil), nil
		}
		if ctx.Err() != nil {
			return o.interrupt(persist, m, report)
		}

		step := plan.Steps[snap.StepIndex]
		if err := m.BeginStep(persist); err != nil {
			return report(CodeFailed, err), fmt.Errorf("conductor/orchestrator: %w", err)
		}

		ec := &executor.Context{
			SessionID: snap.ID,
			WorkDir:   snap.WorkDir,
			Variables: m.Snapshot().Variables(),
			Env:       plan.Env,
		}
		out := o.exec.Execute(ctx, ec, step)

		switch {
		case out.Status == executor.StatusInterrupted:
			return o.interrupt(persist, m, report)
		case out.Failed():
			if err := m.Fail(persist, out.Err); err != nil {
				return report(CodeFailed, out.Err), fmt.Errorf("conductor/orchestrator: %w", err)
			}
			failed := m.Snapshot()
			o.logger.Warn("session failed",
				slog.String("session_id", failed.ID.String()),
				slog.String("step", step.Name),
				slog.String("error", out.Err.Error()),
			)
			o.extensions.EmitSessionFailed(ctx, failed, out.Err)
			return report(CodeFailed, out.Err), nil
		}

		if err := m.RecordStep(persist, stepResult(step, out), out.Variables); err != nil {
			return report(CodeFailed, err), fmt.Errorf("conductor/orchestrator: %w", err)
		}
	}
}

func (o *Orchestrator) interrupt(persist context.Context, m *session.Machine, report func(Code, error) *Report) (*Report, error) {
	if err := m.Interrupt(persist); err != nil {
		return report(CodeInterrupted, nil), fmt.Errorf("conductor/orchestrator: %w", err)
	}
	snap := m.Snapshot()
	o.logger.Warn("session interrupted",
		slog.String("session_id", snap.ID.String()),
		slog.Int("step_index", snap.StepIndex),
	)
	o.extensions.EmitSessionInterrupted(persist, snap)
	return report(CodeInterrupted, nil), nil
}

func stepResult(step workflow.PlannedStep, out *executor.Outcome) session.StepResult {
	res := session.StepResult{
		Name:      step.Name,
		Command:   out.Command,
		Attempts:  out.Attempts,
		Output:    truncate(out.Output, maxRecordedOutput),
		Variables: out.Variables,
		Duration:  out.Duration,
	}
	switch out.Status {
	case executor.StatusSucceeded:
		res.Outcome = session.OutcomeSucceeded
	case executor.StatusSkipped:
		res.Outcome = session.OutcomeSkipped
	default:
		res.Outcome = session.OutcomeFailed
		if out.Err != nil {
			res.Error = out.Err.Error()
		}
	}
	return res
}

// ──────────────────────────────────────────────────
// Discovery
// ──────────────────────────────────────────────────

// ListResumable returns every resumable session, newest first. Corrupt
// records are skipped.
func (o *Orchestrator) ListResumable(ctx context.Context) ([]*session.Summary, error) {
	all, err := o.store.ListSessions(ctx, session.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("conductor/orchestrator: list: %w", err)
	}
	out := make([]*session.Summary, 0, len(all))
	for _, s := range all {
		if s.Resumable && !s.Corrupt {
			out = append(out, s)
		}
	}
	return out, nil
}

// LastInterrupted returns the most recently updated Interrupted session,
// or conductor.ErrSessionNotFound when there is none.
func (o *Orchestrator) LastInterrupted(ctx context.Context) (*session.Summary, error) {
	list, err := o.store.ListSessions(ctx, session.ListOpts{Status: session.StatusInterrupted, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("conductor/orchestrator: list: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no interrupted session", conductor.ErrSessionNotFound)
	}
	return list[0], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
