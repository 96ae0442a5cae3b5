package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/session"
	"github.com/xraph/conductor/workflow"
)

// errAbort cancels sibling units when a run aborts on first failure.
var errAbort = errors.New("conductor/coordinator: unit failed, aborting siblings")

// Unit is one session to run under the coordinator.
type Unit struct {
	// Key identifies the unit in the aggregate.
	Key       string
	Variables map[string]string
	Labels    map[string]string
	// SessionID pre-assigns the session id. With Resume set it names the
	// session to re-enter.
	SessionID id.SessionID
	Resume    bool
}

// UnitResult is the terminal outcome of one unit.
type UnitResult struct {
	Key       string
	SessionID id.SessionID
	Code      orchestrator.Code
	Report    *orchestrator.Report
	WorkDir   string
	Reused    bool
	// Err is the step failure or infrastructure error that ended the unit.
	Err error
}

// Succeeded reports whether the unit's session completed.
func (r *UnitResult) Succeeded() bool { return r.Code == orchestrator.CodeCompleted }

// Aggregate collects unit outcomes.
type Aggregate struct {
	Total       int
	Succeeded   int
	Failed      int
	Interrupted int
	Units       map[string]*UnitResult
}

// Summary renders "N of M succeeded".
func (a *Aggregate) Summary() string {
	s := fmt.Sprintf("%d of %d succeeded", a.Succeeded, a.Total)
	if a.Failed > 0 {
		s += fmt.Sprintf(", %d failed", a.Failed)
	}
	if a.Interrupted > 0 {
		s += fmt.Sprintf(", %d interrupted", a.Interrupted)
	}
	return s
}

// OK reports whether every unit succeeded.
func (a *Aggregate) OK() bool { return a.Succeeded == a.Total }

func (a *Aggregate) add(r *UnitResult) {
	a.Units[r.Key] = r
	switch r.Code {
	case orchestrator.CodeCompleted:
		a.Succeeded++
	case orchestrator.CodeInterrupted:
		a.Interrupted++
	default:
		a.Failed++
	}
}

// RunOptions configures RunUnits.
type RunOptions struct {
	// MaxParallel caps concurrent units below the pool size. Zero means
	// the pool size.
	MaxParallel int
	// AbortOnFailure cancels the remaining units after the first failure.
	AbortOnFailure bool
	// OnUnit is called once per unit as it reaches a terminal state.
	// Calls are serialized.
	OnUnit func(ctx context.Context, r *UnitResult) error
}

// Coordinator runs units concurrently, each in a pooled worktree.
type Coordinator struct {
	pool       *Pool
	orch       *orchestrator.Orchestrator
	jobs       job.Store
	dlq        *dlq.Service
	extensions *ext.Registry
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJobStore sets the store used to checkpoint MapReduce jobs.
func WithJobStore(s job.Store) Option {
	return func(c *Coordinator) { c.jobs = s }
}

// WithDLQ sets the dead-letter queue that receives failed MapReduce units.
func WithDLQ(d *dlq.Service) Option {
	return func(c *Coordinator) { c.dlq = d }
}

// WithExtensions sets the registry notified of unit events.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Coordinator) { c.extensions = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator.
func New(pool *Pool, orch *orchestrator.Orchestrator, opts ...Option) *Coordinator {
	c := &Coordinator{pool: pool, orch: orch, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.extensions == nil {
		c.extensions = ext.NewRegistry(c.logger)
	}
	return c
}

// Pool returns the worktree pool.
func (c *Coordinator) Pool() *Pool { return c.pool }

// RunUnits runs one session of plan per unit and aggregates the outcomes.
// A failed unit does not stop its siblings unless opts.AbortOnFailure is
// set. Units still running when ctx is cancelled end Interrupted. The
// error return is reserved for infrastructure failures.
func (c *Coordinator) RunUnits(ctx context.Context, plan *workflow.Plan, units []Unit, opts RunOptions) (*Aggregate, error) {
	agg := &Aggregate{Total: len(units), Units: make(map[string]*UnitResult, len(units))}
	var mu sync.Mutex

	var (
		g    *errgroup.Group
		gctx = ctx
	)
	if opts.AbortOnFailure {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = new(errgroup.Group)
	}
	limit := c.pool.Size()
	if opts.MaxParallel > 0 && opts.MaxParallel < limit {
		limit = opts.MaxParallel
	}
	g.SetLimit(limit)

	c.logger.Info("fan-out started",
		slog.String("workflow", plan.Name),
		slog.Int("units", len(units)),
		slog.Int("max_parallel", limit),
	)

	var infra []error
	for _, u := range units {
		g.Go(func() error {
			res := c.runUnit(gctx, plan, u)

			mu.Lock()
			defer mu.Unlock()
			agg.add(res)
			if opts.OnUnit != nil {
				if err := opts.OnUnit(context.WithoutCancel(ctx), res); err != nil {
					infra = append(infra, err)
				}
			}
			if opts.AbortOnFailure && res.Code != orchestrator.CodeCompleted && res.Code != orchestrator.CodeInterrupted {
				return errAbort
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, errAbort) {
		return agg, err
	}

	c.logger.Info("fan-out finished",
		slog.String("workflow", plan.Name),
		slog.String("summary", agg.Summary()),
	)
	if len(infra) > 0 {
		return agg, errors.Join(infra...)
	}
	return agg, nil
}

// runUnit leases a worktree, drives the unit's session and hands the
// worktree back.
func (c *Coordinator) runUnit(ctx context.Context, plan *workflow.Plan, u Unit) *UnitResult {
	sid := u.SessionID
	if sid.IsNil() {
		sid = id.NewSessionID()
	}
	res := &UnitResult{Key: u.Key, SessionID: sid}

	lease, err := c.pool.Acquire(ctx, sid)
	if err != nil {
		res.Err = err
		res.Code = orchestrator.CodeFailed
		if ctx.Err() != nil {
			res.Code = orchestrator.CodeInterrupted
		}
		return res
	}
	res.WorkDir = lease.Path
	res.Reused = lease.Reused

	report, err := c.drive(ctx, plan, u, sid, lease.Path)
	switch {
	case report == nil:
		res.Code = orchestrator.CodeFailed
	default:
		res.Report = report
		res.Code = report.Code
		if report.Session != nil {
			res.SessionID = report.Session.ID
		}
		if err == nil {
			err = report.Err
		}
	}
	res.Err = err

	if rerr := c.pool.Release(context.WithoutCancel(ctx), lease, res.Succeeded()); rerr != nil {
		c.logger.Warn("worktree release failed",
			slog.String("unit", u.Key),
			slog.String("error", rerr.Error()),
		)
	}

	switch res.Code {
	case orchestrator.CodeCompleted:
		c.extensions.EmitUnitCompleted(ctx, u.Key, res.SessionID)
	case orchestrator.CodeInterrupted:
	default:
		c.extensions.EmitUnitFailed(ctx, u.Key, res.SessionID, res.Err)
	}
	return res
}

// drive resumes the unit's session when asked to and the checkpoint
// allows it; otherwise it starts a fresh session.
func (c *Coordinator) drive(ctx context.Context, plan *workflow.Plan, u Unit, sid id.SessionID, workDir string) (*orchestrator.Report, error) {
	if u.Resume {
		report, err := c.orch.Resume(ctx, sid, plan, orchestrator.ResumeOptions{WorkDir: workDir})
		if err == nil {
			return report, nil
		}
		code := orchestrator.CodeOf(err)
		if code != orchestrator.CodeNotFound && code != orchestrator.CodeNotResumable {
			return report, err
		}
		// The session finished before the job record caught up.
		if done := finished(report, plan); done != nil {
			c.logger.Info("unit session already completed",
				slog.String("unit", u.Key),
				slog.String("session_id", sid.String()),
			)
			return done, nil
		}
		c.logger.Info("unit session not resumable, starting fresh",
			slog.String("unit", u.Key),
			slog.String("session_id", sid.String()),
			slog.String("reason", err.Error()),
		)
		sid = id.NewSessionID()
	}
	labels := maps.Clone(u.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	labels["unit"] = u.Key
	return c.orch.Run(ctx, plan, orchestrator.RunOptions{
		SessionID: sid,
		WorkDir:   workDir,
		Variables: u.Variables,
		Labels:    labels,
	})
}

// finished returns a completed report when a refused resume found the
// unit's session already completed under the same workflow.
func finished(report *orchestrator.Report, plan *workflow.Plan) *orchestrator.Report {
	if report == nil || report.Session == nil {
		return nil
	}
	s := report.Session
	if s.Status != session.StatusCompleted || s.Workflow.Hash != plan.Hash {
		return nil
	}
	return &orchestrator.Report{Code: orchestrator.CodeCompleted, Session: s, Resumed: true}
}
