package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/coordinator"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/executor"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	mw "github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/observability"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/retry"
	"github.com/xraph/conductor/session"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/throttle"
	"github.com/xraph/conductor/workflow"
	"github.com/xraph/conductor/worktree"
)

// Engine wraps a Conductor with typed subsystem access.
// Use Build() to create one from a Conductor.
type Engine struct {
	c          *conductor.Conductor
	store      store.Store
	extensions *ext.Registry
	logger     *slog.Logger

	runners  map[command.Kind]command.Runner
	manager  worktree.Manager
	mws      []mw.Middleware
	breakers map[command.Kind]*retry.Breaker
	clock    executor.Clock

	throttleConfigs []throttle.Config
	throttle        *throttle.Manager

	exec  *executor.Executor
	orch  *orchestrator.Orchestrator
	pool  *coordinator.Pool
	coord *coordinator.Coordinator
	dlq   *dlq.Service
	plans *workflow.Registry

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware appends middleware after the engine's default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithRunner replaces the collaborator runner for kind. By default shell
// steps run through bash and claude steps through the claude CLI.
func WithRunner(kind command.Kind, r command.Runner) Option {
	return func(eng *Engine) {
		eng.runners[kind] = r
	}
}

// WithWorktreeManager sets how the pool creates working copies. The
// default is plain directories under <StateDir>/worktrees.
func WithWorktreeManager(m worktree.Manager) Option {
	return func(eng *Engine) {
		eng.manager = m
	}
}

// WithThrottle registers per-kind concurrency and rate limits. Kinds not
// listed have no limits.
func WithThrottle(configs ...throttle.Config) Option {
	return func(eng *Engine) {
		eng.throttleConfigs = append(eng.throttleConfigs, configs...)
	}
}

// WithBreaker shares b across every step of kind.
func WithBreaker(kind command.Kind, b *retry.Breaker) Option {
	return func(eng *Engine) {
		eng.breakers[kind] = b
	}
}

// WithClock replaces the executor's time source.
func WithClock(c executor.Clock) Option {
	return func(eng *Engine) {
		eng.clock = c
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Conductor.
// The Conductor's store must implement store.Store.
func Build(c *conductor.Conductor, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	if c.Store() == nil {
		return nil, conductor.ErrNoStore
	}
	st, ok := c.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("conductor: store does not implement store.Store")
	}

	config := c.Config()
	eng := &Engine{
		c:          c,
		store:      st,
		extensions: ext.NewRegistry(logger),
		logger:     logger,
		runners: map[command.Kind]command.Runner{
			command.KindShell:  command.NewShell(),
			command.KindClaude: command.NewClaude(),
		},
		breakers: map[command.Kind]*retry.Breaker{},
		clock:    executor.RealClock(),
		plans:    workflow.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.manager == nil {
		eng.manager = &worktree.Dir{Base: filepath.Join(config.StateDir, "worktrees")}
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/conductor"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and the observability extension.
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/conductor"))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/xraph/conductor/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → throttle → timeout.
	stack := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	if len(eng.throttleConfigs) > 0 {
		eng.throttle = throttle.NewManager(eng.throttleConfigs...)
		stack = append(stack, mw.Throttle(eng.throttle))
	}
	stack = append(stack, mw.Timeout(logger))
	stack = append(stack, eng.mws...)

	mux := command.NewMux()
	for kind, r := range eng.runners {
		mux.Handle(kind, r)
	}

	execOpts := []executor.Option{
		executor.WithClock(eng.clock),
		executor.WithExtensions(eng.extensions),
		executor.WithMiddleware(stack...),
		executor.WithLogger(logger),
	}
	for kind, b := range eng.breakers {
		execOpts = append(execOpts, executor.WithBreaker(kind, b))
	}
	eng.exec = executor.New(mux, execOpts...)

	eng.orch = orchestrator.New(st, eng.exec,
		orchestrator.WithExtensions(eng.extensions),
		orchestrator.WithLogger(logger),
	)
	eng.pool = coordinator.NewPool(eng.manager, config,
		coordinator.WithPoolExtensions(eng.extensions),
		coordinator.WithPoolLogger(logger),
	)
	eng.dlq = dlq.NewService(st)
	eng.coord = coordinator.New(eng.pool, eng.orch,
		coordinator.WithJobStore(st),
		coordinator.WithDLQ(eng.dlq),
		coordinator.WithExtensions(eng.extensions),
		coordinator.WithLogger(logger),
	)

	// Wire back into the Conductor.
	c.SetPool(eng.pool)
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

// Run starts a fresh session of plan.
func (eng *Engine) Run(ctx context.Context, plan *workflow.Plan, opts orchestrator.RunOptions) (*orchestrator.Report, error) {
	return eng.orch.Run(ctx, plan, opts)
}

// Resume re-enters sessionID. A nil plan is reloaded from the workflow
// file recorded in the checkpoint.
func (eng *Engine) Resume(ctx context.Context, sessionID id.SessionID, plan *workflow.Plan, opts orchestrator.ResumeOptions) (*orchestrator.Report, error) {
	if plan == nil {
		s, err := eng.store.LoadSession(ctx, sessionID)
		if err != nil {
			return &orchestrator.Report{Code: orchestrator.CodeOf(err)}, err
		}
		if plan, err = ResolvePlan(s.Workflow); err != nil {
			return &orchestrator.Report{Code: orchestrator.CodeNotResumable, Session: s}, err
		}
	}
	return eng.orch.Resume(ctx, sessionID, plan, opts)
}

// ResumeLast re-enters the most recently interrupted session.
func (eng *Engine) ResumeLast(ctx context.Context, opts orchestrator.ResumeOptions) (*orchestrator.Report, error) {
	last, err := eng.orch.LastInterrupted(ctx)
	if err != nil {
		return &orchestrator.Report{Code: orchestrator.CodeOf(err)}, err
	}
	return eng.Resume(ctx, last.ID, nil, opts)
}

// Sessions lists session summaries, newest first.
func (eng *Engine) Sessions(ctx context.Context, opts session.ListOpts) ([]*session.Summary, error) {
	return eng.store.ListSessions(ctx, opts)
}

// ListResumable returns every session that can be resumed.
func (eng *Engine) ListResumable(ctx context.Context) ([]*session.Summary, error) {
	return eng.orch.ListResumable(ctx)
}

// LastInterrupted returns the most recently interrupted session.
func (eng *Engine) LastInterrupted(ctx context.Context) (*session.Summary, error) {
	return eng.orch.LastInterrupted(ctx)
}

// ResolvePlan loads and compiles the plan a session was started from.
// Phase plans of a MapReduce workflow are matched by name.
func ResolvePlan(ref session.WorkflowRef) (*workflow.Plan, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("%w: session of %s records no workflow file", conductor.ErrNotResumable, ref.Name)
	}
	def, err := workflow.Load(ref.Path)
	if err != nil {
		return nil, err
	}
	if def.MapReduce == nil {
		return workflow.Compile(def)
	}
	mr, err := workflow.CompileMapReduce(def)
	if err != nil {
		return nil, err
	}
	for _, p := range []*workflow.Plan{mr.Setup, mr.Agent, mr.Reduce} {
		if p != nil && p.Name == ref.Name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no phase %s", conductor.ErrWorkflowChanged, ref.Path, ref.Name)
}

// ──────────────────────────────────────────────────
// Fan-out
// ──────────────────────────────────────────────────

// RunUnits runs plan once per unit across the worktree pool.
func (eng *Engine) RunUnits(ctx context.Context, plan *workflow.Plan, units []coordinator.Unit, opts coordinator.RunOptions) (*coordinator.Aggregate, error) {
	return eng.coord.RunUnits(ctx, plan, units, opts)
}

// MapReduce runs or resumes a MapReduce job over items. The plan is
// registered so its dead-lettered units can be replayed later.
func (eng *Engine) MapReduce(ctx context.Context, mr *workflow.MapReducePlan, items []json.RawMessage, opts coordinator.MapReduceOptions) (*coordinator.MapReduceResult, error) {
	eng.plans.Register(mr)
	return eng.coord.RunMapReduce(ctx, mr, items, opts)
}

// RegisterMapReduce makes mr available to ReplayDLQ without running it.
func (eng *Engine) RegisterMapReduce(mr *workflow.MapReducePlan) {
	eng.plans.Register(mr)
}

// ListDLQ returns dead-lettered units.
func (eng *Engine) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return eng.store.ListDLQ(ctx, opts)
}

// ReplayDLQ reruns a dead-lettered unit with the agent plan of its
// registered workflow.
func (eng *Engine) ReplayDLQ(ctx context.Context, entryID id.DLQID) (*coordinator.UnitResult, error) {
	entry, err := eng.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	mr, ok := eng.plans.Get(entry.Workflow)
	if !ok {
		return nil, fmt.Errorf("conductor/engine: workflow %q is not registered", entry.Workflow)
	}
	return eng.coord.ReplayDLQ(ctx, entryID, mr.Agent, nil)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start begins background maintenance (the worktree reaper).
func (eng *Engine) Start(ctx context.Context) error {
	return eng.c.Start(ctx)
}

// Stop reclaims idle worktrees, notifies extensions and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.c.Stop(ctx); err != nil && !errors.Is(err, conductor.ErrStoreClosed) {
		return err
	}
	return nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// Orchestrator returns the session orchestrator.
func (eng *Engine) Orchestrator() *orchestrator.Orchestrator { return eng.orch }

// Coordinator returns the parallel coordinator.
func (eng *Engine) Coordinator() *coordinator.Coordinator { return eng.coord }

// Pool returns the worktree pool.
func (eng *Engine) Pool() *coordinator.Pool { return eng.pool }

// Throttle returns the per-kind limiter, or nil when none is configured.
func (eng *Engine) Throttle() *throttle.Manager { return eng.throttle }

// DLQ returns the dead letter queue service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlq }
