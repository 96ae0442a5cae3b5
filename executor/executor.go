package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/retry"
	"github.com/xraph/conductor/workflow"
)

// Executor runs steps through middleware and the collaborator runner,
// handling retry decisions, failure actions and lifecycle events. One
// Executor is shared by every session; all per-session state lives in
// the Context passed to Execute.
type Executor struct {
	runner     command.Runner
	engine     *retry.Engine
	breakers   map[command.Kind]*retry.Breaker
	expander   workflow.Expander
	clock      Clock
	extensions *ext.Registry
	mws        []middleware.Middleware
	mw         middleware.Middleware
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithRetryEngine sets the retry engine. The default draws jitter from a
// random source.
func WithRetryEngine(r *retry.Engine) Option {
	return func(e *Executor) { e.engine = r }
}

// WithBreaker guards every invocation of kind with b. While b is open,
// steps of that kind give up without invoking the collaborator.
func WithBreaker(kind command.Kind, b *retry.Breaker) Option {
	return func(e *Executor) { e.breakers[kind] = b }
}

// WithExpander sets how variables are interpolated into commands.
func WithExpander(x workflow.Expander) Option {
	return func(e *Executor) { e.expander = x }
}

// WithExtensions sets the registry notified of step events.
func WithExtensions(r *ext.Registry) Option {
	return func(e *Executor) { e.extensions = r }
}

// WithMiddleware appends attempt middleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Executor) { e.mws = append(e.mws, mws...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor that invokes runner for every attempt.
func New(runner command.Runner, opts ...Option) *Executor {
	e := &Executor{
		runner:   runner,
		breakers: make(map[command.Kind]*retry.Breaker),
		expander: workflow.EnvExpander{},
		clock:    RealClock(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.engine == nil {
		e.engine = retry.NewEngine(nil)
	}
	if e.extensions == nil {
		e.extensions = ext.NewRegistry(e.logger)
	}
	e.mw = middleware.Chain(e.mws...)
	return e
}

// Execute runs step for the session described by ec.
//
// On success the Outcome carries the variables to merge into the workflow
// state. On give-up the step's failure action applies: stop returns a
// failed Outcome, continue returns a failed Outcome with Continue set, and
// fallback runs the fallback command once. If ctx ends while the step is
// in flight the Outcome is interrupted and nothing about the step should
// be recorded.
func (e *Executor) Execute(ctx context.Context, ec *Context, step workflow.PlannedStep) *Outcome {
	start := e.clock.Now()
	out := e.execute(ctx, ec, step)
	out.Step = step.Name
	out.Duration = e.clock.Now().Sub(start)

	switch out.Status {
	case StatusSucceeded:
		e.extensions.EmitStepCompleted(ctx, ec.SessionID, step.Name, out.Duration)
	case StatusFailed:
		e.extensions.EmitStepFailed(ctx, ec.SessionID, step.Name, out.Err)
	}
	return out
}

func (e *Executor) execute(ctx context.Context, ec *Context, step workflow.PlannedStep) *Outcome {
	if step.When != nil {
		ok, err := step.When.Eval(ec.Variables)
		if err != nil {
			return &Outcome{
				Status: StatusFailed,
				Class:  command.ClassUnknown,
				Reason: retry.ReasonUnretryable,
				Err:    fmt.Errorf("step %s: %w", step.Name, err),
			}
		}
		if !ok {
			e.logger.Debug("step skipped",
				slog.String("session_id", ec.SessionID.String()),
				slog.String("step", step.Name),
				slog.String("when", step.When.String()),
			)
			return &Outcome{Status: StatusSkipped}
		}
	}

	policy := step.Policy
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	cmd := e.expander.Expand(step.Command, ec.Variables)
	out := &Outcome{Command: cmd}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return interrupted(ctx, out)
		}

		breaker := e.breakers[step.Kind]
		if !breaker.Allow() {
			out.Class = command.ClassUnknown
			return e.giveUp(ctx, ec, step, policy, out, retry.ReasonCircuitOpen, "circuit open")
		}

		out.Attempts = attempt
		res, err := e.invoke(ctx, ec, step, cmd, attempt)
		if ctx.Err() != nil {
			return interrupted(ctx, out)
		}

		var msg string
		switch {
		case err != nil:
			out.Class, msg = command.ClassUnknown, err.Error()
		case res.Succeeded():
			breaker.Success()
			out.Class = command.ClassSuccess
			out.Status = StatusSucceeded
			out.Output = res.Output
			out.Variables = captured(step.Kind, step.Capture, res.Output)
			return out
		default:
			out.Class, out.Output, msg = res.Class, res.Output, tail(res.Output, maxMessage)
		}
		breaker.Failure()

		d := e.engine.Decide(retry.Failure{Class: out.Class, Message: msg}, policy, attempt, out.Waited)
		if !d.Retry {
			return e.giveUp(ctx, ec, step, policy, out, d.Reason, msg)
		}

		e.logger.Info("step retrying",
			slog.String("session_id", ec.SessionID.String()),
			slog.String("step", step.Name),
			slog.Int("attempt", attempt),
			slog.String("class", string(out.Class)),
			slog.Duration("delay", d.Delay),
		)
		e.extensions.EmitStepRetrying(ctx, ec.SessionID, step.Name, attempt, d.Delay)

		select {
		case <-ctx.Done():
			return interrupted(ctx, out)
		case <-e.clock.After(d.Delay):
		}
		out.Waited += d.Delay
	}
}

// giveUp applies the policy's failure action once retries are over.
func (e *Executor) giveUp(ctx context.Context, ec *Context, step workflow.PlannedStep, policy *retry.Policy, out *Outcome, reason retry.Reason, msg string) *Outcome {
	out.Status = StatusFailed
	out.Reason = reason
	out.Err = &StepError{Step: step.Name, Class: out.Class, Reason: reason, Attempts: out.Attempts, Message: msg}

	e.logger.Warn("step gave up",
		slog.String("session_id", ec.SessionID.String()),
		slog.String("step", step.Name),
		slog.Int("attempt", out.Attempts),
		slog.String("reason", string(reason)),
		slog.String("action", string(policy.FailureAction())),
	)

	switch policy.FailureAction() {
	case retry.ActionContinue:
		out.Continue = true
	case retry.ActionFallback:
		return e.fallback(ctx, ec, step, policy, out)
	}
	return out
}

// fallback runs the fallback command once. Its success completes the
// step; its failure keeps the original error.
func (e *Executor) fallback(ctx context.Context, ec *Context, step workflow.PlannedStep, policy *retry.Policy, out *Outcome) *Outcome {
	cmd := e.expander.Expand(policy.Fallback, ec.Variables)
	res, err := e.invoke(ctx, ec, step, cmd, out.Attempts+1)
	if ctx.Err() != nil {
		return interrupted(ctx, out)
	}
	if err != nil || !res.Succeeded() {
		detail := "fallback errored"
		if err != nil {
			detail += ": " + err.Error()
		} else {
			detail = fmt.Sprintf("fallback failed (%s)", res.Class)
		}
		out.Err = fmt.Errorf("%w; %s", out.Err, detail)
		return out
	}

	e.logger.Info("step recovered by fallback",
		slog.String("session_id", ec.SessionID.String()),
		slog.String("step", step.Name),
	)
	return &Outcome{
		Status:    StatusSucceeded,
		Command:   cmd,
		Attempts:  out.Attempts,
		Class:     command.ClassSuccess,
		Output:    res.Output,
		Variables: captured(step.Kind, step.Capture, res.Output),
		Waited:    out.Waited,
		FellBack:  true,
	}
}

// invoke sends one attempt through the middleware chain.
func (e *Executor) invoke(ctx context.Context, ec *Context, step workflow.PlannedStep, cmd string, attempt int) (*command.Result, error) {
	req := &command.Request{
		Kind:      step.Kind,
		Command:   cmd,
		WorkDir:   ec.WorkDir,
		Env:       ec.Env,
		Timeout:   step.Timeout,
		SessionID: ec.SessionID,
		Step:      step.Name,
		Attempt:   attempt,
	}
	res, err := e.mw(ctx, req, e.runner.Run)
	if err == nil && res == nil {
		err = fmt.Errorf("conductor/executor: runner returned no result for step %s", step.Name)
	}
	return res, err
}

func interrupted(ctx context.Context, out *Outcome) *Outcome {
	out.Status = StatusInterrupted
	out.Err = context.Cause(ctx)
	return out
}
