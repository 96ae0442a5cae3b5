package executor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/executor"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/retry"
	"github.com/xraph/conductor/workflow"
)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

// fakeClock fires every wait immediately and records the requested delays.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// script replays results in order and records every request it sees.
type script struct {
	mu       sync.Mutex
	results  []*command.Result
	requests []*command.Request
}

func (s *script) Run(_ context.Context, req *command.Request) (*command.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.results) == 0 {
		return &command.Result{Class: command.ClassSuccess}, nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

func results(classes ...command.Class) []*command.Result {
	out := make([]*command.Result, len(classes))
	for i, c := range classes {
		code := 0
		if c != command.ClassSuccess {
			code = 1
		}
		out[i] = &command.Result{Class: c, ExitCode: code, Output: string(c) + " output\n"}
	}
	return out
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newExecutor(r command.Runner, clock executor.Clock, opts ...executor.Option) *executor.Executor {
	base := []executor.Option{
		executor.WithClock(clock),
		executor.WithLogger(discard()),
		executor.WithRetryEngine(retry.NewEngine(backoff.NewSequenceSource(0.5))),
	}
	return executor.New(r, append(base, opts...)...)
}

func newContext() *executor.Context {
	return &executor.Context{
		SessionID: id.NewSessionID(),
		WorkDir:   "/tmp/wt-1",
		Variables: map[string]string{"target": "main"},
	}
}

func policy(attempts int) *retry.Policy {
	p := retry.DefaultPolicy()
	p.Attempts = attempts
	p.InitialDelay = 2 * time.Second
	p.MaxDelay = 30 * time.Second
	return p
}

func step(name, cmd string, p *retry.Policy) workflow.PlannedStep {
	return workflow.PlannedStep{Name: name, Kind: command.KindShell, Command: cmd, Policy: p}
}

// ──────────────────────────────────────────────────
// Success and retry
// ──────────────────────────────────────────────────

func TestExecute_SuccessCapturesOutput(t *testing.T) {
	r := &script{results: []*command.Result{{Class: command.ClassSuccess, Output: "abc123\n"}}}
	e := newExecutor(r, newFakeClock())

	st := step("rev", "git rev-parse ${target}", policy(3))
	st.Capture = "rev"
	out := e.Execute(context.Background(), newContext(), st)

	if out.Status != executor.StatusSucceeded {
		t.Fatalf("Status = %s, want succeeded (err %v)", out.Status, out.Err)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
	if out.Command != "git rev-parse main" {
		t.Errorf("Command = %q, want expanded", out.Command)
	}
	if got := out.Variables["rev"]; got != "abc123" {
		t.Errorf("Variables[rev] = %q, want %q", got, "abc123")
	}
	if got := out.Variables["shell.output"]; got != "abc123" {
		t.Errorf("Variables[shell.output] = %q, want %q", got, "abc123")
	}
	if r.requests[0].WorkDir != "/tmp/wt-1" {
		t.Errorf("WorkDir = %q, want the session's worktree", r.requests[0].WorkDir)
	}
}

func TestExecute_RetriesWithExponentialBackoff(t *testing.T) {
	r := &script{results: results(command.ClassNetwork, command.ClassTimeout, command.ClassNetwork, command.ClassSuccess)}
	clock := newFakeClock()
	e := newExecutor(r, clock)

	out := e.Execute(context.Background(), newContext(), step("build", "make", policy(5)))
	if out.Status != executor.StatusSucceeded {
		t.Fatalf("Status = %s, want succeeded (err %v)", out.Status, out.Err)
	}
	if out.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", out.Attempts)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	got := clock.Delays()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if out.Waited != 14*time.Second {
		t.Errorf("Waited = %v, want 14s", out.Waited)
	}
	for i, req := range r.requests {
		if req.Attempt != i+1 {
			t.Errorf("request %d Attempt = %d, want %d", i, req.Attempt, i+1)
		}
	}
}

func TestExecute_Exhausted(t *testing.T) {
	r := &script{results: results(command.ClassNetwork, command.ClassNetwork, command.ClassNetwork)}
	e := newExecutor(r, newFakeClock())

	out := e.Execute(context.Background(), newContext(), step("deploy", "deploy.sh", policy(3)))
	if out.Status != executor.StatusFailed || !out.Failed() {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	if out.Reason != retry.ReasonExhausted {
		t.Errorf("Reason = %s, want %s", out.Reason, retry.ReasonExhausted)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
	var se *executor.StepError
	if !errors.As(out.Err, &se) {
		t.Fatalf("Err = %T, want *StepError", out.Err)
	}
	if se.Class != command.ClassNetwork {
		t.Errorf("StepError.Class = %s, want network", se.Class)
	}
	if !strings.Contains(out.Err.Error(), "network output") {
		t.Errorf("error %q should carry the collaborator output", out.Err)
	}
}

func TestExecute_RetryOnFilterGivesUpImmediately(t *testing.T) {
	r := &script{results: results(command.ClassServerError)}
	clock := newFakeClock()
	e := newExecutor(r, clock)

	p := policy(5)
	p.RetryOn = []command.Class{command.ClassNetwork, command.ClassTimeout}
	out := e.Execute(context.Background(), newContext(), step("test", "go test ./...", p))

	if out.Reason != retry.ReasonUnretryable {
		t.Errorf("Reason = %s, want unretryable", out.Reason)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
	if len(clock.Delays()) != 0 {
		t.Errorf("waited %v, want no waits", clock.Delays())
	}
}

func TestExecute_BudgetExceeded(t *testing.T) {
	r := &script{results: results(command.ClassTimeout, command.ClassTimeout, command.ClassTimeout, command.ClassTimeout)}
	e := newExecutor(r, newFakeClock())

	p := policy(10)
	p.Budget = 10 * time.Second // 2s + 4s fit, the next 8s does not
	out := e.Execute(context.Background(), newContext(), step("fetch", "curl", p))

	if out.Reason != retry.ReasonBudgetExceeded {
		t.Fatalf("Reason = %s, want budget_exceeded", out.Reason)
	}
	if out.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", out.Attempts)
	}
	if out.Waited != 6*time.Second {
		t.Errorf("Waited = %v, want 6s", out.Waited)
	}
}

func TestExecute_RunnerErrorIsUnknownFailure(t *testing.T) {
	r := command.RunnerFunc(func(context.Context, *command.Request) (*command.Result, error) {
		return nil, errors.New("exec: \"claude\": executable file not found")
	})
	e := newExecutor(r, newFakeClock())

	p := policy(2)
	p.RetryOn = []command.Class{command.ClassNetwork}
	out := e.Execute(context.Background(), newContext(), step("fix", "/fix", p))
	if out.Class != command.ClassUnknown {
		t.Errorf("Class = %s, want unknown", out.Class)
	}
	if out.Reason != retry.ReasonUnretryable {
		t.Errorf("Reason = %s, want unretryable", out.Reason)
	}
}

// ──────────────────────────────────────────────────
// Failure actions
// ──────────────────────────────────────────────────

func TestExecute_OnFailureContinue(t *testing.T) {
	r := &script{results: results(command.ClassUnknown)}
	e := newExecutor(r, newFakeClock())

	p := policy(1)
	p.OnFailure = retry.ActionContinue
	out := e.Execute(context.Background(), newContext(), step("lint", "golangci-lint run", p))

	if out.Status != executor.StatusFailed {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	if !out.Continue || out.Failed() {
		t.Errorf("Continue = %v, Failed() = %v; want a continuing failure", out.Continue, out.Failed())
	}
}

func TestExecute_OnFailureFallback(t *testing.T) {
	r := &script{results: []*command.Result{
		{Class: command.ClassUnknown, ExitCode: 1},
		{Class: command.ClassSuccess, Output: "fixed"},
	}}
	e := newExecutor(r, newFakeClock())

	p := policy(1)
	p.OnFailure = retry.ActionFallback
	p.Fallback = "git checkout ${target}"
	st := step("migrate", "migrate up", p)
	st.Capture = "result"
	out := e.Execute(context.Background(), newContext(), st)

	if out.Status != executor.StatusSucceeded || !out.FellBack {
		t.Fatalf("Status = %s FellBack = %v, want fallback success", out.Status, out.FellBack)
	}
	if got := r.requests[1].Command; got != "git checkout main" {
		t.Errorf("fallback command = %q, want expanded fallback", got)
	}
	if out.Variables["result"] != "fixed" {
		t.Errorf("Variables[result] = %q, want fallback output", out.Variables["result"])
	}
}

func TestExecute_FailedFallbackKeepsError(t *testing.T) {
	r := &script{results: results(command.ClassNetwork, command.ClassNetwork)}
	e := newExecutor(r, newFakeClock())

	p := policy(1)
	p.OnFailure = retry.ActionFallback
	p.Fallback = "rollback.sh"
	out := e.Execute(context.Background(), newContext(), step("release", "release.sh", p))

	if !out.Failed() {
		t.Fatalf("Status = %s, want failed", out.Status)
	}
	var se *executor.StepError
	if !errors.As(out.Err, &se) {
		t.Fatalf("Err = %v, want a wrapped *StepError", out.Err)
	}
	if !strings.Contains(out.Err.Error(), "fallback failed") {
		t.Errorf("Err = %q, want the fallback failure noted", out.Err)
	}
}

// ──────────────────────────────────────────────────
// Conditions, interruption and breakers
// ──────────────────────────────────────────────────

func TestExecute_WhenSkips(t *testing.T) {
	r := &script{}
	e := newExecutor(r, newFakeClock())

	cond, err := workflow.CompileCondition(`target == "release"`)
	if err != nil {
		t.Fatalf("CompileCondition: %v", err)
	}
	st := step("publish", "publish.sh", policy(1))
	st.When = cond

	out := e.Execute(context.Background(), newContext(), st)
	if out.Status != executor.StatusSkipped {
		t.Fatalf("Status = %s, want skipped", out.Status)
	}
	if len(r.requests) != 0 {
		t.Errorf("runner invoked %d times for a skipped step", len(r.requests))
	}
}

func TestExecute_InterruptedDuringAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := command.RunnerFunc(func(ctx context.Context, _ *command.Request) (*command.Result, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newExecutor(r, newFakeClock())

	out := e.Execute(ctx, newContext(), step("long", "sleep 100", policy(3)))
	if out.Status != executor.StatusInterrupted {
		t.Fatalf("Status = %s, want interrupted", out.Status)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", out.Err)
	}
}

// blockingClock never fires, so only cancellation ends a wait.
type blockingClock struct{ waiting chan struct{} }

func (blockingClock) Now() time.Time { return time.Unix(0, 0) }
func (c blockingClock) After(time.Duration) <-chan time.Time {
	close(c.waiting)
	return make(chan time.Time)
}

func TestExecute_InterruptedDuringBackoff(t *testing.T) {
	clock := blockingClock{waiting: make(chan struct{})}
	r := &script{results: results(command.ClassNetwork)}
	e := newExecutor(r, clock)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-clock.waiting
		cancel()
	}()

	out := e.Execute(ctx, newContext(), step("flaky", "flaky.sh", policy(3)))
	if out.Status != executor.StatusInterrupted {
		t.Fatalf("Status = %s, want interrupted", out.Status)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
}

func TestExecute_OpenBreakerGivesUp(t *testing.T) {
	b := retry.NewBreaker(1, time.Hour)
	b.Failure()
	r := &script{}
	e := newExecutor(r, newFakeClock(), executor.WithBreaker(command.KindShell, b))

	out := e.Execute(context.Background(), newContext(), step("call", "call-api", policy(3)))
	if out.Reason != retry.ReasonCircuitOpen {
		t.Fatalf("Reason = %s, want circuit_open", out.Reason)
	}
	if len(r.requests) != 0 {
		t.Errorf("runner invoked %d times while the circuit was open", len(r.requests))
	}
}

// ──────────────────────────────────────────────────
// Hooks
// ──────────────────────────────────────────────────

type hookRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (h *hookRecorder) Name() string { return "hooks" }

func (h *hookRecorder) add(s string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, s)
	return nil
}

func (h *hookRecorder) OnStepCompleted(context.Context, id.SessionID, string, time.Duration) error {
	return h.add("completed")
}

func (h *hookRecorder) OnStepFailed(context.Context, id.SessionID, string, error) error {
	return h.add("failed")
}

func (h *hookRecorder) OnStepRetrying(context.Context, id.SessionID, string, int, time.Duration) error {
	return h.add("retrying")
}

func TestExecute_EmitsStepHooks(t *testing.T) {
	rec := &hookRecorder{}
	reg := ext.NewRegistry(discard())
	reg.Register(rec)

	r := &script{results: results(command.ClassNetwork, command.ClassSuccess, command.ClassNetwork)}
	e := newExecutor(r, newFakeClock(), executor.WithExtensions(reg))

	e.Execute(context.Background(), newContext(), step("a", "a", policy(2)))
	e.Execute(context.Background(), newContext(), step("b", "b", policy(1)))

	want := []string{"retrying", "completed", "failed"}
	if strings.Join(rec.calls, ",") != strings.Join(want, ",") {
		t.Errorf("hooks = %v, want %v", rec.calls, want)
	}
}
