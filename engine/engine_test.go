package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/coordinator"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/throttle"
	"github.com/xraph/conductor/workflow"
	"github.com/xraph/conductor/worktree"
)

const release = `
name: release
retry:
  attempts: 1
steps:
  - name: build
    shell: make build
  - name: review
    claude: /review
`

const lint = `
name: lint
retry:
  attempts: 1
mapreduce:
  input: files.json
  agent:
    - claude: /lint ${item}
`

type instantClock struct{}

func (instantClock) Now() time.Time { return time.Now().UTC() }
func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// fakeRunner fails the commands listed in fail.
type fakeRunner struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeRunner) Run(_ context.Context, req *command.Request) (*command.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.Command]++
	if f.fail[req.Command] {
		return &command.Result{Class: command.ClassUnknown, ExitCode: 2, Output: "nope"}, nil
	}
	return &command.Result{Class: command.ClassSuccess, Output: "ok"}, nil
}

func (f *fakeRunner) setFail(cmd string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[cmd] = v
}

func (f *fakeRunner) count(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cmd]
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func build(t *testing.T, r *fakeRunner, opts ...engine.Option) *engine.Engine {
	t.Helper()
	c, err := conductor.New(
		conductor.WithStore(memory.New()),
		conductor.WithLogger(discard()),
		conductor.WithStateDir(t.TempDir()),
		conductor.WithMaxParallel(2),
	)
	if err != nil {
		t.Fatalf("conductor.New: %v", err)
	}
	opts = append([]engine.Option{
		engine.WithRunner(command.KindShell, r),
		engine.WithRunner(command.KindClaude, r),
		engine.WithClock(instantClock{}),
	}, opts...)
	eng, err := engine.Build(c, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng
}

func writeWorkflow(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yml")
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func load(t *testing.T, path string) *workflow.Plan {
	t.Helper()
	def, err := workflow.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	plan, err := workflow.Compile(def)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return plan
}

func TestBuild_RequiresStore(t *testing.T) {
	c, err := conductor.New(conductor.WithLogger(discard()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Build(c); !errors.Is(err, conductor.ErrNoStore) {
		t.Errorf("Build err = %v, want ErrNoStore", err)
	}
}

func TestEngine_RunRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	r := newFakeRunner()
	eng := build(t, r, engine.WithMeterProvider(mp))

	rep, err := eng.Run(context.Background(), load(t, writeWorkflow(t, release)), orchestrator.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Code != orchestrator.CodeCompleted {
		t.Fatalf("Code = %s, want completed", rep.Code)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	for _, name := range []string{"conductor.attempt.executions", "conductor.session.completed", "conductor.step.completed"} {
		if !found[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

func TestEngine_ResumeReloadsWorkflowFile(t *testing.T) {
	r := newFakeRunner()
	r.setFail("/review", true)
	eng := build(t, r)
	ctx := context.Background()
	path := writeWorkflow(t, release)

	rep, err := eng.Run(ctx, load(t, path), orchestrator.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Code != orchestrator.CodeFailed {
		t.Fatalf("Code = %s, want failed", rep.Code)
	}

	resumable, err := eng.ListResumable(ctx)
	if err != nil || len(resumable) != 1 {
		t.Fatalf("ListResumable = %d, %v", len(resumable), err)
	}

	r.setFail("/review", false)
	rep, err = eng.Resume(ctx, rep.Session.ID, nil, orchestrator.ResumeOptions{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if rep.Code != orchestrator.CodeCompleted || !rep.Resumed {
		t.Errorf("report = %s resumed=%v, want completed resume", rep.Code, rep.Resumed)
	}
	if r.count("make build") != 1 {
		t.Errorf("make build ran %d times, want 1", r.count("make build"))
	}

	if err := os.WriteFile(path, []byte(release+"  - shell: make ship\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err = eng.Resume(ctx, rep.Session.ID, nil, orchestrator.ResumeOptions{})
	if orchestrator.CodeOf(err) != orchestrator.CodeNotResumable {
		t.Errorf("resume of completed session err = %v, want not resumable", err)
	}
}

func TestEngine_ResumeLastWithoutInterrupted(t *testing.T) {
	eng := build(t, newFakeRunner())
	rep, err := eng.ResumeLast(context.Background(), orchestrator.ResumeOptions{})
	if !errors.Is(err, conductor.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if rep.Code.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", rep.Code.ExitCode())
	}
}

func TestEngine_MapReduceAndReplay(t *testing.T) {
	r := newFakeRunner()
	r.setFail("/lint b.go", true)
	base := t.TempDir()
	eng := build(t, r, engine.WithWorktreeManager(&worktree.Dir{Base: base}))
	ctx := context.Background()

	def, err := workflow.Parse([]byte(lint))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	mr, err := workflow.CompileMapReduce(def)
	if err != nil {
		t.Fatalf("CompileMapReduce: %v", err)
	}
	items := []json.RawMessage{json.RawMessage(`"a.go"`), json.RawMessage(`"b.go"`)}

	res, err := eng.MapReduce(ctx, mr, items, coordinator.MapReduceOptions{})
	if err != nil {
		t.Fatalf("MapReduce: %v", err)
	}
	if got := res.Map.Summary(); got != "1 of 2 succeeded, 1 failed" {
		t.Errorf("Summary() = %q", got)
	}

	entries, err := eng.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListDLQ = %d, %v", len(entries), err)
	}

	r.setFail("/lint b.go", false)
	unit, err := eng.ReplayDLQ(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	if !unit.Succeeded() {
		t.Errorf("replayed unit = %s", unit.Code)
	}
	if r.count("/lint b.go") != 2 {
		t.Errorf("/lint b.go ran %d times, want 2", r.count("/lint b.go"))
	}
}

func TestEngine_ThrottleAndLifecycle(t *testing.T) {
	eng := build(t, newFakeRunner(), engine.WithThrottle(throttle.Config{Lane: command.KindClaude, MaxConcurrency: 1}))
	if eng.Throttle() == nil {
		t.Fatal("Throttle() = nil with a configured lane")
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rep, err := eng.Run(ctx, load(t, writeWorkflow(t, release)), orchestrator.RunOptions{})
	if err != nil || rep.Code != orchestrator.CodeCompleted {
		t.Fatalf("Run = %v, %v", rep, err)
	}
	if eng.Throttle().ActiveCount(command.KindClaude) != 0 {
		t.Error("throttle slot leaked")
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
