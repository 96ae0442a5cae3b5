// Package command is the boundary between the step executor and the
// external process that performs a step's work. The executor hands over a
// fully resolved command string and a working directory; the collaborator
// hands back a classified Result and the captured output. Nothing in this
// package interprets output beyond locating a failure signal.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/conductor/id"
)

// Kind selects the collaborator that runs a step.
type Kind string

// Supported collaborators.
const (
	KindShell  Kind = "shell"
	KindClaude Kind = "claude"
)

// Request is one invocation of a collaborator.
type Request struct {
	Kind    Kind
	Command string
	WorkDir string
	Env     map[string]string
	Timeout time.Duration

	// Identity of the attempt, for logging and tracing only.
	SessionID id.SessionID
	Step      string
	Attempt   int
}

// Result is the classified outcome of one invocation.
type Result struct {
	Class    Class
	ExitCode int
	Output   string
	Duration time.Duration
}

// Succeeded reports whether the invocation succeeded.
func (r *Result) Succeeded() bool { return r != nil && r.Class == ClassSuccess }

// Runner invokes a collaborator. A non-nil error means the collaborator
// could not be started at all; the executor treats that as an unknown
// failure. If ctx is cancelled, Run returns ctx.Err().
type Runner interface {
	Run(ctx context.Context, req *Request) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req *Request) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req *Request) (*Result, error) { return f(ctx, req) }

// Mux routes requests to a runner by Kind.
type Mux struct {
	runners map[Kind]Runner
}

// NewMux creates an empty Mux.
func NewMux() *Mux { return &Mux{runners: make(map[Kind]Runner)} }

// Handle registers r for kind, replacing any previous runner.
func (m *Mux) Handle(kind Kind, r Runner) *Mux {
	m.runners[kind] = r
	return m
}

// Run dispatches req to the runner registered for req.Kind.
func (m *Mux) Run(ctx context.Context, req *Request) (*Result, error) {
	r, ok := m.runners[req.Kind]
	if !ok {
		return nil, fmt.Errorf("command: no runner for kind %q", req.Kind)
	}
	return r.Run(ctx, req)
}
