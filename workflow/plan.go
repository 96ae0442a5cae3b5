package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/retry"
	"github.com/xraph/conductor/session"
)

// PlannedStep is a step with everything resolved for execution.
type PlannedStep struct {
	Index   int
	Name    string
	Kind    command.Kind
	Command string
	Capture string
	When    *Condition
	Timeout time.Duration
	// Policy is owned by this step; mutating it affects no other step.
	Policy *retry.Policy
}

// Plan is an immutable, ordered list of steps.
type Plan struct {
	Name  string
	Path  string
	Hash  string
	Env   map[string]string
	Steps []PlannedStep
}

// Ref returns the reference stored in sessions running this plan.
func (p *Plan) Ref() session.WorkflowRef {
	return session.WorkflowRef{Name: p.Name, Path: p.Path, Hash: p.Hash, TotalSteps: len(p.Steps)}
}

// Compile builds the sequential plan of def.
func Compile(def *Definition) (*Plan, error) {
	return compileSteps(def.Name, def, def.Steps)
}

func compileSteps(name string, def *Definition, steps []Step) (*Plan, error) {
	p := &Plan{
		Name:  name,
		Path:  def.Path,
		Env:   maps.Clone(def.Env),
		Steps: make([]PlannedStep, 0, len(steps)),
	}
	for i, st := range steps {
		ps, err := planStep(i, st, def.Retry)
		if err != nil {
			return nil, err
		}
		p.Steps = append(p.Steps, ps)
	}
	hash, err := hashPlan(p)
	if err != nil {
		return nil, err
	}
	p.Hash = hash
	return p, nil
}

func planStep(index int, st Step, workflowPolicy *retry.Policy) (PlannedStep, error) {
	ps := PlannedStep{
		Index:   index,
		Name:    st.Name,
		Capture: st.Capture,
		Timeout: st.Timeout,
	}
	if st.Claude != "" {
		ps.Kind, ps.Command = command.KindClaude, st.Claude
	} else {
		ps.Kind, ps.Command = command.KindShell, st.Shell
	}

	src := workflowPolicy
	if st.Retry != nil {
		src = st.Retry
	}
	if src == nil {
		src = retry.DefaultPolicy()
	}
	ps.Policy = src.Clone()
	if st.OnFailure != "" {
		ps.Policy.OnFailure = st.OnFailure
	}
	if st.Fallback != "" {
		ps.Policy.Fallback = st.Fallback
	}
	if err := ps.Policy.Validate(); err != nil {
		return ps, fmt.Errorf("step %s: %w", st.Name, err)
	}

	if st.When != "" {
		cond, err := CompileCondition(st.When)
		if err != nil {
			return ps, fmt.Errorf("step %s: %w", st.Name, err)
		}
		ps.When = cond
	}
	return ps, nil
}

// hashPlan fingerprints every field that influences execution.
func hashPlan(p *Plan) (string, error) {
	type hashedStep struct {
		Name    string        `json:"name"`
		Kind    command.Kind  `json:"kind"`
		Command string        `json:"command"`
		Capture string        `json:"capture,omitempty"`
		When    string        `json:"when,omitempty"`
		Timeout time.Duration `json:"timeout,omitempty"`
		Policy  *retry.Policy `json:"policy"`
	}
	steps := make([]hashedStep, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = hashedStep{
			Name: s.Name, Kind: s.Kind, Command: s.Command, Capture: s.Capture,
			Timeout: s.Timeout, Policy: s.Policy,
		}
		if s.When != nil {
			steps[i].When = s.When.String()
		}
	}
	// encoding/json sorts map keys, so Env hashes deterministically.
	data, err := json.Marshal(struct {
		Name  string            `json:"name"`
		Env   map[string]string `json:"env,omitempty"`
		Steps []hashedStep      `json:"steps"`
	}{p.Name, p.Env, steps})
	if err != nil {
		return "", fmt.Errorf("conductor/workflow: hash plan: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MapReducePlan holds the three phases of a MapReduce workflow.
type MapReducePlan struct {
	Name           string
	Hash           string
	Input          string
	JSONPath       string
	MaxParallel    int
	AbortOnFailure bool
	// Select is nil when every extracted item runs.
	Select *Selection
	// Setup and Reduce are nil when the phase is not declared.
	Setup  *Plan
	Agent  *Plan
	Reduce *Plan
}

// CompileMapReduce builds the phase plans of def.
func CompileMapReduce(def *Definition) (*MapReducePlan, error) {
	mr := def.MapReduce
	if mr == nil {
		return nil, fmt.Errorf("conductor/workflow: %s has no mapreduce block", def.Name)
	}
	out := &MapReducePlan{
		Name:           def.Name,
		Input:          mr.Input,
		JSONPath:       mr.JSONPath,
		MaxParallel:    mr.MaxParallel,
		AbortOnFailure: mr.AbortOnFailure,
	}
	var err error
	if out.Select, err = CompileSelection(mr); err != nil {
		return nil, err
	}
	if len(mr.Setup) > 0 {
		if out.Setup, err = compileSteps(def.Name+"/setup", def, mr.Setup); err != nil {
			return nil, err
		}
	}
	if out.Agent, err = compileSteps(def.Name+"/agent", def, mr.Agent); err != nil {
		return nil, err
	}
	if len(mr.Reduce) > 0 {
		if out.Reduce, err = compileSteps(def.Name+"/reduce", def, mr.Reduce); err != nil {
			return nil, err
		}
	}

	h := sha256.New()
	for _, p := range []*Plan{out.Setup, out.Agent, out.Reduce} {
		if p != nil {
			h.Write([]byte(p.Hash))
		}
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "%s\x00%s", mr.Input, mr.JSONPath)
	out.Hash = hex.EncodeToString(h.Sum(nil))
	return out, nil
}
