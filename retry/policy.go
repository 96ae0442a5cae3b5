// Package retry decides whether a failed step attempt is retried and how
// long to wait first. The Engine is stateless: the attempt count and the
// retry time already spent are threaded in by the caller on every call.
package retry

import (
	"fmt"
	"slices"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/command"
)

// Action is what a step does once its retry policy gives up.
type Action string

// Failure actions.
const (
	// ActionStop fails the session. This is the default.
	ActionStop Action = "stop"
	// ActionContinue records the step as failed and moves on.
	ActionContinue Action = "continue"
	// ActionFallback runs Policy.Fallback once; its success completes the
	// step.
	ActionFallback Action = "fallback"
)

// Policy is a step's effective retry policy. Workflow-level defaults are
// copied into each step's Policy at plan time, so every step owns its
// Policy outright.
type Policy struct {
	Attempts     int             `json:"attempts" mapstructure:"attempts" default:"3" validate:"gte=1"`
	Backoff      backoff.Kind    `json:"backoff" mapstructure:"backoff" default:"exponential"`
	InitialDelay time.Duration   `json:"initial_delay" mapstructure:"initial_delay" default:"1s" validate:"gte=0"`
	MaxDelay     time.Duration   `json:"max_delay" mapstructure:"max_delay" default:"30s" validate:"gte=0"`
	Delays       []time.Duration `json:"delays,omitempty" mapstructure:"delays"`
	Jitter       bool            `json:"jitter" mapstructure:"jitter"`
	JitterFactor float64         `json:"jitter_factor" mapstructure:"jitter_factor" default:"0.3" validate:"gte=0,lte=2"`
	// Budget caps the cumulative wait across all retries of one step.
	// Zero means no budget.
	Budget time.Duration `json:"retry_budget,omitempty" mapstructure:"retry_budget" validate:"gte=0"`
	// RetryOn restricts retries to these failure classes. Empty means any
	// classified failure is retried.
	RetryOn   []command.Class `json:"retry_on,omitempty" mapstructure:"retry_on"`
	OnFailure Action          `json:"on_failure" mapstructure:"on_failure" default:"stop"`
	Fallback  string          `json:"fallback,omitempty" mapstructure:"fallback"`
}

// DefaultPolicy returns the policy used when neither the step nor the
// workflow declares one.
func DefaultPolicy() *Policy {
	return &Policy{
		Attempts:     3,
		Backoff:      backoff.KindExponential,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: backoff.DefaultJitterFactor,
		OnFailure:    ActionStop,
	}
}

// Validate checks the policy for values the engine cannot act on.
func (p *Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("%w: attempts must be at least 1, got %d", conductor.ErrInvalidPolicy, p.Attempts)
	}
	if p.Backoff != "" && !p.Backoff.Valid() {
		return fmt.Errorf("%w: unknown backoff %q", conductor.ErrInvalidPolicy, p.Backoff)
	}
	if p.Backoff == backoff.KindCustom && len(p.Delays) == 0 {
		return fmt.Errorf("%w: custom backoff needs delays", conductor.ErrInvalidPolicy)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 || p.Budget < 0 {
		return fmt.Errorf("%w: durations must not be negative", conductor.ErrInvalidPolicy)
	}
	for _, c := range p.RetryOn {
		if !c.Valid() || c == command.ClassSuccess {
			return fmt.Errorf("%w: retry_on has invalid class %q", conductor.ErrInvalidPolicy, c)
		}
	}
	switch p.OnFailure {
	case "", ActionStop, ActionContinue:
	case ActionFallback:
		if p.Fallback == "" {
			return fmt.Errorf("%w: on_failure fallback needs a fallback command", conductor.ErrInvalidPolicy)
		}
	default:
		return fmt.Errorf("%w: unknown on_failure %q", conductor.ErrInvalidPolicy, p.OnFailure)
	}
	return nil
}

// Clone returns a deep copy of p.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Delays = slices.Clone(p.Delays)
	cp.RetryOn = slices.Clone(p.RetryOn)
	return &cp
}

// Strategy returns the backoff strategy for the policy.
func (p *Policy) Strategy() (backoff.Strategy, error) {
	return backoff.New(p.Backoff, p.InitialDelay, p.MaxDelay, p.Delays)
}

// Retries reports whether failures of class c are eligible for retry.
func (p *Policy) Retries(c command.Class) bool {
	if len(p.RetryOn) == 0 {
		return true
	}
	return slices.Contains(p.RetryOn, c)
}

// FailureAction returns the give-up action, defaulting to ActionStop.
func (p *Policy) FailureAction() Action {
	if p.OnFailure == "" {
		return ActionStop
	}
	return p.OnFailure
}
