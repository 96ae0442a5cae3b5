package retry

import (
	"fmt"
	"time"

	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/command"
)

// Reason explains why the engine gave up.
type Reason string

// Give-up reasons.
const (
	ReasonUnretryable    Reason = "unretryable"
	ReasonExhausted      Reason = "exhausted"
	ReasonBudgetExceeded Reason = "budget_exceeded"
	ReasonCircuitOpen    Reason = "circuit_open"
)

// Failure is one failed attempt as seen by the engine.
type Failure struct {
	Class   command.Class
	Message string
}

// Decision is either Retry after Delay or GiveUp with Reason.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason Reason
}

// RetryAfter builds a Retry decision.
func RetryAfter(d time.Duration) Decision { return Decision{Retry: true, Delay: d} }

// GiveUp builds a GiveUp decision.
func GiveUp(r Reason) Decision { return Decision{Reason: r} }

// String implements fmt.Stringer.
func (d Decision) String() string {
	if d.Retry {
		return fmt.Sprintf("retry after %s", d.Delay)
	}
	return fmt.Sprintf("give up (%s)", d.Reason)
}

// Engine applies retry policies. The zero value uses a random jitter
// source.
type Engine struct {
	source backoff.Source
}

// NewEngine creates an Engine drawing jitter from src. A nil src uses
// backoff.NewRandSource.
func NewEngine(src backoff.Source) *Engine {
	if src == nil {
		src = backoff.NewRandSource()
	}
	return &Engine{source: src}
}

// Decide returns the decision for a failed attempt. attempt is the number
// of attempts already made (1 after the first failure) and elapsed is the
// retry wait already spent on this step.
func (e *Engine) Decide(f Failure, p *Policy, attempt int, elapsed time.Duration) Decision {
	if p == nil {
		p = DefaultPolicy()
	}
	if !p.Retries(f.Class) {
		return GiveUp(ReasonUnretryable)
	}
	if attempt >= p.Attempts {
		return GiveUp(ReasonExhausted)
	}

	strategy, err := p.Strategy()
	if err != nil {
		return GiveUp(ReasonUnretryable)
	}
	delay := strategy.Delay(attempt)
	if p.Jitter {
		factor := p.JitterFactor
		if factor == 0 {
			factor = backoff.DefaultJitterFactor
		}
		delay = backoff.NewJitter(factor, e.src()).Apply(delay, p.MaxDelay)
	}

	if p.Budget > 0 && elapsed+delay > p.Budget {
		return GiveUp(ReasonBudgetExceeded)
	}
	return RetryAfter(delay)
}

func (e *Engine) src() backoff.Source {
	if e == nil || e.source == nil {
		return backoff.NewRandSource()
	}
	return e.source
}
