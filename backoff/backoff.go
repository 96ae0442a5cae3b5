// Package backoff provides the delay strategies used between step retry
// attempts. Strategies are stateless and safe for concurrent use; the only
// source of nondeterminism is Jitter, whose randomness comes from an
// injectable Source.
package backoff

import (
	"fmt"
	"math"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Kind names a backoff strategy in workflow definitions.
type Kind string

// Supported backoff kinds.
const (
	KindFixed       Kind = "fixed"
	KindLinear      Kind = "linear"
	KindExponential Kind = "exponential"
	KindFibonacci   Kind = "fibonacci"
	KindCustom      Kind = "custom"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFixed, KindLinear, KindExponential, KindFibonacci, KindCustom:
		return true
	}
	return false
}

// New builds the strategy for kind. delays is only used by KindCustom.
func New(kind Kind, initial, maxDelay time.Duration, delays []time.Duration) (Strategy, error) {
	switch kind {
	case KindFixed:
		return NewFixed(initial), nil
	case KindLinear:
		return NewLinear(initial, maxDelay), nil
	case KindExponential, "":
		return NewExponential(initial, maxDelay), nil
	case KindFibonacci:
		return NewFibonacci(initial, maxDelay), nil
	case KindCustom:
		if len(delays) == 0 {
			return nil, fmt.Errorf("backoff: custom kind needs at least one delay")
		}
		return NewCustom(delays...), nil
	default:
		return nil, fmt.Errorf("backoff: unknown kind %q", kind)
	}
}

// scale returns base*factor capped at maxDelay. A non-positive maxDelay
// means uncapped, in which case the result saturates at math.MaxInt64.
func scale(base time.Duration, factor float64, maxDelay time.Duration) time.Duration {
	f := float64(base) * factor
	if maxDelay > 0 && f >= float64(maxDelay) {
		return maxDelay
	}
	if f >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	return scale(l.Initial, float64(max(attempt, 1)), l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return scale(e.Initial, math.Pow(2, float64(max(attempt, 1)-1)), e.Max)
}

// ──────────────────────────────────────────────────
// Fibonacci
// ──────────────────────────────────────────────────

// Fibonacci grows the delay along the Fibonacci sequence.
// Delay = min(Initial * fib(attempt), Max) with fib(1) = fib(2) = 1.
type Fibonacci struct {
	Initial time.Duration
	Max     time.Duration
}

// NewFibonacci creates a Fibonacci backoff strategy.
func NewFibonacci(initial, maxDelay time.Duration) *Fibonacci {
	return &Fibonacci{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * fib(attempt), capped at Max.
func (f *Fibonacci) Delay(attempt int) time.Duration {
	return scale(f.Initial, fib(max(attempt, 1)), f.Max)
}

// fib returns the nth Fibonacci number as a float so large attempts
// saturate instead of wrapping.
func fib(n int) float64 {
	a, b := 0.0, 1.0
	for i := 1; i < n; i++ {
		a, b = b, a+b
		if math.IsInf(b, 1) {
			break
		}
	}
	return b
}

// ──────────────────────────────────────────────────
// Custom
// ──────────────────────────────────────────────────

// Custom walks an explicit delay list. Attempts past the end reuse the
// last entry.
type Custom struct {
	Delays []time.Duration
}

// NewCustom creates a custom backoff strategy.
func NewCustom(delays ...time.Duration) *Custom {
	return &Custom{Delays: append([]time.Duration(nil), delays...)}
}

// Delay returns Delays[attempt-1], or the last entry once exhausted.
func (c *Custom) Delay(attempt int) time.Duration {
	if len(c.Delays) == 0 {
		return 0
	}
	i := min(max(attempt, 1), len(c.Delays)) - 1
	return c.Delays[i]
}
