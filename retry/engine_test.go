package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/retry"
)

func fail(c command.Class) retry.Failure { return retry.Failure{Class: c, Message: string(c)} }

func TestDecide_ExponentialSequence(t *testing.T) {
	e := retry.NewEngine(nil)
	p := &retry.Policy{
		Attempts:     10,
		Backoff:      backoff.KindExponential,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
	}

	want := []time.Duration{2, 4, 8, 16, 30, 30}
	for i, w := range want {
		d := e.Decide(fail(command.ClassNetwork), p, i+1, 0)
		if !d.Retry {
			t.Fatalf("attempt %d: %v, want retry", i+1, d)
		}
		if d.Delay != w*time.Second {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, d.Delay, w*time.Second)
		}
	}
}

func TestDecide_FibonacciSequence(t *testing.T) {
	e := retry.NewEngine(nil)
	p := &retry.Policy{Attempts: 10, Backoff: backoff.KindFibonacci, InitialDelay: time.Second, MaxDelay: time.Minute}

	want := []time.Duration{1, 1, 2, 3, 5, 8}
	for i, w := range want {
		if d := e.Decide(fail(command.ClassTimeout), p, i+1, 0); d.Delay != w*time.Second {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, d.Delay, w*time.Second)
		}
	}
}

func TestDecide_Exhausted(t *testing.T) {
	e := retry.NewEngine(nil)
	p := &retry.Policy{Attempts: 3, Backoff: backoff.KindFixed, InitialDelay: time.Second}

	if d := e.Decide(fail(command.ClassNetwork), p, 2, 0); !d.Retry {
		t.Fatalf("attempt 2: %v, want retry", d)
	}
	d := e.Decide(fail(command.ClassNetwork), p, 3, 0)
	if d.Retry || d.Reason != retry.ReasonExhausted {
		t.Errorf("attempt 3: %v, want give up (exhausted)", d)
	}
}

func TestDecide_RetryOnFilter(t *testing.T) {
	e := retry.NewEngine(nil)
	p := &retry.Policy{
		Attempts:     5,
		Backoff:      backoff.KindFixed,
		InitialDelay: time.Second,
		RetryOn:      []command.Class{command.ClassNetwork, command.ClassTimeout},
	}

	for _, c := range []command.Class{command.ClassServerError, command.ClassUnknown, command.ClassRateLimit} {
		d := e.Decide(fail(c), p, 1, 0)
		if d.Retry || d.Reason != retry.ReasonUnretryable {
			t.Errorf("%s: %v, want give up (unretryable)", c, d)
		}
	}
	if d := e.Decide(fail(command.ClassTimeout), p, 1, 0); !d.Retry {
		t.Errorf("timeout: %v, want retry", d)
	}
}

func TestDecide_NoFilterRetriesUnknown(t *testing.T) {
	e := retry.NewEngine(nil)
	p := &retry.Policy{Attempts: 2, Backoff: backoff.KindFixed, InitialDelay: time.Second}
	if d := e.Decide(fail(command.ClassUnknown), p, 1, 0); !d.Retry {
		t.Errorf("unknown without retry_on: %v, want retry", d)
	}
}

func TestDecide_Budget(t *testing.T) {
	e := retry.NewEngine(nil)
	p := &retry.Policy{
		Attempts:     100,
		Backoff:      backoff.KindFixed,
		InitialDelay: time.Minute,
		Budget:       5 * time.Minute,
	}

	elapsed := time.Duration(0)
	attempt := 1
	for ; attempt < 100; attempt++ {
		d := e.Decide(fail(command.ClassNetwork), p, attempt, elapsed)
		if !d.Retry {
			if d.Reason != retry.ReasonBudgetExceeded {
				t.Fatalf("attempt %d: %v, want budget_exceeded", attempt, d)
			}
			break
		}
		elapsed += d.Delay
	}
	if elapsed != 5*time.Minute {
		t.Errorf("elapsed = %v, want 5m", elapsed)
	}
	if attempt != 6 {
		t.Errorf("gave up on attempt %d, want 6", attempt)
	}
}

func TestDecide_BudgetCountsNextDelay(t *testing.T) {
	e := retry.NewEngine(nil)
	p := &retry.Policy{Attempts: 10, Backoff: backoff.KindFixed, InitialDelay: 2 * time.Minute, Budget: 5 * time.Minute}

	// 4m spent, next 2m would reach 6m.
	d := e.Decide(fail(command.ClassNetwork), p, 3, 4*time.Minute)
	if d.Retry || d.Reason != retry.ReasonBudgetExceeded {
		t.Errorf("%v, want give up (budget_exceeded)", d)
	}
}

func TestDecide_JitterDeterministic(t *testing.T) {
	e := retry.NewEngine(backoff.NewSequenceSource(0, 1))
	p := &retry.Policy{
		Attempts:     5,
		Backoff:      backoff.KindFixed,
		InitialDelay: 10 * time.Second,
		Jitter:       true,
		JitterFactor: 0.2,
	}

	if d := e.Decide(fail(command.ClassNetwork), p, 1, 0); d.Delay != 9*time.Second {
		t.Errorf("first delay = %v, want 9s", d.Delay)
	}
	if d := e.Decide(fail(command.ClassNetwork), p, 2, 0); d.Delay != 11*time.Second {
		t.Errorf("second delay = %v, want 11s", d.Delay)
	}
}

func TestDecide_JitterRespectsMax(t *testing.T) {
	e := retry.NewEngine(backoff.NewSequenceSource(1))
	p := &retry.Policy{
		Attempts:     5,
		Backoff:      backoff.KindExponential,
		InitialDelay: 10 * time.Second,
		MaxDelay:     10 * time.Second,
		Jitter:       true,
		JitterFactor: 0.5,
	}
	if d := e.Decide(fail(command.ClassNetwork), p, 3, 0); d.Delay != 10*time.Second {
		t.Errorf("delay = %v, want capped 10s", d.Delay)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name string
		p    retry.Policy
		ok   bool
	}{
		{"default", *retry.DefaultPolicy(), true},
		{"zero attempts", retry.Policy{Attempts: 0}, false},
		{"bad backoff", retry.Policy{Attempts: 1, Backoff: "cubic"}, false},
		{"custom without delays", retry.Policy{Attempts: 1, Backoff: backoff.KindCustom}, false},
		{"success in retry_on", retry.Policy{Attempts: 1, RetryOn: []command.Class{command.ClassSuccess}}, false},
		{"fallback without command", retry.Policy{Attempts: 1, OnFailure: retry.ActionFallback}, false},
		{"fallback with command", retry.Policy{Attempts: 1, OnFailure: retry.ActionFallback, Fallback: "make clean"}, true},
		{"negative budget", retry.Policy{Attempts: 1, Budget: -time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, conductor.ErrInvalidPolicy) {
				t.Fatalf("Validate = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestPolicy_CloneIsDeep(t *testing.T) {
	p := &retry.Policy{Attempts: 2, RetryOn: []command.Class{command.ClassNetwork}, Delays: []time.Duration{time.Second}}
	cp := p.Clone()
	cp.RetryOn[0] = command.ClassTimeout
	cp.Delays[0] = time.Hour
	if p.RetryOn[0] != command.ClassNetwork || p.Delays[0] != time.Second {
		t.Error("Clone shares slices with the original")
	}
}
