package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/throttle"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ok(_ context.Context, _ *command.Request) (*command.Result, error) {
	return &command.Result{Class: command.ClassSuccess}, nil
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, req *command.Request, next middleware.Handler) (*command.Result, error) {
		order = append(order, "mw1-before")
		res, err := next(ctx, req)
		order = append(order, "mw1-after")
		return res, err
	}

	mw2 := func(ctx context.Context, req *command.Request, next middleware.Handler) (*command.Result, error) {
		order = append(order, "mw2-before")
		res, err := next(ctx, req)
		order = append(order, "mw2-after")
		return res, err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context, _ *command.Request) (*command.Result, error) {
		order = append(order, "handler")
		return &command.Result{Class: command.ClassSuccess}, nil
	}

	if _, err := chain(context.Background(), newTestRequest(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context, _ *command.Request) (*command.Result, error) {
		called = true
		return &command.Result{Class: command.ClassSuccess}, nil
	}

	if _, err := chain(context.Background(), newTestRequest(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, req *command.Request, next middleware.Handler) (*command.Result, error) {
		return next(ctx, req)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	_, err := chain(context.Background(), newTestRequest(), func(_ context.Context, _ *command.Request) (*command.Result, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestWrap_RunsChainBeforeRunner(t *testing.T) {
	var seen string
	tag := func(ctx context.Context, req *command.Request, next middleware.Handler) (*command.Result, error) {
		req.Env = map[string]string{"TAGGED": "yes"}
		return next(ctx, req)
	}
	runner := command.RunnerFunc(func(_ context.Context, req *command.Request) (*command.Result, error) {
		seen = req.Env["TAGGED"]
		return &command.Result{Class: command.ClassSuccess}, nil
	})

	if _, err := middleware.Wrap(runner, tag).Run(context.Background(), newTestRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != "yes" {
		t.Errorf("runner saw TAGGED = %q, want %q", seen, "yes")
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(discard())
	req := newTestRequest()

	_, err := mw(context.Background(), req, func(_ context.Context, _ *command.Request) (*command.Result, error) {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in step implement: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(discard())
	res, err := mw(context.Background(), newTestRequest(), ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("result = %+v, want success", res)
	}
}

func TestLogging_PassesResultThrough(t *testing.T) {
	mw := middleware.Logging(discard())
	tests := []struct {
		name string
		res  *command.Result
		err  error
	}{
		{"success", &command.Result{Class: command.ClassSuccess}, nil},
		{"classified failure", &command.Result{Class: command.ClassNetwork, ExitCode: 1}, nil},
		{"runner error", nil, errors.New("fail")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := mw(context.Background(), newTestRequest(), func(context.Context, *command.Request) (*command.Result, error) {
				return tt.res, tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if res != tt.res {
				t.Errorf("result = %+v, want %+v", res, tt.res)
			}
		})
	}
}

func TestTimeout_DeadlineBecomesTimeoutClass(t *testing.T) {
	mw := middleware.Timeout(discard())
	req := newTestRequest()
	req.Timeout = 5 * time.Millisecond

	res, err := mw(context.Background(), req, func(ctx context.Context, _ *command.Request) (*command.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Class != command.ClassTimeout {
		t.Errorf("class = %s, want %s", res.Class, command.ClassTimeout)
	}
}

func TestTimeout_ParentCancellationPropagates(t *testing.T) {
	mw := middleware.Timeout(discard())
	req := newTestRequest()
	req.Timeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mw(ctx, req, func(ctx context.Context, _ *command.Request) (*command.Result, error) {
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTimeout_NoDeadlineWhenUnset(t *testing.T) {
	mw := middleware.Timeout(discard())
	_, err := mw(context.Background(), newTestRequest(), func(ctx context.Context, _ *command.Request) (*command.Result, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline on context")
		}
		return &command.Result{Class: command.ClassSuccess}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestThrottle_HoldsSlotDuringAttempt(t *testing.T) {
	m := throttle.NewManager(throttle.Config{Lane: command.KindClaude, MaxConcurrency: 1})
	mw := middleware.Throttle(m)
	req := newTestRequest()

	_, err := mw(context.Background(), req, func(context.Context, *command.Request) (*command.Result, error) {
		if got := m.ActiveCount(command.KindClaude); got != 1 {
			t.Errorf("ActiveCount during attempt = %d, want 1", got)
		}
		return &command.Result{Class: command.ClassSuccess}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.ActiveCount(command.KindClaude); got != 0 {
		t.Errorf("ActiveCount after attempt = %d, want 0", got)
	}
}

func TestThrottle_CancelledWaitSkipsRunner(t *testing.T) {
	m := throttle.NewManager(throttle.Config{Lane: command.KindClaude, MaxConcurrency: 1})
	release, ok := m.TryAcquire(command.KindClaude)
	if !ok {
		t.Fatal("TryAcquire failed")
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	called := false
	_, err := middleware.Throttle(m)(ctx, newTestRequest(), func(context.Context, *command.Request) (*command.Result, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if called {
		t.Error("runner called despite throttle wait failing")
	}
}
