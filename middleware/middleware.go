// Package middleware provides composable middleware for collaborator
// invocations. Middleware wraps runner calls synchronously and can modify
// execution (recover from panics, throttle, log, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/xraph/conductor/command"
)

// Handler is the terminal function that invokes the collaborator.
type Handler func(ctx context.Context, req *command.Request) (*command.Result, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the request being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, req *command.Request, next Handler) (*command.Result, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, throttle) executes as:
//
//	logging → recover → throttle → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, req *command.Request, next Handler) (*command.Result, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context, req *command.Request) (*command.Result, error) {
				return mw(ctx, req, prev)
			}
		}
		return h(ctx, req)
	}
}

// Wrap returns a Runner that sends every request through mws before r.
func Wrap(r command.Runner, mws ...Middleware) command.Runner {
	if len(mws) == 0 {
		return r
	}
	chain := Chain(mws...)
	return command.RunnerFunc(func(ctx context.Context, req *command.Request) (*command.Result, error) {
		return chain(ctx, req, r.Run)
	})
}

// outcome labels an attempt for logs, spans and metrics.
func outcome(res *command.Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res == nil:
		return string(command.ClassUnknown)
	default:
		return string(res.Class)
	}
}
