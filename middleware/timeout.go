package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/conductor/command"
)

// Timeout returns middleware that enforces a per-attempt deadline.
// If the request has a non-zero Timeout, a context.WithTimeout wraps the
// handler call. A runner that returns because the deadline passed while
// the parent context is still live gets a ClassTimeout result, so the
// retry policy sees an ordinary timeout instead of a cancellation.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *command.Request, next Handler) (*command.Result, error) {
		if req.Timeout <= 0 {
			return next(ctx, req)
		}
		logger.Debug("attempt timeout set",
			slog.String("session_id", req.SessionID.String()),
			slog.String("step", req.Step),
			slog.Duration("timeout", req.Timeout),
		)
		attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
		defer cancel()

		res, err := next(attemptCtx, req)
		if ctx.Err() == nil && attemptCtx.Err() != nil && (err != nil || !res.Succeeded()) {
			out := ""
			if res != nil {
				out = res.Output
			}
			return &command.Result{Class: command.ClassTimeout, ExitCode: -1, Output: out}, nil
		}
		return res, err
	}
}
