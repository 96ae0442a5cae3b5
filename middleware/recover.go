package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/conductor/command"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *command.Request, next Handler) (res *command.Result, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("runner panicked",
					slog.String("session_id", req.SessionID.String()),
					slog.String("step", req.Step),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				res = nil
				retErr = fmt.Errorf("panic in step %s: %v", req.Step, r)
			}
		}()
		return next(ctx, req)
	}
}
