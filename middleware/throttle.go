package middleware

import (
	"context"

	"github.com/xraph/conductor/command"
	"github.com/xraph/conductor/throttle"
)

// Throttle returns middleware that holds a slot in the request's lane for
// the duration of the attempt. A cancelled wait returns the context error
// without invoking the runner.
func Throttle(m *throttle.Manager) Middleware {
	return func(ctx context.Context, req *command.Request, next Handler) (*command.Result, error) {
		release, err := m.Acquire(ctx, req.Kind)
		if err != nil {
			return nil, err
		}
		defer release()
		return next(ctx, req)
	}
}
