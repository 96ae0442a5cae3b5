// Package middleware provides composable middleware around collaborator
// invocations.
//
// A [Middleware] wraps one attempt of a step: the executor builds a
// [command.Request] per attempt and sends it through the chain before the
// runner sees it. Middleware are applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → runner
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs step, attempt, duration and failure class
//   - [Recover] converts runner panics to errors
//   - [Timeout] applies the request's per-attempt deadline
//   - [Tracing] wraps each attempt in an OpenTelemetry span
//   - [Metrics] records attempt duration and outcome counters
//   - [Throttle] holds a lane slot from a [throttle.Manager] while the attempt runs
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, req *command.Request, next middleware.Handler) (*command.Result, error) {
//	        // pre-processing
//	        res, err := next(ctx, req)
//	        // post-processing
//	        return res, err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
