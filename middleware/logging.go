package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conductor/command"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *command.Request, next Handler) (*command.Result, error) {
		logger.Debug("attempt started",
			slog.String("session_id", req.SessionID.String()),
			slog.String("step", req.Step),
			slog.Int("attempt", req.Attempt),
			slog.String("kind", string(req.Kind)),
		)

		start := time.Now()
		res, err := next(ctx, req)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			logger.Error("attempt errored",
				slog.String("session_id", req.SessionID.String()),
				slog.String("step", req.Step),
				slog.Int("attempt", req.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		case !res.Succeeded():
			logger.Warn("attempt failed",
				slog.String("session_id", req.SessionID.String()),
				slog.String("step", req.Step),
				slog.Int("attempt", req.Attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("class", outcome(res, nil)),
			)
		default:
			logger.Info("attempt succeeded",
				slog.String("session_id", req.SessionID.String()),
				slog.String("step", req.Step),
				slog.Int("attempt", req.Attempt),
				slog.Duration("elapsed", elapsed),
			)
		}

		return res, err
	}
}
