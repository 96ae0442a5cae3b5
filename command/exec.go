package command

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// execute runs name with args in req.WorkDir and classifies the outcome.
func execute(ctx context.Context, req *Request, patterns []Pattern, name string, args ...string) (*Result, error) {
	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = os.Environ()
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	start := time.Now()
	out, err := cmd.CombinedOutput()
	res := &Result{Output: string(out), Duration: time.Since(start)}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err == nil {
		res.Class = ClassSuccess
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.Class = ClassTimeout
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Class = Classify(res.Output, patterns...)
	default:
		return nil, err
	}
	return res, nil
}
