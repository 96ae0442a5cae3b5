package command

import "context"

// Shell runs commands through bash -c.
type Shell struct {
	// Bash is the shell binary. Empty means "bash" from PATH.
	Bash string
	// Patterns classify failure output before the keyword table.
	Patterns []Pattern
}

// NewShell creates a Shell runner.
func NewShell(patterns ...Pattern) *Shell { return &Shell{Patterns: patterns} }

// Run executes req.Command in req.WorkDir.
func (s *Shell) Run(ctx context.Context, req *Request) (*Result, error) {
	bash := s.Bash
	if bash == "" {
		bash = "bash"
	}
	return execute(ctx, req, s.Patterns, bash, "-c", req.Command)
}
