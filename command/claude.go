package command

import "context"

// Claude runs prompts through the claude CLI in non-interactive mode.
type Claude struct {
	// Binary is the CLI path. Empty means "claude" from PATH.
	Binary string
	// Args are extra flags placed before the prompt.
	Args     []string
	Patterns []Pattern
}

// NewClaude creates a Claude runner.
func NewClaude(patterns ...Pattern) *Claude { return &Claude{Patterns: patterns} }

// Run sends req.Command as the prompt.
func (c *Claude) Run(ctx context.Context, req *Request) (*Result, error) {
	bin := c.Binary
	if bin == "" {
		bin = "claude"
	}
	args := append([]string{"--print", "--dangerously-skip-permissions"}, c.Args...)
	args = append(args, req.Command)
	return execute(ctx, req, c.Patterns, bin, args...)
}
