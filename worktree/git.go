package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Git creates linked worktrees of the repository at Repo with
// `git worktree add`, one branch per worktree.
type Git struct {
	// Repo is the main checkout.
	Repo string
	// Base is where worktrees are created. Defaults to
	// <Repo>/.conductor/worktrees.
	Base string
	// BranchPrefix prefixes each worktree's branch. Defaults to
	// "conductor/".
	BranchPrefix string
	// Ref is the commit new worktrees start from. Defaults to HEAD.
	Ref string
}

var _ Manager = (*Git)(nil)

func (g *Git) base() string {
	if g.Base != "" {
		return g.Base
	}
	return filepath.Join(g.Repo, ".conductor", "worktrees")
}

// Create implements Manager.
func (g *Git) Create(ctx context.Context, name string) (string, error) {
	name = sanitize(name)
	prefix := g.BranchPrefix
	if prefix == "" {
		prefix = "conductor/"
	}
	ref := g.Ref
	if ref == "" {
		ref = "HEAD"
	}
	path := filepath.Join(g.base(), name)
	if _, err := g.git(ctx, "worktree", "add", "-b", prefix+name, path, ref); err != nil {
		return "", fmt.Errorf("conductor/worktree: add %s: %w", name, err)
	}
	return path, nil
}

// Remove implements Manager. The worktree's branch is kept so its commits
// stay reachable.
func (g *Git) Remove(ctx context.Context, path string) error {
	if _, err := g.git(ctx, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("conductor/worktree: remove %s: %w", path, err)
	}
	return nil
}

// List returns the paths of the repository's linked worktrees under Base.
func (g *Git) List(ctx context.Context) ([]string, error) {
	out, err := g.git(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("conductor/worktree: list: %w", err)
	}
	base := filepath.Clean(g.base()) + string(filepath.Separator)
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		p, ok := strings.CutPrefix(line, "worktree ")
		if ok && strings.HasPrefix(filepath.Clean(p)+string(filepath.Separator), base) {
			paths = append(paths, filepath.Clean(p))
		}
	}
	return paths, nil
}

func (g *Git) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Repo
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}
