// Package worktree creates and removes the isolated working copies the
// coordinator hands to sessions. A Manager only knows how to make and
// delete a copy; lifecycle, reuse and cleanup policy belong to the
// coordinator's pool.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Manager creates and removes working copies.
type Manager interface {
	// Create makes a new working copy named name and returns its path.
	Create(ctx context.Context, name string) (string, error)
	// Remove deletes the working copy at path.
	Remove(ctx context.Context, path string) error
}

var unsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitize makes name usable as a directory and branch component.
func sanitize(name string) string {
	s := unsafe.ReplaceAllString(name, "-")
	if s == "" || s == "." || s == ".." {
		s = "wt"
	}
	return s
}

// Dir creates plain directories under Base. It suits workflows that do
// not need a version-controlled copy.
type Dir struct {
	Base string
}

var _ Manager = (*Dir)(nil)

// Create implements Manager.
func (d *Dir) Create(_ context.Context, name string) (string, error) {
	if err := os.MkdirAll(d.Base, 0o755); err != nil {
		return "", fmt.Errorf("conductor/worktree: create base: %w", err)
	}
	path, err := os.MkdirTemp(d.Base, sanitize(name)+"-")
	if err != nil {
		return "", fmt.Errorf("conductor/worktree: create: %w", err)
	}
	return path, nil
}

// Remove implements Manager. Only paths under Base are removed.
func (d *Dir) Remove(_ context.Context, path string) error {
	rel, err := filepath.Rel(d.Base, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("conductor/worktree: refusing to remove %s outside %s", path, d.Base)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("conductor/worktree: remove: %w", err)
	}
	return nil
}
