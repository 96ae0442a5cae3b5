package conductor

import "time"

// Config holds configuration for a Conductor.
type Config struct {
	// MaxParallel is the maximum number of worktrees, and therefore
	// sessions, active at once in the coordinator.
	MaxParallel int

	// IdleTimeout reclaims a worktree that has gone unused this long.
	IdleTimeout time.Duration

	// MaxAge reclaims a worktree this long after creation regardless of
	// activity. Active worktrees are never reclaimed.
	MaxAge time.Duration

	// CleanupOnComplete reclaims a worktree as soon as its session
	// completes instead of leaving it idle for reuse.
	CleanupOnComplete bool

	// KeepFailed keeps the worktrees of failed or interrupted sessions
	// until the age policy reclaims them, so they can be inspected or
	// resumed in place.
	KeepFailed bool

	// ReapInterval is how often the worktree reaper checks the cleanup
	// policy.
	ReapInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// StateDir is the root directory for file checkpoints and worktrees.
	StateDir string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallel:       10,
		IdleTimeout:       300 * time.Second,
		MaxAge:            3600 * time.Second,
		CleanupOnComplete: true,
		KeepFailed:        true,
		ReapInterval:      30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		StateDir:          ".conductor",
	}
}
