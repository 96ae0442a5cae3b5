// Package ext defines the extension system for conductor.
// Extensions are notified of lifecycle events (session started, step
// retrying, worktree reclaimed, etc.) and can react to them with logging,
// metrics or notifications.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/session"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Session lifecycle hooks
// ──────────────────────────────────────────────────

// SessionStarted is called after a fresh session's first checkpoint.
type SessionStarted interface {
	OnSessionStarted(ctx context.Context, s *session.Session) error
}

// SessionResumed is called after an Interrupted or Failed session moves
// back to InProgress.
type SessionResumed interface {
	OnSessionResumed(ctx context.Context, s *session.Session) error
}

// SessionCompleted is called after the final step's checkpoint.
type SessionCompleted interface {
	OnSessionCompleted(ctx context.Context, s *session.Session, elapsed time.Duration) error
}

// SessionFailed is called when a step gives up and the session is marked
// Failed.
type SessionFailed interface {
	OnSessionFailed(ctx context.Context, s *session.Session, err error) error
}

// SessionInterrupted is called when cancellation stops a session.
type SessionInterrupted interface {
	OnSessionInterrupted(ctx context.Context, s *session.Session) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepCompleted is called after a step succeeds.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, sessionID id.SessionID, step string, elapsed time.Duration) error
}

// StepFailed is called when a step gives up.
type StepFailed interface {
	OnStepFailed(ctx context.Context, sessionID id.SessionID, step string, err error) error
}

// StepRetrying is called before the executor waits out a retry delay.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, sessionID id.SessionID, step string, attempt int, delay time.Duration) error
}

// ──────────────────────────────────────────────────
// Coordinator hooks
// ──────────────────────────────────────────────────

// UnitCompleted is called when a fan-out unit's session completes.
type UnitCompleted interface {
	OnUnitCompleted(ctx context.Context, unitKey string, sessionID id.SessionID) error
}

// UnitFailed is called when a fan-out unit ends without completing.
type UnitFailed interface {
	OnUnitFailed(ctx context.Context, unitKey string, sessionID id.SessionID, err error) error
}

// UnitDLQ is called when a failed unit is moved to the dead letter queue.
type UnitDLQ interface {
	OnUnitDLQ(ctx context.Context, entry *dlq.Entry) error
}

// WorktreeAllocated is called when the pool leases a worktree.
type WorktreeAllocated interface {
	OnWorktreeAllocated(ctx context.Context, path string, sessionID id.SessionID, reused bool) error
}

// WorktreeReclaimed is called after the pool deletes a worktree.
type WorktreeReclaimed interface {
	OnWorktreeReclaimed(ctx context.Context, path string, reason string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
