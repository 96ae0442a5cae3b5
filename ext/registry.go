package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/session"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.

type sessionStartedEntry struct {
	name string
	hook SessionStarted
}

type sessionResumedEntry struct {
	name string
	hook SessionResumed
}

type sessionCompletedEntry struct {
	name string
	hook SessionCompleted
}

type sessionFailedEntry struct {
	name string
	hook SessionFailed
}

type sessionInterruptedEntry struct {
	name string
	hook SessionInterrupted
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type stepRetryingEntry struct {
	name string
	hook StepRetrying
}

type unitCompletedEntry struct {
	name string
	hook UnitCompleted
}

type unitFailedEntry struct {
	name string
	hook UnitFailed
}

type unitDLQEntry struct {
	name string
	hook UnitDLQ
}

type worktreeAllocatedEntry struct {
	name string
	hook WorktreeAllocated
}

type worktreeReclaimedEntry struct {
	name string
	hook WorktreeReclaimed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook. Register
// all extensions before the engine starts; emits are not synchronized
// with registration.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	sessionStarted     []sessionStartedEntry
	sessionResumed     []sessionResumedEntry
	sessionCompleted   []sessionCompletedEntry
	sessionFailed      []sessionFailedEntry
	sessionInterrupted []sessionInterruptedEntry
	stepCompleted      []stepCompletedEntry
	stepFailed         []stepFailedEntry
	stepRetrying       []stepRetryingEntry
	unitCompleted      []unitCompletedEntry
	unitFailed         []unitFailedEntry
	unitDLQ            []unitDLQEntry
	worktreeAllocated  []worktreeAllocatedEntry
	worktreeReclaimed  []worktreeReclaimedEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(SessionStarted); ok {
		r.sessionStarted = append(r.sessionStarted, sessionStartedEntry{name, h})
	}
	if h, ok := e.(SessionResumed); ok {
		r.sessionResumed = append(r.sessionResumed, sessionResumedEntry{name, h})
	}
	if h, ok := e.(SessionCompleted); ok {
		r.sessionCompleted = append(r.sessionCompleted, sessionCompletedEntry{name, h})
	}
	if h, ok := e.(SessionFailed); ok {
		r.sessionFailed = append(r.sessionFailed, sessionFailedEntry{name, h})
	}
	if h, ok := e.(SessionInterrupted); ok {
		r.sessionInterrupted = append(r.sessionInterrupted, sessionInterruptedEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, stepRetryingEntry{name, h})
	}
	if h, ok := e.(UnitCompleted); ok {
		r.unitCompleted = append(r.unitCompleted, unitCompletedEntry{name, h})
	}
	if h, ok := e.(UnitFailed); ok {
		r.unitFailed = append(r.unitFailed, unitFailedEntry{name, h})
	}
	if h, ok := e.(UnitDLQ); ok {
		r.unitDLQ = append(r.unitDLQ, unitDLQEntry{name, h})
	}
	if h, ok := e.(WorktreeAllocated); ok {
		r.worktreeAllocated = append(r.worktreeAllocated, worktreeAllocatedEntry{name, h})
	}
	if h, ok := e.(WorktreeReclaimed); ok {
		r.worktreeReclaimed = append(r.worktreeReclaimed, worktreeReclaimedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Session event emitters
// ──────────────────────────────────────────────────

// EmitSessionStarted notifies all extensions that implement SessionStarted.
func (r *Registry) EmitSessionStarted(ctx context.Context, s *session.Session) {
	for _, e := range r.sessionStarted {
		if err := e.hook.OnSessionStarted(ctx, s); err != nil {
			r.logHookError("OnSessionStarted", e.name, err)
		}
	}
}

// EmitSessionResumed notifies all extensions that implement SessionResumed.
func (r *Registry) EmitSessionResumed(ctx context.Context, s *session.Session) {
	for _, e := range r.sessionResumed {
		if err := e.hook.OnSessionResumed(ctx, s); err != nil {
			r.logHookError("OnSessionResumed", e.name, err)
		}
	}
}

// EmitSessionCompleted notifies all extensions that implement SessionCompleted.
func (r *Registry) EmitSessionCompleted(ctx context.Context, s *session.Session, elapsed time.Duration) {
	for _, e := range r.sessionCompleted {
		if err := e.hook.OnSessionCompleted(ctx, s, elapsed); err != nil {
			r.logHookError("OnSessionCompleted", e.name, err)
		}
	}
}

// EmitSessionFailed notifies all extensions that implement SessionFailed.
func (r *Registry) EmitSessionFailed(ctx context.Context, s *session.Session, sessErr error) {
	for _, e := range r.sessionFailed {
		if err := e.hook.OnSessionFailed(ctx, s, sessErr); err != nil {
			r.logHookError("OnSessionFailed", e.name, err)
		}
	}
}

// EmitSessionInterrupted notifies all extensions that implement SessionInterrupted.
func (r *Registry) EmitSessionInterrupted(ctx context.Context, s *session.Session) {
	for _, e := range r.sessionInterrupted {
		if err := e.hook.OnSessionInterrupted(ctx, s); err != nil {
			r.logHookError("OnSessionInterrupted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, sessionID id.SessionID, step string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, sessionID, step, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, sessionID id.SessionID, step string, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, sessionID, step, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitStepRetrying notifies all extensions that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, sessionID id.SessionID, step string, attempt int, delay time.Duration) {
	for _, e := range r.stepRetrying {
		if err := e.hook.OnStepRetrying(ctx, sessionID, step, attempt, delay); err != nil {
			r.logHookError("OnStepRetrying", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Coordinator event emitters
// ──────────────────────────────────────────────────

// EmitUnitCompleted notifies all extensions that implement UnitCompleted.
func (r *Registry) EmitUnitCompleted(ctx context.Context, unitKey string, sessionID id.SessionID) {
	for _, e := range r.unitCompleted {
		if err := e.hook.OnUnitCompleted(ctx, unitKey, sessionID); err != nil {
			r.logHookError("OnUnitCompleted", e.name, err)
		}
	}
}

// EmitUnitFailed notifies all extensions that implement UnitFailed.
func (r *Registry) EmitUnitFailed(ctx context.Context, unitKey string, sessionID id.SessionID, unitErr error) {
	for _, e := range r.unitFailed {
		if err := e.hook.OnUnitFailed(ctx, unitKey, sessionID, unitErr); err != nil {
			r.logHookError("OnUnitFailed", e.name, err)
		}
	}
}

// EmitUnitDLQ notifies all extensions that implement UnitDLQ.
func (r *Registry) EmitUnitDLQ(ctx context.Context, entry *dlq.Entry) {
	for _, e := range r.unitDLQ {
		if err := e.hook.OnUnitDLQ(ctx, entry); err != nil {
			r.logHookError("OnUnitDLQ", e.name, err)
		}
	}
}

// EmitWorktreeAllocated notifies all extensions that implement WorktreeAllocated.
func (r *Registry) EmitWorktreeAllocated(ctx context.Context, path string, sessionID id.SessionID, reused bool) {
	for _, e := range r.worktreeAllocated {
		if err := e.hook.OnWorktreeAllocated(ctx, path, sessionID, reused); err != nil {
			r.logHookError("OnWorktreeAllocated", e.name, err)
		}
	}
}

// EmitWorktreeReclaimed notifies all extensions that implement WorktreeReclaimed.
func (r *Registry) EmitWorktreeReclaimed(ctx context.Context, path, reason string) {
	for _, e := range r.worktreeReclaimed {
		if err := e.hook.OnWorktreeReclaimed(ctx, path, reason); err != nil {
			r.logHookError("OnWorktreeReclaimed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never propagate into session execution.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
