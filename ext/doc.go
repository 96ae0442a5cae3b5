// Package ext defines the extension system for conductor.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, posting notifications or writing audit logs. Each
// lifecycle hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type Notifier struct{}
//
//	func (n *Notifier) Name() string { return "notifier" }
//
//	func (n *Notifier) OnSessionFailed(ctx context.Context, s *session.Session, err error) error {
//	    log.Printf("session %s failed at step %d: %v", s.ID, s.StepIndex, err)
//	    return nil
//	}
//
// # Session Hooks
//
//   - [SessionStarted]: a fresh session wrote its first checkpoint
//   - [SessionResumed]: an Interrupted or Failed session is running again
//   - [SessionCompleted]: the final step succeeded
//   - [SessionFailed]: a step exhausted its retry policy
//   - [SessionInterrupted]: cancellation stopped the session
//
// # Step Hooks
//
//   - [StepCompleted], [StepFailed], [StepRetrying]
//
// # Coordinator Hooks
//
//   - [UnitCompleted], [UnitFailed], [UnitDLQ]
//   - [WorktreeAllocated], [WorktreeReclaimed]
//   - [Shutdown]
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never propagated.
package ext
