// Package audithook is a conductor extension that turns lifecycle events
// into an append-only audit trail.
//
// Session, step, unit and dead-letter hooks each produce an [AuditEvent]
// handed to a [Recorder]. Severity follows the outcome: info for normal
// progress, warning for retries and interruptions, critical for terminal
// failures. Worktree hooks are not audited; the metrics extension covers
// them.
//
// # Writing to a file
//
//	rec := audithook.NewJSONLRecorder(f)
//	eng, _ := engine.Build(c, engine.WithExtension(audithook.New(rec)))
//
// # Selective filtering
//
//	audithook.New(rec,
//	    audithook.WithActions(
//	        audithook.ActionSessionFailed,
//	        audithook.ActionUnitDLQ,
//	    ),
//	)
package audithook
