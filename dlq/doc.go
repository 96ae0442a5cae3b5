// Package dlq provides the dead letter queue for MapReduce work units that
// failed after exhausting their retry policy. Entries keep the original
// item so an operator can inspect the failure and replay it once the cause
// is fixed.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / UnitKey: the MapReduce job and the item fingerprint
//   - Item: the raw JSON work item
//   - SessionID: the unit session that failed, still resumable on its own
//   - Error / Attempts: the final error and how many times the unit ran
//   - ReplayedAt: set once the entry has been replayed successfully
//
// # Replay
//
//	entry, err := svc.Replay(ctx, entryID, func(ctx context.Context, e *dlq.Entry) error {
//	    return coord.RerunItem(ctx, e)
//	})
//
// The entry is marked replayed only when the rerun function succeeds.
package dlq
