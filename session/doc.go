// Package session owns the lifecycle of one workflow run and the durable
// checkpoint that makes it resumable.
//
// # States
//
//	              step ok, more remain
//	               ┌────┐
//	               ▼    │
//	 Start ──► InProgress ──── final step ok ───► Completed (terminal)
//	            │   ▲  │
//	 cancelled  │   │  │ retries exhausted
//	            ▼   │  ▼
//	   Interrupted  │  Failed
//	            │   │  │
//	            └─ Resume ┘
//
// A session that never started has no record and is not a state.
// Completed sessions are immutable.
//
// # Resumability
//
// [IsResumable] is the single authoritative predicate: a session is
// resumable when it is not Completed and carries workflow state. Both
// Interrupted and Failed sessions qualify.
//
// # Checkpoints
//
// Every [Machine] transition writes a checkpoint through the [Store] before
// returning. If the write fails, the in-memory transition is rolled back
// and the error is returned; nothing retries around durability. The
// checkpoint reflects the last step boundary, never a step in flight.
//
// # Key Types
//
//   - [Session]: one run, its step results and accumulated variables
//   - [Status]: closed enum of the four states
//   - [Checkpoint]: the persisted record layout, versioned JSON
//   - [Store]: atomic save, load, list and delete
//   - [Machine]: the only writer of a session's record
package session
