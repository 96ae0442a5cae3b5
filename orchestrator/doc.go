// Package orchestrator drives a session from its first incomplete step to
// a terminal outcome.
//
// [Orchestrator.Run] starts a fresh session; [Orchestrator.Resume] reloads
// a checkpoint, applies the resumability predicate and re-enters the step
// loop at the first step that did not complete. Every step boundary is
// checkpointed before the next step begins.
//
// A cancelled context interrupts the session: the step in flight is
// abandoned and only the Interrupted status is written. Checkpoint writes
// are detached from the caller's cancellation so the interruption itself
// is always durable.
package orchestrator
