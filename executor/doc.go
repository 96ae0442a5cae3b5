// Package executor runs one workflow step: it evaluates the step's `when`
// guard, expands the command, invokes the collaborator once per attempt
// through the middleware chain, and consults the retry engine after each
// failed attempt.
//
// The executor never writes checkpoints. It returns an [Outcome] and the
// orchestrator decides what becomes durable. Every attempt is independent:
// a step re-run after a resume starts from its first attempt.
//
// Time is injected through [Clock] so retry delays can be observed in
// tests without sleeping.
package executor
