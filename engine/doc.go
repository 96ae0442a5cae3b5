// Package engine wires every conductor subsystem together. It builds the
// collaborator runners, the middleware chain, the step executor, the
// orchestrator, the worktree pool and the parallel coordinator around a
// conductor.Conductor, and exposes run, resume and fan-out operations.
//
// This package exists to break the import cycle: the root conductor
// package holds configuration and sentinel errors imported by every
// subsystem and so cannot import those packages back. The engine package
// sits above all subsystem packages and below the application layer.
package engine
