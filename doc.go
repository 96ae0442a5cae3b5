// Package conductor is a crash-safe workflow orchestration engine. It drives
// multi-step automation pipelines, where each step is a shell command or an
// AI assistant invocation, and guarantees that in-progress work is never
// silently lost.
//
// Every session checkpoints at each step boundary. An interrupted or failed
// session resumes at the first step that did not complete; a completed one
// is immutable.
//
// # Quick Start
//
//	c, err := conductor.New(
//	    conductor.WithStore(filestore.New(".conductor")),
//	    conductor.WithMaxParallel(4),
//	)
//	eng, err := engine.Build(c)
//	report, err := eng.Run(ctx, plan, orchestrator.RunOptions{})
//
// # Architecture
//
// Each subsystem (session, job, dlq) defines its own store interface and a
// single backend implements all of them. The engine package wires the
// retry engine, step executor, orchestrator and parallel coordinator
// together.
//
// All record IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package conductor
