// Package coordinator runs many sessions at once, each in its own
// worktree.
//
// The [Pool] owns every worktree instance. It maps slot indexes to
// instances, bounds active instances with a weighted semaphore of size
// max_parallel, and serializes "pick a free slot, mark it taken" behind a
// mutex. Sessions only ever hold a [Lease]: a non-owning path that is
// handed back with [Pool.Release].
//
// The [Coordinator] fans a plan out over units, one session per unit, and
// aggregates the outcomes into a set keyed by unit. A unit's failure never
// stops its siblings unless the run asks to abort on the first failure.
// [Coordinator.RunMapReduce] adds a checkpointed job around the fan-out so
// an interrupted MapReduce resumes without re-running finished items.
package coordinator
