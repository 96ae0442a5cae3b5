// Package job tracks MapReduce fan-out runs. A Job records every work item
// under its fingerprint, so a resumed job runs each distinct item to
// success at most once no matter how often it is restarted.
//
// # Lifecycle
//
// The coordinator creates a Job from the input items, runs the setup
// phase once, then runs one unit session per pending item. Each unit that
// reaches a terminal state is written back into the Job and the Job is
// checkpointed. When no pending unit remains, the reduce phase runs once.
//
// # Fingerprints
//
// [Fingerprint] hashes the canonical JSON of an item: object keys are
// sorted and insignificant whitespace dropped, so the same item read from
// differently formatted input files maps to the same unit.
package job
