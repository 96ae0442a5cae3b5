// Package workflow loads YAML workflow definitions and turns them into
// immutable execution plans.
//
// # Definition
//
//	name: release
//	env:
//	  GOFLAGS: -mod=mod
//	retry:
//	  attempts: 3
//	  backoff: exponential
//	  initial_delay: 1s
//	steps:
//	  - name: test
//	    shell: go test ./...
//	    timeout: 10m
//	  - name: changelog
//	    claude: /write-changelog ${version}
//	    capture: changelog
//	  - name: tag
//	    shell: git tag v${version}
//	    when: branch == "main"
//	    on_failure: continue
//
// Decoding runs YAML into a generic map, the map through mapstructure
// (durations and text-unmarshalled enums), then struct defaults and
// validation tags.
//
// # Plans
//
// [Compile] resolves each step's effective retry policy. A step without a
// retry block gets a deep copy of the workflow policy, so no two steps
// share a Policy value. The plan's Hash covers everything that changes
// execution; a resumed session whose stored hash differs is rejected.
//
// # MapReduce
//
// A definition with a mapreduce block runs a setup phase once, one agent
// session per input item, and a reduce phase that sees map.total,
// map.successful and map.failed.
package workflow
