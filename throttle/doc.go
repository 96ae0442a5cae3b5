// Package throttle bounds how hard conductor drives each collaborator.
//
// A lane groups the commands of one kind (shell, claude). Each lane may cap
// concurrent invocations and rate-limit how often a new invocation starts:
//
//	throttle.Config{
//	    Lane:           command.KindClaude,
//	    MaxConcurrency: 4,   // at most 4 agent calls in flight
//	    RateLimit:      0.5, // one new agent call every 2s on average
//	    RateBurst:      2,
//	}
//
// [Manager.Acquire] blocks until both a slot and a token are available or
// the context ends. Lanes without a Config are unlimited.
package throttle
