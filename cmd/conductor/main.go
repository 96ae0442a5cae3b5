// Command conductor runs workflow files as crash-safe sessions.
//
// Usage:
//
//	conductor run release.yml --var target=prod
//	conductor resume --last
//	conductor sessions --resumable
//	conductor map lint.yml
//	conductor dlq list
//
// SIGINT and SIGTERM stop the running steps and leave the session
// Interrupted; "conductor resume" picks it up at the first step that did
// not complete.
//
// Exit codes: 0 completed, 1 failed, 2 not resumable, 3 not found,
// 130 interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
