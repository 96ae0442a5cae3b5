// Package store defines the aggregate persistence interface. Each subsystem
// (session, job, dlq) defines its own store interface. The composite Store
// composes them all. Backends: Memory, File, SQLite, Postgres and Redis.
package store

import (
	"context"

	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/session"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store.
type Store interface {
	session.Store
	job.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
