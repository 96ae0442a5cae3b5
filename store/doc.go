// Package store defines the aggregate persistence interface.
//
// Each subsystem (session, job, dlq) defines its own store interface. The
// composite [Store] composes them all. A single backend need only
// implement Store to satisfy every subsystem's persistence contract.
//
//	type Store interface {
//	    session.Store
//	    job.Store
//	    dlq.Store
//
//	    Migrate(ctx context.Context) error
//	    Ping(ctx context.Context) error
//	    Close() error
//	}
//
// # Durability
//
// SaveSession replaces a checkpoint atomically: a crash at any point
// leaves either the previous record or the new one, never a torn write.
// Exactly one writer per session id is expected at a time.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/file: one JSON file per record, atomic rename on write
//   - store/sqlite: SQLite via GORM, no cgo
//   - store/postgres: PostgreSQL backend using pgx/v5
//   - store/redis: Redis backend
//
// # Usage
//
//	import "github.com/xraph/conductor/store/file"
//
//	s, err := file.New(".conductor")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	c, err := conductor.New(conductor.WithStore(s))
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
