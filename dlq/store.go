package dlq

import (
	"context"
	"slices"
	"time"

	"github.com/xraph/conductor/id"
)

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// JobID filters by MapReduce job. Nil means all jobs.
	JobID id.JobID
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds a failed unit to the dead letter queue.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries matching opts, oldest failure first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ marks an entry as replayed.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries that failed before the given time and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}

// Filter applies opts to entries, ordering them oldest failure first.
func Filter(entries []*Entry, opts ListOpts) []*Entry {
	out := slices.DeleteFunc(entries, func(e *Entry) bool { return !opts.JobID.IsNil() && e.JobID != opts.JobID })
	slices.SortStableFunc(out, func(a, b *Entry) int { return a.FailedAt.Compare(b.FailedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
