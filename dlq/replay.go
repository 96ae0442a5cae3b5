package dlq

import (
	"context"
	"fmt"

	"github.com/xraph/conductor/id"
)

// RerunFunc reruns the work item held by an entry.
type RerunFunc func(ctx context.Context, e *Entry) error

// Replay reruns an entry's item and marks the entry replayed if the rerun
// succeeds. Entries that were already replayed are rerun again; callers
// that want at-most-once replay check Entry.Replayed first.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID, rerun RerunFunc) (*Entry, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if err := rerun(ctx, entry); err != nil {
		return entry, fmt.Errorf("conductor/dlq: replay %s: %w", entryID, err)
	}
	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return entry, err
	}
	return s.store.GetDLQ(ctx, entryID)
}
