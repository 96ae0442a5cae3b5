package session

import (
	"context"
	"slices"
	"time"

	"github.com/xraph/conductor/id"
)

// Summary is the listing view of a session.
type Summary struct {
	ID         id.SessionID `json:"id"`
	Workflow   string       `json:"workflow"`
	Status     Status       `json:"status"`
	StepIndex  int          `json:"step_index"`
	TotalSteps int          `json:"total_steps"`
	Error      string       `json:"error,omitempty"`
	Resumable  bool         `json:"resumable"`
	UpdatedAt  time.Time    `json:"updated_at"`
	// Corrupt is set for records that could not be decoded; only ID and
	// Error are meaningful then.
	Corrupt bool `json:"corrupt,omitempty"`
}

// Summarize builds the listing view of s.
func Summarize(s *Session) *Summary {
	return &Summary{
		ID:         s.ID,
		Workflow:   s.Workflow.Name,
		Status:     s.Status,
		StepIndex:  s.StepIndex,
		TotalSteps: s.Workflow.TotalSteps,
		Error:      s.Error,
		Resumable:  IsResumable(s),
		UpdatedAt:  s.UpdatedAt,
	}
}

// ListOpts filters session listings.
type ListOpts struct {
	// Status filters by status. Empty means all.
	Status Status
	// Limit is the maximum number of summaries. Zero means no limit.
	Limit int
}

// Match reports whether sum passes the filter.
func (o ListOpts) Match(sum *Summary) bool {
	return o.Status == "" || sum.Status == o.Status
}

// Store persists session checkpoints. Exactly one writer per session id is
// expected at a time; that writer is the session's Machine.
type Store interface {
	// SaveSession atomically replaces the record for s.ID. A reader never
	// observes a partially written record.
	SaveSession(ctx context.Context, s *Session) error

	// LoadSession returns the latest durable snapshot, or
	// conductor.ErrSessionNotFound, or a *CorruptError.
	LoadSession(ctx context.Context, sessionID id.SessionID) (*Session, error)

	// ListSessions returns summaries ordered by UpdatedAt, newest first.
	ListSessions(ctx context.Context, opts ListOpts) ([]*Summary, error)

	// DeleteSession removes the record. Deleting a missing record returns
	// conductor.ErrSessionNotFound.
	DeleteSession(ctx context.Context, sessionID id.SessionID) error
}

// CorruptSummary lists a record stored under key that failed to decode.
func CorruptSummary(key string, err error) *Summary {
	sid, _ := id.ParseSessionID(key) //nolint:errcheck // a malformed key lists with a nil id
	return &Summary{ID: sid, Error: err.Error(), Corrupt: true}
}

// Filter applies opts to summaries, ordering them newest first. Stores
// that cannot filter natively use it after a full scan.
func Filter(summaries []*Summary, opts ListOpts) []*Summary {
	out := slices.DeleteFunc(summaries, func(s *Summary) bool { return !opts.Match(s) })
	slices.SortStableFunc(out, func(a, b *Summary) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
