package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/conductor/id"
)

// Failure describes a unit that gave up.
type Failure struct {
	JobID     id.JobID
	UnitKey   string
	Workflow  string
	Item      json.RawMessage
	SessionID id.SessionID
	Attempts  int
	Err       error
}

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a DLQ service.
func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Push builds an Entry from a failed unit and persists it.
func (s *Service) Push(ctx context.Context, f Failure) (*Entry, error) {
	now := s.now()
	entry := &Entry{
		ID:        id.NewDLQID(),
		JobID:     f.JobID,
		UnitKey:   f.UnitKey,
		Workflow:  f.Workflow,
		Item:      f.Item,
		SessionID: f.SessionID,
		Attempts:  f.Attempts,
		FailedAt:  now,
		CreatedAt: now,
	}
	if f.Err != nil {
		entry.Error = f.Err.Error()
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Store returns the underlying DLQ store for List, Get, Purge and Count.
func (s *Service) Store() Store {
	return s.store
}
