// Package memory implements store.Store in process memory. Records are
// kept in encoded form so callers never share memory with the store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/session"
)

// Ensure Store implements every subsystem store at compile time.
var (
	_ session.Store = (*Store)(nil)
	_ job.Store     = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	sessions map[string][]byte
	jobs     map[string][]byte
	dlqs     map[string][]byte
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string][]byte),
		jobs:     make(map[string][]byte),
		dlqs:     make(map[string][]byte),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Session Store
// ──────────────────────────────────────────────────

// SaveSession replaces the checkpoint for s.ID.
func (m *Store) SaveSession(_ context.Context, s *session.Session) error {
	data, err := session.Encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ID.String()] = data
	return nil
}

// LoadSession decodes the checkpoint for sessionID.
func (m *Store) LoadSession(_ context.Context, sessionID id.SessionID) (*session.Session, error) {
	key := sessionID.String()
	m.mu.RLock()
	data, ok := m.sessions[key]
	m.mu.RUnlock()

	if !ok {
		return nil, conductor.ErrSessionNotFound
	}
	return session.Decode(key, data)
}

// ListSessions returns session summaries, newest first. Undecodable
// records are listed as corrupt.
func (m *Store) ListSessions(_ context.Context, opts session.ListOpts) ([]*session.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*session.Summary, 0, len(m.sessions))
	for key, data := range m.sessions {
		result = append(result, summarize(key, data))
	}
	return session.Filter(result, opts), nil
}

// DeleteSession removes the checkpoint for sessionID.
func (m *Store) DeleteSession(_ context.Context, sessionID id.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionID.String()
	if _, ok := m.sessions[key]; !ok {
		return conductor.ErrSessionNotFound
	}
	delete(m.sessions, key)
	return nil
}

func summarize(key string, data []byte) *session.Summary {
	s, err := session.Decode(key, data)
	if err != nil {
		return session.CorruptSummary(key, err)
	}
	return session.Summarize(s)
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// SaveJob replaces the checkpoint for j.ID.
func (m *Store) SaveJob(_ context.Context, j *job.Job) error {
	data, err := job.Encode(j)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[j.ID.String()] = data
	return nil
}

// LoadJob decodes the checkpoint for jobID.
func (m *Store) LoadJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	data, ok := m.jobs[jobID.String()]
	m.mu.RUnlock()

	if !ok {
		return nil, conductor.ErrJobNotFound
	}
	return job.Decode(data)
}

// ListJobs returns jobs newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, data := range m.jobs {
		j, err := job.Decode(data)
		if err != nil {
			continue
		}
		result = append(result, j)
	}
	return job.Filter(result, opts), nil
}

// DeleteJob removes the checkpoint for jobID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return conductor.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed unit to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("conductor/memory: push dlq: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dlqs[entry.ID.String()] = data
	return nil
}

// ListDLQ returns DLQ entries matching the given options.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, data := range m.dlqs {
		e, err := decodeDLQ(data)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return dlq.Filter(result, opts), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	data, ok := m.dlqs[entryID.String()]
	m.mu.RUnlock()

	if !ok {
		return nil, conductor.ErrDLQNotFound
	}
	return decodeDLQ(data)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	data, ok := m.dlqs[key]
	if !ok {
		return conductor.ErrDLQNotFound
	}
	e, err := decodeDLQ(data)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	if data, err = json.Marshal(e); err != nil {
		return fmt.Errorf("conductor/memory: replay dlq: %w", err)
	}
	m.dlqs[key] = data
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, data := range m.dlqs {
		e, err := decodeDLQ(data)
		if err != nil {
			return count, err
		}
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.dlqs)), nil
}

func decodeDLQ(data []byte) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("conductor/memory: decode dlq: %w", err)
	}
	return &e, nil
}

// Corrupt plants a raw record under sessionID, replacing any checkpoint.
// Tests use it to exercise corrupt-record handling.
func (m *Store) Corrupt(sessionID id.SessionID, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sessionID.String()] = slices.Clone(raw)
}
