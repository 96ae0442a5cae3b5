package job

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/xraph/conductor/id"
)

// Status is the state of a whole job.
type Status string

// Job states.
const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// UnitStatus is the state of one work unit.
type UnitStatus string

// Unit states.
const (
	UnitPending     UnitStatus = "pending"
	UnitRunning     UnitStatus = "running"
	UnitSucceeded   UnitStatus = "succeeded"
	UnitFailed      UnitStatus = "failed"
	UnitInterrupted UnitStatus = "interrupted"
)

// Terminal reports whether the unit reached an end state for this run.
func (s UnitStatus) Terminal() bool {
	return s == UnitSucceeded || s == UnitFailed || s == UnitInterrupted
}

// Unit is one work item.
type Unit struct {
	Key       string          `json:"key"`
	Index     int             `json:"index"`
	Item      json.RawMessage `json:"item"`
	Status    UnitStatus      `json:"status"`
	SessionID id.SessionID    `json:"session_id"`
	Error     string          `json:"error,omitempty"`
	// Attempts counts how many sessions were started for this unit.
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job is the checkpoint of a MapReduce run.
type Job struct {
	ID         id.JobID          `json:"id"`
	Workflow   string            `json:"workflow"`
	Hash       string            `json:"hash"`
	Status     Status            `json:"status"`
	Units      map[string]*Unit  `json:"units"`
	SetupDone  bool              `json:"setup_done"`
	ReduceDone bool              `json:"reduce_done"`
	Variables  map[string]string `json:"variables,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Fingerprint returns the content key of an item.
func Fingerprint(item json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(item, &v); err != nil {
		return "", fmt.Errorf("job: fingerprint: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("job: fingerprint: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:16]), nil
}

// New creates a job over items. Items with equal fingerprints collapse
// into one unit, keeping the first occurrence's index.
func New(workflow, hash string, items []json.RawMessage) (*Job, error) {
	now := time.Now().UTC()
	j := &Job{
		ID:        id.NewJobID(),
		Workflow:  workflow,
		Hash:      hash,
		Status:    StatusRunning,
		Units:     make(map[string]*Unit, len(items)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := j.Add(items...); err != nil {
		return nil, err
	}
	return j, nil
}

// Add registers items as pending units and returns the units that were
// new. Items whose fingerprint is already known are ignored.
func (j *Job) Add(items ...json.RawMessage) ([]*Unit, error) {
	var added []*Unit
	for _, item := range items {
		key, err := Fingerprint(item)
		if err != nil {
			return nil, err
		}
		if _, ok := j.Units[key]; ok {
			continue
		}
		u := &Unit{Key: key, Index: len(j.Units), Item: item, Status: UnitPending}
		j.Units[key] = u
		added = append(added, u)
	}
	return added, nil
}

// Ordered returns all units sorted by input index.
func (j *Job) Ordered() []*Unit {
	out := slices.Collect(maps.Values(j.Units))
	slices.SortFunc(out, func(a, b *Unit) int { return a.Index - b.Index })
	return out
}

// Pending returns units that still need to run, in input order. A unit
// that succeeded is never pending again.
func (j *Job) Pending() []*Unit {
	return slices.DeleteFunc(j.Ordered(), func(u *Unit) bool { return u.Status == UnitSucceeded })
}

// Counts summarizes unit states.
type Counts struct {
	Total       int `json:"total"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Interrupted int `json:"interrupted"`
	Pending     int `json:"pending"`
}

// Counts tallies the units by status.
func (j *Job) Counts() Counts {
	c := Counts{Total: len(j.Units)}
	for _, u := range j.Units {
		switch u.Status {
		case UnitSucceeded:
			c.Succeeded++
		case UnitFailed:
			c.Failed++
		case UnitInterrupted:
			c.Interrupted++
		default:
			c.Pending++
		}
	}
	return c
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Units = make(map[string]*Unit, len(j.Units))
	for k, u := range j.Units {
		uc := *u
		uc.Item = slices.Clone(u.Item)
		cp.Units[k] = &uc
	}
	cp.Variables = maps.Clone(j.Variables)
	return &cp
}
