package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/conductor/id"
)

// Entry is a work unit that gave up and was parked for inspection or
// replay.
type Entry struct {
	ID         id.DLQID        `json:"id"`
	JobID      id.JobID        `json:"job_id"`
	UnitKey    string          `json:"unit_key"`
	Workflow   string          `json:"workflow"`
	Item       json.RawMessage `json:"item,omitempty"`
	SessionID  id.SessionID    `json:"session_id"`
	Error      string          `json:"error"`
	Attempts   int             `json:"attempts"`
	FailedAt   time.Time       `json:"failed_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Replayed reports whether the entry has already been replayed.
func (e *Entry) Replayed() bool { return e.ReplayedAt != nil }
