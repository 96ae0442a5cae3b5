package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/session"
)

// ── Session model ─────────────────────────────────────────────────

// sessionModel keeps the checkpoint document in Payload. The other
// columns are projections used for filtering and ordering.
type sessionModel struct {
	ID        string    `gorm:"primaryKey"`
	Workflow  string    `gorm:"not null;index"`
	Status    string    `gorm:"not null;index"`
	Payload   []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

func (sessionModel) TableName() string { return "conductor_sessions" }

func toSessionModel(s *session.Session) (*sessionModel, error) {
	payload, err := session.Encode(s)
	if err != nil {
		return nil, err
	}
	return &sessionModel{
		ID:        s.ID.String(),
		Workflow:  s.Workflow.Name,
		Status:    string(s.Status),
		Payload:   payload,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}, nil
}

func fromSessionModel(m *sessionModel) (*session.Session, error) {
	return session.Decode(m.ID, m.Payload)
}

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID        string    `gorm:"primaryKey"`
	Workflow  string    `gorm:"not null"`
	Status    string    `gorm:"not null;index"`
	Payload   []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

func (jobModel) TableName() string { return "conductor_jobs" }

func toJobModel(j *job.Job) (*jobModel, error) {
	payload, err := job.Encode(j)
	if err != nil {
		return nil, err
	}
	return &jobModel{
		ID:        j.ID.String(),
		Workflow:  j.Workflow,
		Status:    string(j.Status),
		Payload:   payload,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqModel struct {
	ID         string `gorm:"primaryKey"`
	JobID      string `gorm:"index"`
	UnitKey    string `gorm:"not null"`
	Workflow   string `gorm:"not null"`
	Item       []byte
	SessionID  string
	Error      string
	Attempts   int
	FailedAt   time.Time `gorm:"not null;index"`
	ReplayedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
}

func (dlqModel) TableName() string { return "conductor_dlq" }

func toDLQModel(e *dlq.Entry) *dlqModel {
	return &dlqModel{
		ID:         e.ID.String(),
		JobID:      e.JobID.String(),
		UnitKey:    e.UnitKey,
		Workflow:   e.Workflow,
		Item:       e.Item,
		SessionID:  e.SessionID.String(),
		Error:      e.Error,
		Attempts:   e.Attempts,
		FailedAt:   e.FailedAt,
		ReplayedAt: e.ReplayedAt,
		CreatedAt:  e.CreatedAt,
	}
}

func fromDLQModel(m *dlqModel) (*dlq.Entry, error) {
	e := &dlq.Entry{
		UnitKey:    m.UnitKey,
		Workflow:   m.Workflow,
		Error:      m.Error,
		Attempts:   m.Attempts,
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
		CreatedAt:  m.CreatedAt,
	}
	if len(m.Item) > 0 {
		e.Item = json.RawMessage(m.Item)
	}
	if err := e.ID.UnmarshalText([]byte(m.ID)); err != nil {
		return nil, fmt.Errorf("conductor/sqlite: parse dlq id: %w", err)
	}
	if err := e.JobID.UnmarshalText([]byte(m.JobID)); err != nil {
		return nil, fmt.Errorf("conductor/sqlite: parse job id: %w", err)
	}
	if err := e.SessionID.UnmarshalText([]byte(m.SessionID)); err != nil {
		return nil, fmt.Errorf("conductor/sqlite: parse session id: %w", err)
	}
	return e, nil
}
