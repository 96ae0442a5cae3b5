package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/session"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ session.Store = (*Store)(nil)
	_ job.Store     = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
)

// Store is a GORM implementation of store.Store on SQLite.
type Store struct {
	db     *gorm.DB
	owned  bool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New wraps an existing GORM handle. The caller owns the db lifecycle.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the SQLite database at dsn. Close closes it.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("conductor/sqlite: open %s: %w", dsn, err)
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// DB returns the underlying *gorm.DB for advanced usage.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&sessionModel{}, &jobModel{}, &dlqModel{}); err != nil {
		return fmt.Errorf("%w: %w", conductor.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("conductor/sqlite: ping: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("conductor/sqlite: close: %w", err)
	}
	return sqlDB.Close()
}

// ──────────────────────────────────────────────────
// Session Store
// ──────────────────────────────────────────────────

// SaveSession upserts the checkpoint row in a single statement.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	m, err := toSessionModel(sess)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
	if err != nil {
		return fmt.Errorf("conductor/sqlite: save session: %w", err)
	}
	return nil
}

// LoadSession reads the checkpoint row.
func (s *Store) LoadSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	var m sessionModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", sessionID.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, conductor.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conductor/sqlite: load session: %w", err)
	}
	return fromSessionModel(&m)
}

// ListSessions returns summaries, newest first.
func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Summary, error) {
	q := s.db.WithContext(ctx).Model(&sessionModel{}).Order("updated_at DESC")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var models []sessionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("conductor/sqlite: list sessions: %w", err)
	}

	out := make([]*session.Summary, 0, len(models))
	for i := range models {
		sess, err := fromSessionModel(&models[i])
		if err != nil {
			s.logger.Warn("corrupt session checkpoint", slog.String("session_id", models[i].ID), slog.String("error", err.Error()))
			out = append(out, session.CorruptSummary(models[i].ID, err))
			continue
		}
		out = append(out, session.Summarize(sess))
	}
	return out, nil
}

// DeleteSession removes the checkpoint row.
func (s *Store) DeleteSession(ctx context.Context, sessionID id.SessionID) error {
	res := s.db.WithContext(ctx).Delete(&sessionModel{}, "id = ?", sessionID.String())
	if res.Error != nil {
		return fmt.Errorf("conductor/sqlite: delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return conductor.ErrSessionNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// SaveJob upserts the job row.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	m, err := toJobModel(j)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
	if err != nil {
		return fmt.Errorf("conductor/sqlite: save job: %w", err)
	}
	return nil
}

// LoadJob reads the job row.
func (s *Store) LoadJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", jobID.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, conductor.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conductor/sqlite: load job: %w", err)
	}
	return job.Decode(m.Payload)
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	q := s.db.WithContext(ctx).Model(&jobModel{}).Order("updated_at DESC")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	var models []jobModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("conductor/sqlite: list jobs: %w", err)
	}
	out := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := job.Decode(models[i].Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// DeleteJob removes the job row.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res := s.db.WithContext(ctx).Delete(&jobModel{}, "id = ?", jobID.String())
	if res.Error != nil {
		return fmt.Errorf("conductor/sqlite: delete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ inserts a DLQ row.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	if err := s.db.WithContext(ctx).Create(toDLQModel(entry)).Error; err != nil {
		return fmt.Errorf("conductor/sqlite: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries matching opts, oldest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	q := s.db.WithContext(ctx).Model(&dlqModel{}).Order("failed_at ASC")
	if !opts.JobID.IsNil() {
		q = q.Where("job_id = ?", opts.JobID.String())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var models []dlqModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("conductor/sqlite: list dlq: %w", err)
	}
	out := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, err := fromDLQModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var m dlqModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", entryID.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, conductor.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conductor/sqlite: get dlq: %w", err)
	}
	return fromDLQModel(&m)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res := s.db.WithContext(ctx).Model(&dlqModel{}).
		Where("id = ?", entryID.String()).
		Update("replayed_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("conductor/sqlite: replay dlq: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return conductor.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("failed_at < ?", before).Delete(&dlqModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("conductor/sqlite: purge dlq: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&dlqModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("conductor/sqlite: count dlq: %w", err)
	}
	return n, nil
}
