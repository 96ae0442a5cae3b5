package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/session"
)

// Compile-time interface checks.
var (
	_ session.Store = (*Store)(nil)
	_ job.Store     = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
)

const (
	sessionsDir = "sessions"
	jobsDir     = "jobs"
	dlqDir      = "dlq"
	ext         = ".json"
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPermissions sets the mode of record files. Default 0o600.
func WithPermissions(perm os.FileMode) Option {
	return func(s *Store) { s.perm = perm }
}

// WithBeforeReplace installs a hook that runs after a record's bytes are
// written and synced to the temporary file, before it replaces the old
// record. A non-nil error aborts the write and the old record survives.
func WithBeforeReplace(hook func(path string) error) Option {
	return func(s *Store) { s.beforeReplace = hook }
}

// Store keeps one JSON file per record.
type Store struct {
	dir           string
	perm          os.FileMode
	logger        *slog.Logger
	beforeReplace func(path string) error

	// dlqMu serializes read-modify-write cycles on DLQ entries.
	dlqMu  sync.Mutex
	closed atomic.Bool
}

// New opens a store rooted at dir. Directories are created by Migrate.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("conductor/file: empty state directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("conductor/file: resolve %s: %w", dir, err)
	}
	s := &Store{dir: abs, perm: 0o600, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate creates the directory layout.
func (s *Store) Migrate(_ context.Context) error {
	for _, sub := range []string{sessionsDir, jobsDir, dlqDir} {
		if err := os.MkdirAll(filepath.Join(s.dir, sub), 0o755); err != nil {
			return fmt.Errorf("%w: %w", conductor.ErrMigrationFailed, err)
		}
	}
	return nil
}

// Ping checks that the state directory is accessible.
func (s *Store) Ping(_ context.Context) error {
	if s.isClosed() {
		return conductor.ErrStoreClosed
	}
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("conductor/file: ping: %w", err)
	}
	return nil
}

// Close marks the store closed. Files stay on disk.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) isClosed() bool { return s.closed.Load() }

// ──────────────────────────────────────────────────
// Atomic file access
// ──────────────────────────────────────────────────

func (s *Store) path(sub, key string) string {
	return filepath.Join(s.dir, sub, key+ext)
}

// write atomically replaces path with data.
func (s *Store) write(path string, data []byte) (err error) {
	if s.isClosed() {
		return conductor.ErrStoreClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("conductor/file: mkdir: %w", err)
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(s.perm))
	if err != nil {
		return fmt.Errorf("conductor/file: create temp for %s: %w", path, err)
	}
	defer func() {
		if cerr := pf.Cleanup(); cerr != nil && err == nil {
			s.logger.Warn("temp file cleanup failed", slog.String("path", path), slog.String("error", cerr.Error()))
		}
	}()

	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("conductor/file: write %s: %w", path, err)
	}
	if s.beforeReplace != nil {
		if err := s.beforeReplace(path); err != nil {
			return fmt.Errorf("conductor/file: write %s: %w", path, err)
		}
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("conductor/file: replace %s: %w", path, err)
	}
	return nil
}

// read returns the record bytes or notFound.
func (s *Store) read(path string, notFound error) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("conductor/file: read %s: %w", path, err)
	}
	return data, nil
}

func (s *Store) remove(path string, notFound error) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("conductor/file: remove %s: %w", path, err)
	}
	return nil
}

// scan calls fn for every record in sub, with the read error when a
// record exists but cannot be read. Temp files and directories are
// skipped. A missing directory is treated as empty.
func (s *Store) scan(sub string, fn func(key string, data []byte, err error) error) error {
	dir := filepath.Join(s.dir, sub)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("conductor/file: list %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			err = fmt.Errorf("conductor/file: read %s: %w", name, err)
		}
		if err := fn(strings.TrimSuffix(name, ext), data, err); err != nil {
			return err
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Session Store
// ──────────────────────────────────────────────────

// SaveSession atomically replaces sessions/<id>.json.
func (s *Store) SaveSession(_ context.Context, sess *session.Session) error {
	data, err := session.Encode(sess)
	if err != nil {
		return err
	}
	return s.write(s.path(sessionsDir, sess.ID.String()), data)
}

// LoadSession reads and decodes sessions/<id>.json.
func (s *Store) LoadSession(_ context.Context, sessionID id.SessionID) (*session.Session, error) {
	key := sessionID.String()
	data, err := s.read(s.path(sessionsDir, key), conductor.ErrSessionNotFound)
	if errors.Is(err, conductor.ErrSessionNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &session.CorruptError{ID: key, Err: err}
	}
	return session.Decode(key, data)
}

// ListSessions summarizes every session file, newest first.
func (s *Store) ListSessions(_ context.Context, opts session.ListOpts) ([]*session.Summary, error) {
	var out []*session.Summary
	err := s.scan(sessionsDir, func(key string, data []byte, readErr error) error {
		if readErr != nil {
			readErr = &session.CorruptError{ID: key, Err: readErr}
			s.logger.Warn("unreadable session checkpoint", slog.String("session_id", key), slog.String("error", readErr.Error()))
			out = append(out, session.CorruptSummary(key, readErr))
			return nil
		}
		sess, err := session.Decode(key, data)
		if err != nil {
			s.logger.Warn("corrupt session checkpoint", slog.String("session_id", key), slog.String("error", err.Error()))
			out = append(out, session.CorruptSummary(key, err))
			return nil
		}
		out = append(out, session.Summarize(sess))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session.Filter(out, opts), nil
}

// DeleteSession removes sessions/<id>.json.
func (s *Store) DeleteSession(_ context.Context, sessionID id.SessionID) error {
	return s.remove(s.path(sessionsDir, sessionID.String()), conductor.ErrSessionNotFound)
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// SaveJob atomically replaces jobs/<id>.json.
func (s *Store) SaveJob(_ context.Context, j *job.Job) error {
	data, err := job.Encode(j)
	if err != nil {
		return err
	}
	return s.write(s.path(jobsDir, j.ID.String()), data)
}

// LoadJob reads jobs/<id>.json.
func (s *Store) LoadJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	data, err := s.read(s.path(jobsDir, jobID.String()), conductor.ErrJobNotFound)
	if err != nil {
		return nil, err
	}
	return job.Decode(data)
}

// ListJobs returns every readable job, newest first.
func (s *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var out []*job.Job
	err := s.scan(jobsDir, func(key string, data []byte, readErr error) error {
		if readErr != nil {
			return readErr
		}
		j, err := job.Decode(data)
		if err != nil {
			s.logger.Warn("corrupt job checkpoint", slog.String("job_id", key), slog.String("error", err.Error()))
			return nil
		}
		out = append(out, j)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job.Filter(out, opts), nil
}

// DeleteJob removes jobs/<id>.json.
func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	return s.remove(s.path(jobsDir, jobID.String()), conductor.ErrJobNotFound)
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ writes dlq/<id>.json.
func (s *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("conductor/file: push dlq: %w", err)
	}
	return s.write(s.path(dlqDir, entry.ID.String()), data)
}

// ListDLQ returns entries matching opts, oldest failure first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	entries, err := s.allDLQ()
	if err != nil {
		return nil, err
	}
	return dlq.Filter(entries, opts), nil
}

// GetDLQ reads dlq/<id>.json.
func (s *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.getDLQ(entryID)
}

// ReplayDLQ stamps ReplayedAt on the entry.
func (s *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	s.dlqMu.Lock()
	defer s.dlqMu.Unlock()

	e, err := s.getDLQ(entryID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("conductor/file: replay dlq: %w", err)
	}
	return s.write(s.path(dlqDir, entryID.String()), data)
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	entries, err := s.allDLQ()
	if err != nil {
		return 0, err
	}
	var purged int64
	for _, e := range entries {
		if !e.FailedAt.Before(before) {
			continue
		}
		if err := s.remove(s.path(dlqDir, e.ID.String()), conductor.ErrDLQNotFound); err != nil {
			if errors.Is(err, conductor.ErrDLQNotFound) {
				continue
			}
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	var n int64
	err := s.scan(dlqDir, func(_ string, _ []byte, readErr error) error {
		if readErr != nil {
			return readErr
		}
		n++
		return nil
	})
	return n, err
}

func (s *Store) getDLQ(entryID id.DLQID) (*dlq.Entry, error) {
	data, err := s.read(s.path(dlqDir, entryID.String()), conductor.ErrDLQNotFound)
	if err != nil {
		return nil, err
	}
	return decodeDLQ(data)
}

func (s *Store) allDLQ() ([]*dlq.Entry, error) {
	var out []*dlq.Entry
	err := s.scan(dlqDir, func(_ string, data []byte, readErr error) error {
		if readErr != nil {
			return readErr
		}
		e, err := decodeDLQ(data)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

func decodeDLQ(data []byte) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("conductor/file: decode dlq: %w", err)
	}
	return &e, nil
}
