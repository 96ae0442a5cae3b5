package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/session"
)

// SaveSession upserts the checkpoint row.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	payload, err := session.Encode(sess)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conductor_sessions (id, workflow, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			workflow = EXCLUDED.workflow,
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`,
		sess.ID.String(), sess.Workflow.Name, string(sess.Status),
		payload, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: save session: %w", err)
	}
	return nil
}

// LoadSession reads the checkpoint row.
func (s *Store) LoadSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	key := sessionID.String()
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM conductor_sessions WHERE id = $1`, key,
	).Scan(&payload)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrSessionNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: load session: %w", err)
	}
	return session.Decode(key, payload)
}

// ListSessions returns summaries, newest first.
func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Summary, error) {
	query := `SELECT id, payload FROM conductor_sessions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}

	query += " ORDER BY updated_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Summary
	for rows.Next() {
		var (
			key     string
			payload []byte
		)
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan session row: %w", err)
		}
		sess, decErr := session.Decode(key, payload)
		if decErr != nil {
			s.logger.Warn("corrupt session checkpoint", slog.String("session_id", key), slog.String("error", decErr.Error()))
			out = append(out, session.CorruptSummary(key, decErr))
			continue
		}
		out = append(out, session.Summarize(sess))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate session rows: %w", err)
	}
	return out, nil
}

// DeleteSession removes the checkpoint row.
func (s *Store) DeleteSession(ctx context.Context, sessionID id.SessionID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conductor_sessions WHERE id = $1`, sessionID.String())
	if err != nil {
		return fmt.Errorf("conductor/postgres: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrSessionNotFound
	}
	return nil
}
