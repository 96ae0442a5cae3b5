package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// SaveJob upserts the job row.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	payload, err := job.Encode(j)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conductor_jobs (id, workflow, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`,
		j.ID.String(), j.Workflow, string(j.Status), payload, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: save job: %w", err)
	}
	return nil
}

// LoadJob reads the job row.
func (s *Store) LoadJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM conductor_jobs WHERE id = $1`, jobID.String(),
	).Scan(&payload)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: load job: %w", err)
	}
	return job.Decode(payload)
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT payload FROM conductor_jobs WHERE 1=1`
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
		return nil, fmt.Errorf("conductor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan job row: %w", err)
		}
		j, decErr := job.Decode(payload)
		if decErr != nil {
			return nil, decErr
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate job rows: %w", err)
	}
	return out, nil
}

// DeleteJob removes the job row.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conductor_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("conductor/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}
