package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// SaveJob writes the job and its index entry in one transaction.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	payload, err := job.Encode(j)
	if err != nil {
		return err
	}
	jID := j.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID),
		"payload", string(payload),
		"status", string(j.Status),
	)
	pipe.ZAdd(ctx, jobIndexKey, goredis.Z{Score: score(j.UpdatedAt), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: save job: %w", err)
	}
	return nil
}

// LoadJob reads the job.
func (s *Store) LoadJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	payload, err := s.client.HGet(ctx, jobKey(jobID.String()), "payload").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, conductor.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: load job: %w", err)
	}
	return job.Decode([]byte(payload))
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.indexRange(ctx, jobIndexKey, 0)
	if err != nil {
		return nil, fmt.Errorf("conductor/redis: list jobs: %w", err)
	}
	out := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		payload, getErr := s.client.HGet(ctx, jobKey(jID), "payload").Result()
		if errors.Is(getErr, goredis.Nil) {
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("conductor/redis: list jobs: %w", getErr)
		}
		j, decErr := job.Decode([]byte(payload))
		if decErr != nil {
			return nil, decErr
		}
		out = append(out, j)
	}
	return job.Filter(out, opts), nil
}

// DeleteJob removes the job and its index entry.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, jobKey(jID))
	pipe.ZRem(ctx, jobIndexKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conductor/redis: delete job: %w", err)
	}
	if del.Val() == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}
