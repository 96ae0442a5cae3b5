package job

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/xraph/conductor/id"
)

// ListOpts controls job listings.
type ListOpts struct {
	// Status filters by job status. Empty means all.
	Status Status
	// Limit is the maximum number of jobs. Zero means no limit.
	Limit int
}

// Store persists MapReduce job checkpoints.
type Store interface {
	// SaveJob atomically replaces the record for j.ID.
	SaveJob(ctx context.Context, j *Job) error

	// LoadJob returns the job or conductor.ErrJobNotFound.
	LoadJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs ordered by UpdatedAt, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// DeleteJob removes the record.
	DeleteJob(ctx context.Context, jobID id.JobID) error
}

// Encode serializes j for storage.
func Encode(j *Job) ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("job: encode %s: %w", j.ID, err)
	}
	return data, nil
}

// Decode parses a stored job.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("job: decode: %w", err)
	}
	if j.Units == nil {
		j.Units = map[string]*Unit{}
	}
	return &j, nil
}

// Filter applies opts to jobs, ordering them newest first.
func Filter(jobs []*Job, opts ListOpts) []*Job {
	out := slices.DeleteFunc(jobs, func(j *Job) bool { return opts.Status != "" && j.Status != opts.Status })
	slices.SortStableFunc(out, func(a, b *Job) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
