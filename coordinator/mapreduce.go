package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/workflow"
)

// MapReduceOptions configures RunMapReduce.
type MapReduceOptions struct {
	// JobID resumes an existing job. Zero starts a new one.
	JobID id.JobID
	// Variables seed every phase.
	Variables map[string]string
	// WorkDir is where the setup and reduce phases run.
	WorkDir string
}

// MapReduceResult is the outcome of one RunMapReduce call.
type MapReduceResult struct {
	Job *job.Job
	// Map is nil when the map phase did not run in this call.
	Map    *Aggregate
	Setup  *orchestrator.Report
	Reduce *orchestrator.Report
	// DLQ holds the entries pushed for units that failed in this call.
	DLQ []*dlq.Entry
}

// RunMapReduce runs the setup phase once, one agent session per pending
// item, then the reduce phase. The job is checkpointed after setup, after
// every terminal unit and after reduce, so a resumed job skips finished
// phases and never reruns a succeeded item.
func (c *Coordinator) RunMapReduce(ctx context.Context, mr *workflow.MapReducePlan, items []json.RawMessage, opts MapReduceOptions) (*MapReduceResult, error) {
	if c.jobs == nil {
		return nil, conductor.ErrNoStore
	}
	persist := context.WithoutCancel(ctx)

	j, err := c.openJob(ctx, mr, items, opts.JobID)
	if err != nil {
		return nil, err
	}
	out := &MapReduceResult{Job: j}
	cp := &jobCheckpoint{store: c.jobs, job: j}
	if err := cp.save(persist, func(j *job.Job) { j.Status = job.StatusRunning; j.Error = "" }); err != nil {
		return out, err
	}

	log := c.logger.With(slog.String("job_id", j.ID.String()), slog.String("workflow", mr.Name))
	log.Info("mapreduce started", slog.Int("units", len(j.Units)), slog.Int("pending", len(j.Pending())))

	// Setup.
	if mr.Setup != nil && !j.SetupDone {
		report, err := c.orch.Run(ctx, mr.Setup, orchestrator.RunOptions{
			WorkDir:   opts.WorkDir,
			Variables: opts.Variables,
			Labels:    map[string]string{"job": j.ID.String(), "phase": "setup"},
		})
		out.Setup = report
		if err != nil {
			return out, err
		}
		if report.Code != orchestrator.CodeCompleted {
			return out, c.finish(persist, cp, report.Code, phaseError("setup", report))
		}
		if err := cp.save(persist, func(j *job.Job) {
			j.SetupDone = true
			j.Variables = report.Session.Variables()
		}); err != nil {
			return out, err
		}
	}

	// Map.
	units := c.prepareUnits(j, opts.Variables)
	if err := cp.save(persist, func(j *job.Job) {
		for _, u := range units {
			ju := j.Units[u.Key]
			ju.Status = job.UnitRunning
			ju.SessionID = u.SessionID
			ju.Attempts++
			ju.UpdatedAt = time.Now().UTC()
		}
	}); err != nil {
		return out, err
	}

	agg, err := c.RunUnits(ctx, mr.Agent, units, RunOptions{
		MaxParallel:    mr.MaxParallel,
		AbortOnFailure: mr.AbortOnFailure,
		OnUnit: func(ctx context.Context, r *UnitResult) error {
			if err := cp.save(ctx, func(j *job.Job) { recordUnit(j.Units[r.Key], r) }); err != nil {
				return err
			}
			if r.Succeeded() || r.Code == orchestrator.CodeInterrupted {
				return nil
			}
			entry, err := c.deadLetter(ctx, j, mr.Name, r)
			if err != nil || entry == nil {
				return err
			}
			out.DLQ = append(out.DLQ, entry)
			return nil
		},
	})
	out.Map = agg
	if err != nil {
		return out, err
	}

	counts := cp.counts()
	log.Info("map phase finished",
		slog.String("summary", agg.Summary()),
		slog.Int("total", counts.Total),
		slog.Int("succeeded", counts.Succeeded),
	)
	switch {
	case ctx.Err() == nil && mr.AbortOnFailure && counts.Failed > 0:
		return out, c.finish(persist, cp, orchestrator.CodeFailed, fmt.Errorf("aborted: %d of %d units failed", counts.Failed, counts.Total))
	case ctx.Err() != nil || counts.Interrupted > 0 || counts.Pending > 0:
		return out, c.finish(persist, cp, orchestrator.CodeInterrupted, nil)
	}

	// Reduce.
	if mr.Reduce != nil && !j.ReduceDone {
		vars := maps.Clone(opts.Variables)
		if vars == nil {
			vars = map[string]string{}
		}
		maps.Copy(vars, cp.variables())
		vars["map.total"] = strconv.Itoa(counts.Total)
		vars["map.successful"] = strconv.Itoa(counts.Succeeded)
		vars["map.failed"] = strconv.Itoa(counts.Failed)

		report, err := c.orch.Run(ctx, mr.Reduce, orchestrator.RunOptions{
			WorkDir:   opts.WorkDir,
			Variables: vars,
			Labels:    map[string]string{"job": j.ID.String(), "phase": "reduce"},
		})
		out.Reduce = report
		if err != nil {
			return out, err
		}
		if report.Code != orchestrator.CodeCompleted {
			return out, c.finish(persist, cp, report.Code, phaseError("reduce", report))
		}
		// A reduce over failed units runs again once a resume fixes them.
		if err := cp.save(persist, func(j *job.Job) { j.ReduceDone = counts.Failed == 0 }); err != nil {
			return out, err
		}
	}

	code := orchestrator.CodeCompleted
	var cause error
	if counts.Failed > 0 {
		code = orchestrator.CodeFailed
		cause = fmt.Errorf("%d of %d units failed", counts.Failed, counts.Total)
	}
	return out, c.finish(persist, cp, code, cause)
}

// openJob loads the job to resume, or creates one over items.
func (c *Coordinator) openJob(ctx context.Context, mr *workflow.MapReducePlan, items []json.RawMessage, jobID id.JobID) (*job.Job, error) {
	if jobID.IsNil() {
		j, err := job.New(mr.Name, mr.Hash, items)
		if err != nil {
			return nil, fmt.Errorf("conductor/coordinator: %w", err)
		}
		return j, nil
	}

	j, err := c.jobs.LoadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Hash != mr.Hash {
		return nil, fmt.Errorf("%w: job %s ran %s", conductor.ErrWorkflowChanged, j.ID, j.Workflow)
	}
	if j.Status == job.StatusCompleted {
		return nil, fmt.Errorf("%w: job %s", conductor.ErrSessionCompleted, j.ID)
	}
	added, err := j.Add(items...)
	if err != nil {
		return nil, fmt.Errorf("conductor/coordinator: %w", err)
	}
	c.logger.Info("mapreduce job resumed",
		slog.String("job_id", j.ID.String()),
		slog.Int("new_items", len(added)),
	)
	return j, nil
}

// prepareUnits builds one coordinator unit per pending job unit. Units
// with a recorded session are resumed.
func (c *Coordinator) prepareUnits(j *job.Job, base map[string]string) []Unit {
	pending := j.Pending()
	units := make([]Unit, 0, len(pending))
	for _, ju := range pending {
		vars := maps.Clone(base)
		if vars == nil {
			vars = map[string]string{}
		}
		maps.Copy(vars, j.Variables)
		maps.Copy(vars, ItemVariables(ju.Item))
		vars["item.index"] = strconv.Itoa(ju.Index)

		u := Unit{
			Key:       ju.Key,
			Variables: vars,
			Labels:    map[string]string{"job": j.ID.String()},
			SessionID: ju.SessionID,
			Resume:    !ju.SessionID.IsNil() && ju.Status != job.UnitFailed,
		}
		if u.SessionID.IsNil() || ju.Status == job.UnitFailed {
			u.SessionID = id.NewSessionID()
		}
		units = append(units, u)
	}
	return units
}

func recordUnit(ju *job.Unit, r *UnitResult) {
	ju.SessionID = r.SessionID
	ju.UpdatedAt = time.Now().UTC()
	ju.Error = ""
	switch r.Code {
	case orchestrator.CodeCompleted:
		ju.Status = job.UnitSucceeded
	case orchestrator.CodeInterrupted:
		ju.Status = job.UnitInterrupted
	default:
		ju.Status = job.UnitFailed
		if r.Err != nil {
			ju.Error = r.Err.Error()
		}
	}
}

// deadLetter parks a failed unit. It is a no-op without a DLQ.
func (c *Coordinator) deadLetter(ctx context.Context, j *job.Job, workflowName string, r *UnitResult) (*dlq.Entry, error) {
	if c.dlq == nil {
		return nil, nil
	}
	ju := j.Units[r.Key]
	entry, err := c.dlq.Push(ctx, dlq.Failure{
		JobID:     j.ID,
		UnitKey:   r.Key,
		Workflow:  workflowName,
		Item:      ju.Item,
		SessionID: r.SessionID,
		Attempts:  ju.Attempts,
		Err:       r.Err,
	})
	if err != nil {
		return nil, fmt.Errorf("conductor/coordinator: dead-letter %s: %w", r.Key, err)
	}
	c.logger.Warn("unit moved to DLQ",
		slog.String("job_id", j.ID.String()),
		slog.String("unit", r.Key),
		slog.String("dlq_id", entry.ID.String()),
	)
	c.extensions.EmitUnitDLQ(ctx, entry)
	return entry, nil
}

// finish records the job's terminal status.
func (c *Coordinator) finish(ctx context.Context, cp *jobCheckpoint, code orchestrator.Code, cause error) error {
	return cp.save(ctx, func(j *job.Job) {
		switch code {
		case orchestrator.CodeCompleted:
			j.Status = job.StatusCompleted
		case orchestrator.CodeInterrupted:
			j.Status = job.StatusInterrupted
		default:
			j.Status = job.StatusFailed
		}
		if cause != nil {
			j.Error = cause.Error()
		}
		c.logger.Info("mapreduce finished",
			slog.String("job_id", j.ID.String()),
			slog.String("status", string(j.Status)),
		)
	})
}

// ReplayDLQ reruns a dead-lettered item as a fresh unit of plan and marks
// the entry replayed when the unit succeeds.
func (c *Coordinator) ReplayDLQ(ctx context.Context, entryID id.DLQID, plan *workflow.Plan, vars map[string]string) (*UnitResult, error) {
	if c.dlq == nil {
		return nil, conductor.ErrNoStore
	}
	var res *UnitResult
	_, err := c.dlq.Replay(ctx, entryID, func(ctx context.Context, e *dlq.Entry) error {
		uvars := maps.Clone(vars)
		if uvars == nil {
			uvars = map[string]string{}
		}
		maps.Copy(uvars, ItemVariables(e.Item))
		res = c.runUnit(ctx, plan, Unit{
			Key:       e.UnitKey,
			Variables: uvars,
			Labels:    map[string]string{"job": e.JobID.String(), "replay": e.ID.String()},
		})
		if !res.Succeeded() {
			return fmt.Errorf("unit %s ended %s", e.UnitKey, res.Code)
		}
		return nil
	})
	return res, err
}

func phaseError(phase string, r *orchestrator.Report) error {
	if r.Err != nil {
		return fmt.Errorf("%s phase %s: %w", phase, r.Code, r.Err)
	}
	return fmt.Errorf("%s phase %s", phase, r.Code)
}

// ItemVariables exposes a work item to the agent workflow. The raw JSON is
// bound to "item"; a top-level object field f is bound to "item.f", with
// strings unquoted and other values as JSON.
func ItemVariables(item json.RawMessage) map[string]string {
	vars := map[string]string{"item": string(item)}

	var s string
	if json.Unmarshal(item, &s) == nil {
		vars["item"] = s
		return vars
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(item, &fields) != nil {
		return vars
	}
	for k, v := range fields {
		if json.Unmarshal(v, &s) == nil {
			vars["item."+k] = s
			continue
		}
		vars["item."+k] = string(v)
	}
	return vars
}

// jobCheckpoint serializes mutations and saves of a job shared by
// concurrent units.
type jobCheckpoint struct {
	mu    sync.Mutex
	store job.Store
	job   *job.Job
}

func (cp *jobCheckpoint) save(ctx context.Context, mutate func(j *job.Job)) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	mutate(cp.job)
	cp.job.UpdatedAt = time.Now().UTC()
	if err := cp.store.SaveJob(ctx, cp.job.Clone()); err != nil {
		return fmt.Errorf("conductor/coordinator: checkpoint job %s: %w", cp.job.ID, err)
	}
	return nil
}

func (cp *jobCheckpoint) counts() job.Counts {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.job.Counts()
}

func (cp *jobCheckpoint) variables() map[string]string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return maps.Clone(cp.job.Variables)
}
