package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xraph/conductor/coordinator"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/workflow"
)

// loadMapReduce loads and compiles a MapReduce workflow.
func loadMapReduce(path string) (*workflow.MapReducePlan, error) {
	def, err := workflow.Load(path)
	if err != nil {
		return nil, err
	}
	if def.MapReduce == nil {
		return nil, fmt.Errorf("%s has no mapreduce block; use conductor run", path)
	}
	mr, err := workflow.CompileMapReduce(def)
	if err != nil {
		return nil, err
	}
	return mr, nil
}

func (a *app) mapCmd() *cobra.Command {
	var (
		jobID   string
		vars    []string
		workDir string
	)
	cmd := &cobra.Command{
		Use:   "map <workflow.yml>",
		Short: "Run or resume a MapReduce workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseVars(vars)
			if err != nil {
				return err
			}
			mr, err := loadMapReduce(args[0])
			if err != nil {
				return err
			}
			items, err := workflow.Items(mr, filepath.Dir(args[0]))
			if err != nil {
				return err
			}
			opts := coordinator.MapReduceOptions{Variables: inputs, WorkDir: workDir}
			if jobID != "" {
				if opts.JobID, err = id.ParseJobID(jobID); err != nil {
					return exitWith(orchestrator.CodeNotFound, err)
				}
			}

			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer a.stop(ctx, eng)

			res, err := eng.MapReduce(ctx, mr, items, opts)
			if err != nil {
				return exitWith(orchestrator.CodeOf(err), err)
			}

			j := res.Job
			fmt.Fprintf(a.out, "job %s (%s): %s\n", j.ID, j.Workflow, j.Status)
			if res.Map != nil {
				fmt.Fprintf(a.out, "map: %s\n", res.Map.Summary())
			}
			if len(res.DLQ) > 0 {
				fmt.Fprintf(a.out, "%d unit(s) moved to the dead letter queue; inspect with: conductor dlq list --job %s\n", len(res.DLQ), j.ID)
			}
			if j.Error != "" {
				fmt.Fprintf(a.out, "last error: %s\n", j.Error)
			}

			switch j.Status {
			case job.StatusCompleted:
				return nil
			case job.StatusInterrupted:
				fmt.Fprintf(a.out, "resume with: conductor map %s --job %s\n", args[0], j.ID)
				return exitWith(orchestrator.CodeInterrupted, nil)
			default:
				fmt.Fprintf(a.out, "retry failed units with: conductor map %s --job %s\n", args[0], j.ID)
				return exitWith(orchestrator.CodeFailed, nil)
			}
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "resume the given job")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "workflow variable as key=value (repeatable)")
	cmd.Flags().StringVar(&workDir, "workdir", "", "working directory for the setup and reduce phases")
	return cmd
}

func (a *app) dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered MapReduce units",
	}
	cmd.AddCommand(a.dlqListCmd(), a.dlqReplayCmd())
	return cmd
}

func (a *app) dlqListCmd() *cobra.Command {
	var (
		jobID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered units, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := dlq.ListOpts{Limit: limit}
			if jobID != "" {
				var err error
				if opts.JobID, err = id.ParseJobID(jobID); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer a.stop(ctx, eng)

			entries, err := eng.ListDLQ(ctx, opts)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "dead letter queue is empty")
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tJOB\tWORKFLOW\tITEM\tATTEMPTS\tREPLAYED\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%v\t%s\n",
					e.ID, e.JobID, e.Workflow, oneLine(string(e.Item)), e.Attempts, e.Replayed(), oneLine(e.Error))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "only entries of this job")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (0 is all)")
	return cmd
}

func (a *app) dlqReplayCmd() *cobra.Command {
	var workflowPath string
	cmd := &cobra.Command{
		Use:   "replay <dlq-id>",
		Short: "Rerun a dead-lettered unit as a fresh session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflowPath == "" {
				return errors.New("--workflow is required")
			}
			entryID, err := id.ParseDLQID(args[0])
			if err != nil {
				return exitWith(orchestrator.CodeNotFound, err)
			}
			mr, err := loadMapReduce(workflowPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer a.stop(ctx, eng)

			eng.RegisterMapReduce(mr)
			unit, err := eng.ReplayDLQ(ctx, entryID)
			if unit != nil {
				fmt.Fprintf(a.out, "unit %s: %s (session %s)\n", unit.Key, unit.Code, unit.SessionID)
			}
			if err != nil {
				code := orchestrator.CodeOf(err)
				if unit != nil && !unit.Succeeded() {
					code = unit.Code
				}
				return exitWith(code, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowPath, "workflow", "", "MapReduce workflow file the entry came from")
	return cmd
}
