package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/session"
	"github.com/xraph/conductor/workflow"
)

// parseVars turns k=v pairs into a variable map.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

func (a *app) runCmd() *cobra.Command {
	var (
		vars    []string
		workDir string
	)
	cmd := &cobra.Command{
		Use:   "run <workflow.yml>",
		Short: "Run a workflow as a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseVars(vars)
			if err != nil {
				return err
			}
			def, err := workflow.Load(args[0])
			if err != nil {
				return err
			}
			if def.MapReduce != nil {
				return fmt.Errorf("%s is a mapreduce workflow; use conductor map", args[0])
			}
			plan, err := workflow.Compile(def)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer a.stop(ctx, eng)

			rep, err := eng.Run(ctx, plan, orchestrator.RunOptions{WorkDir: workDir, Variables: inputs})
			if rep != nil {
				fmt.Fprintln(a.out, rep.Message())
				return exitWith(rep.Code, err)
			}
			return exitWith(orchestrator.CodeOf(err), err)
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "workflow variable as key=value (repeatable)")
	cmd.Flags().StringVar(&workDir, "workdir", "", "working directory for the steps (default: current)")
	return cmd
}

func (a *app) resumeCmd() *cobra.Command {
	var (
		last    bool
		workDir string
	)
	cmd := &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume an interrupted or failed session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if last == (len(args) == 1) {
				return errors.New("pass a session id or --last")
			}
			opts := orchestrator.ResumeOptions{WorkDir: workDir}

			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer a.stop(ctx, eng)

			var rep *orchestrator.Report
			if last {
				rep, err = eng.ResumeLast(ctx, opts)
			} else {
				sid, perr := id.ParseSessionID(args[0])
				if perr != nil {
					return exitWith(orchestrator.CodeNotFound, fmt.Errorf("%w: %v", conductor.ErrSessionNotFound, perr))
				}
				rep, err = eng.Resume(ctx, sid, nil, opts)
			}
			if err != nil {
				return exitWith(orchestrator.CodeOf(err), err)
			}
			fmt.Fprintln(a.out, rep.Message())
			return exitWith(rep.Code, nil)
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "resume the most recently interrupted session")
	cmd.Flags().StringVar(&workDir, "workdir", "", "override the recorded working directory")
	return cmd
}

func (a *app) sessionsCmd() *cobra.Command {
	var (
		resumable bool
		status    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := session.ListOpts{Limit: limit}
			if status != "" {
				if err := opts.Status.UnmarshalText([]byte(status)); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer a.stop(ctx, eng)

			var list []*session.Summary
			if resumable {
				list, err = eng.ListResumable(ctx)
			} else {
				list, err = eng.Sessions(ctx, opts)
			}
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, "no sessions")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tSTEP\tUPDATED\tERROR")
			for _, s := range list {
				if s.Corrupt {
					fmt.Fprintf(w, "%s\t-\tcorrupt\t-\t-\t%s\n", s.ID, s.Error)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					s.ID, s.Workflow, s.Status, s.StepIndex, s.TotalSteps,
					s.UpdatedAt.Local().Format(time.DateTime), oneLine(s.Error))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&resumable, "resumable", false, "only sessions that can be resumed")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of sessions (0 is all)")
	return cmd
}

func oneLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
