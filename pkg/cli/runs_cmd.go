package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"bqflow/internal/db/repository"
	"bqflow/internal/domain"
)

func newRunsCmd(g *globals) *cobra.Command {
	var filter domain.RunFilter

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeFn, err := openHistory(cmd, g)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := repo.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				items := make([]map[string]any, 0, len(runs))
				for _, r := range runs {
					items = append(items, runJSON(r))
				}
				return printJSON(out, items)
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.ID, r.Pipeline, r.Status, r.TriggerType,
					formatTimestamp(&r.StartedAt), formatElapsed(r.StartedAt, r.FinishedAt),
				})
			}
			return printTable(out, []string{"ID", "PIPELINE", "STATUS", "TRIGGER", "STARTED", "DURATION"}, rows)
		},
	}
	cmd.Flags().StringVar(&filter.Pipeline, "pipeline", "", "Only runs of this pipeline")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only runs with this status (running, success, failed)")
	cmd.Flags().IntVar(&filter.Limit, "limit", domain.DefaultRunLimit, "Maximum number of runs")

	cmd.AddCommand(newRunsShowCmd(g))
	return cmd
}

func newRunsShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the task runs of one pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeFn, err := openHistory(cmd, g)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			run, err := repo.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			trs, err := repo.ListTaskRuns(ctx, run.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return printJSON(out, map[string]any{"run": runJSON(*run), "tasks": taskRunsJSON(trs)})
			}
			_, _ = fmt.Fprintf(out, "run %s  pipeline=%s  status=%s  error=%s\n\n",
				run.ID, run.Pipeline, run.Status, orDash(run.ErrorMessage))
			return printTaskRuns(out, trs)
		},
	}
}

// openHistory opens only the run history database.
func openHistory(cmd *cobra.Command, g *globals) (*repository.RunRepo, func(), error) {
	a := &app{cfg: g.cfg, logger: g.logger}
	repo, err := openRunHistory(cmd.Context(), a, g.cfg, g.logger)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return repo, a.Close, nil
}

func printTaskRuns(w io.Writer, trs []domain.TaskRun) error {
	rows := make([][]string, 0, len(trs))
	for _, tr := range trs {
		size := "-"
		if tr.ResultSize != nil {
			size = strconv.FormatInt(*tr.ResultSize, 10)
		}
		rows = append(rows, []string{
			tr.TaskID, tr.Status, orDash(tr.JobID), size,
			formatElapsed(tr.StartedAt, tr.FinishedAt), orDash(tr.ErrorMessage),
		})
	}
	return printTable(w, []string{"TASK", "STATUS", "JOB", "ROWS", "DURATION", "ERROR"}, rows)
}

func runJSON(r domain.PipelineRun) map[string]any {
	return map[string]any{
		"id":            r.ID,
		"pipeline":      r.Pipeline,
		"status":        r.Status,
		"trigger_type":  r.TriggerType,
		"started_at":    r.StartedAt.UTC().Format(time.RFC3339),
		"finished_at":   timeJSON(r.FinishedAt),
		"error_message": r.ErrorMessage,
	}
}

func taskRunsJSON(trs []domain.TaskRun) []map[string]any {
	out := make([]map[string]any, 0, len(trs))
	for _, tr := range trs {
		out = append(out, map[string]any{
			"task_id":       tr.TaskID,
			"status":        tr.Status,
			"job_id":        tr.JobID,
			"result_size":   tr.ResultSize,
			"error_message": tr.ErrorMessage,
			"started_at":    tr.StartedAt.UTC().Format(time.RFC3339),
			"finished_at":   timeJSON(tr.FinishedAt),
		})
	}
	return out
}

func timeJSON(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
