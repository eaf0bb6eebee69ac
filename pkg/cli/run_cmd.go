package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"bqflow/internal/domain"
	"bqflow/internal/pipeline"
)

func newRunCmd(g *globals) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "run [query...]",
		Short: "Run a pipeline, or only the named queries and their requirements",
		Example: `  bqflow run -f pipelines/sales.yaml
  bqflow run -f pipelines/sales.yaml report`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = g.profile.Pipeline
			}
			if file == "" {
				return fmt.Errorf("no pipeline file: pass -f or set 'pipeline' in the profile")
			}
			def, err := pipeline.LoadFile(file)
			if err != nil {
				return err
			}
			if !g.templateDirSet() {
				g.cfg.TemplateDir = filepath.Dir(file)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, g, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := def.Build(a.env, args...)
			if err != nil {
				return err
			}
			run, runErr := a.exec.Run(ctx, def.Name, domain.TriggerTypeManual, tasks...)
			if run == nil {
				return runErr
			}
			if err := printRunSummary(cmd, a, run.ID); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Pipeline definition (YAML)")
	return cmd
}

// printRunSummary prints the recorded task outcomes of a run.
func printRunSummary(cmd *cobra.Command, a *app, runID string) error {
	ctx := cmd.Context()
	run, err := a.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	trs, err := a.runs.ListTaskRuns(ctx, runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if getOutputFormat(cmd) == "json" {
		return printJSON(out, map[string]any{"run": runJSON(*run), "tasks": taskRunsJSON(trs)})
	}
	if err := printTaskRuns(out, trs); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "\nrun %s: %s\n", run.ID, run.Status)
	return err
}
