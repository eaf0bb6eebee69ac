package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bqflow/internal/task"
	"bqflow/internal/template"
)

func newRenderCmd(g *globals) *cobra.Command {
	var (
		vars   []string
		taskID string
	)

	cmd := &cobra.Command{
		Use:   "render <source>",
		Short: "Render a query template or Starlark script to stdout",
		Example: `  bqflow render report.sql.j2 --var region=us --var limit=10
  bqflow render daily.star --task-id daily`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			values, err := parseVars(vars)
			if err != nil {
				return err
			}
			if taskID == "" {
				taskID = strings.SplitN(filepath.Base(source), ".", 2)[0]
			}

			var q task.Querier
			if filepath.Ext(source) == ".star" {
				q = task.NewScriptQuery(template.NewScripts(g.cfg.TemplateDir), source, values)
			} else {
				loader, err := template.NewLoader(g.cfg.TemplateDir)
				if err != nil {
					return err
				}
				q = task.NewTemplateQuery(loader, source, values)
			}

			env := &task.Env{Logger: g.logger}
			sql, err := q.Query(cmd.Context(), task.NewQueryTask(env, taskID, q))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(sql, "\n"))
			return err
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Template variable as key=value (repeatable; values are YAML scalars)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Name of the task the template sees (default: source file stem)")
	return cmd
}

// parseVars turns key=value pairs into template variables. Values are
// decoded as YAML so numbers, booleans and lists keep their types.
func parseVars(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: want key=value", p)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid --var %q: %w", p, err)
		}
		if v == nil && raw != "null" && raw != "~" {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
