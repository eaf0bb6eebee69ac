// Package cli implements the bqflow command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"bqflow/internal/config"
	"bqflow/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]any{
				"error": err.Error(),
				"kind":  errorKind(err),
			})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// errorKind names the error class for machine-readable output.
func errorKind(err error) string {
	var (
		timeoutErr    *domain.QueryTimeoutError
		submissionErr *domain.SubmissionError
		templateErr   *domain.TemplateError
		validationErr *domain.ValidationError
		notFoundErr   *domain.NotFoundError
		conflictErr   *domain.ConflictError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &submissionErr):
		return "submission"
	case errors.As(err, &templateErr):
		return "template"
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.As(err, &conflictErr):
		return "conflict"
	}
	return "internal"
}

// globals is the state resolved by the root command before any subcommand runs.
type globals struct {
	profileName string
	output      string
	logLevel    string
	templateDir string

	profile Profile
	cfg     *config.Config
	logger  *slog.Logger

	// Overridable for tests.
	warehouse domain.Warehouse
	registry  *prometheus.Registry
}

type rootOption func(*globals)

// withWarehouse replaces the BigQuery client.
func withWarehouse(wh domain.Warehouse) rootOption {
	return func(g *globals) { g.warehouse = wh }
}

func newRootCmd(opts ...rootOption) *cobra.Command {
	g := &globals{}
	for _, opt := range opts {
		opt(g)
	}

	rootCmd := &cobra.Command{
		Use:           "bqflow",
		Short:         "BigQuery task runner",
		Long:          "Runs dependency-ordered BigQuery pipelines: datasets, tables and templated queries.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.resolve(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&g.profileName, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.templateDir, "template-dir", "", "Base directory for query templates and scripts")

	rootCmd.AddCommand(newRunCmd(g))
	rootCmd.AddCommand(newRenderCmd(g))
	rootCmd.AddCommand(newScheduleCmd(g))
	rootCmd.AddCommand(newRunsCmd(g))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolve applies precedence flag > env > profile > default and builds the
// config and logger.
func (g *globals) resolve(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	uc, err := LoadUserConfig()
	if err != nil {
		return err
	}
	g.profile, err = uc.ActiveProfile(g.profileName)
	if err != nil {
		return err
	}
	if err := g.profile.applyEnv(); err != nil {
		return err
	}

	if !cmd.Flags().Changed("output") {
		if v := os.Getenv("BQFLOW_OUTPUT"); v != "" {
			g.output = v
		} else if g.profile.Output != "" {
			g.output = g.profile.Output
		}
	}
	if err := validateOutputFormat(g.output); err != nil {
		return err
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.templateDir != "" {
		cfg.TemplateDir = g.templateDir
	}
	g.cfg = cfg
	g.logger = cfg.NewLogger(cmd.ErrOrStderr())
	for _, w := range cfg.Warnings {
		g.logger.Warn(w)
	}
	return nil
}

// templateDirSet reports whether the template directory was configured
// explicitly rather than left at its default.
func (g *globals) templateDirSet() bool {
	return g.templateDir != "" || os.Getenv("TEMPLATE_DIR") != ""
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
