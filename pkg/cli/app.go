package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"bqflow/internal/bigquery"
	"bqflow/internal/config"
	internaldb "bqflow/internal/db"
	"bqflow/internal/db/repository"
	"bqflow/internal/domain"
	"bqflow/internal/job"
	"bqflow/internal/pipeline"
	"bqflow/internal/state"
	"bqflow/internal/task"
	"bqflow/internal/template"
)

// app is the fully wired runtime shared by run and schedule.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	env      *task.Env
	runs     *repository.RunRepo
	exec     *pipeline.Executor
	registry *prometheus.Registry
	closers  []io.Closer
}

// newApp wires the warehouse, runner, template engines, state store and run
// history from the resolved config. out receives debug previews.
func newApp(ctx context.Context, g *globals, out io.Writer) (_ *app, err error) {
	cfg, logger := g.cfg, g.logger
	a := &app{cfg: cfg, logger: logger, registry: g.registry}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}

	wh := g.warehouse
	if wh == nil {
		client := bigquery.New(cfg.BigQuery, logger)
		a.closers = append(a.closers, client)
		wh = client
	}

	runner := newRunner(cfg, wh, logger, job.NewMetrics(a.registry))

	templates, err := template.NewLoader(cfg.TemplateDir)
	if err != nil {
		return nil, err
	}

	store, err := state.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.runs, err = openRunHistory(ctx, a, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.env = &task.Env{
		Runner:    runner,
		Templates: templates,
		Scripts:   template.NewScripts(cfg.TemplateDir),
		Store:     store,
		Logger:    logger,
		Out:       out,
		Timeout:   cfg.Poll.Timeout,
	}
	a.exec = pipeline.NewExecutor(a.runs, logger, cfg.MaxParallel)
	return a, nil
}

// newRunner builds the job runner with the configured poll interval, rate
// limit and cancellation policy.
func newRunner(cfg *config.Config, wh domain.Warehouse, logger *slog.Logger, metrics *job.Metrics) *job.Runner {
	pollOpts := []job.PollerOption{
		job.WithInterval(cfg.Poll.Interval),
		job.WithMetrics(metrics),
	}
	if cfg.Poll.RateLimit > 0 {
		pollOpts = append(pollOpts, job.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Poll.RateLimit), cfg.Poll.Burst)))
	}
	return job.NewRunner(wh, job.NewPoller(wh, logger, pollOpts...), logger,
		job.WithCancelOnAbort(cfg.Poll.CancelOnAbort),
		job.WithRunnerMetrics(metrics),
	)
}

// openRunHistory opens and migrates the SQLite run history. The pools are
// added to a's closers.
func openRunHistory(ctx context.Context, a *app, cfg *config.Config, logger *slog.Logger) (*repository.RunRepo, error) {
	writeDB, readDB, err := internaldb.OpenPair(cfg.MetaDBPath, 4)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	a.closers = append(a.closers, readDB, writeDB)

	if _, err := internaldb.Migrate(ctx, writeDB, logger); err != nil {
		return nil, fmt.Errorf("migrate run history: %w", err)
	}
	return repository.NewRunRepo(writeDB, readDB), nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
