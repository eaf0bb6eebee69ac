package job

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"bqflow/internal/domain"
)

const cancelTimeout = 30 * time.Second

// Runner submits jobs to the warehouse and waits for them with a Poller.
// The two submission modes differ only in how the job is created.
type Runner struct {
	wh            domain.Warehouse
	poller        *Poller
	logger        *slog.Logger
	metrics       *Metrics
	cancelOnAbort bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCancelOnAbort asks the warehouse to cancel a job whose wait ended by
// timeout or context cancellation.
func WithCancelOnAbort(enabled bool) RunnerOption {
	return func(r *Runner) { r.cancelOnAbort = enabled }
}

// WithRunnerMetrics records submissions.
func WithRunnerMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner.
func NewRunner(wh domain.Warehouse, poller *Poller, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{wh: wh, poller: poller, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Warehouse returns the warehouse jobs are submitted to.
func (r *Runner) Warehouse() domain.Warehouse { return r.wh }

// RunQuery submits query once and waits for it to finish.
func (r *Runner) RunQuery(ctx context.Context, task, query string, timeout time.Duration) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrValidation("%s: query is empty", task)
	}

	r.logger.Info("query", "task", task, "sql", query)
	jobID, err := r.wh.Query(ctx, query)
	r.metrics.observeSubmission("query", err)
	if err != nil {
		return nil, &domain.SubmissionError{Task: task, Err: err}
	}
	return r.await(ctx, task, jobID, timeout)
}

// SaveAsTable submits a query whose result is written into req.Dataset.req.Table
// and waits for it to finish. Dispositions are passed through unchanged.
func (r *Runner) SaveAsTable(ctx context.Context, task string, req domain.WriteRequest, timeout time.Duration) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.logger.Info("query", "task", task, "sql", req.Query,
		"destination", req.Dataset+"."+req.Table,
		"create_disposition", req.CreateDisposition,
		"write_disposition", req.WriteDisposition,
	)
	jobID, err := r.wh.WriteToTable(ctx, req)
	r.metrics.observeSubmission("write_to_table", err)
	if err != nil {
		return nil, &domain.SubmissionError{Task: task, Err: err}
	}
	return r.await(ctx, task, jobID, timeout)
}

func (r *Runner) await(ctx context.Context, task, jobID string, timeout time.Duration) (*Result, error) {
	logger := r.logger.With("task", task, "job_id", jobID)
	logger.Info("bigquery job submitted")

	status, err := r.poller.Await(ctx, task, jobID, timeout)
	if err != nil {
		r.abort(logger, jobID, err)
		return nil, err
	}

	logger.Info("bigquery job result", "result_size", status.ResultSize)
	return NewResult(r.wh, jobID, status.ResultSize), nil
}

// abort cancels the remote job after a timeout or cancellation. Best effort.
func (r *Runner) abort(logger *slog.Logger, jobID string, cause error) {
	if !r.cancelOnAbort {
		return
	}
	var timeoutErr *domain.QueryTimeoutError
	if !errors.As(cause, &timeoutErr) &&
		!errors.Is(cause, context.Canceled) &&
		!errors.Is(cause, context.DeadlineExceeded) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := r.wh.CancelJob(ctx, jobID); err != nil {
		logger.Warn("cancel bigquery job failed", "error", err)
		return
	}
	logger.Info("cancelled bigquery job")
}
