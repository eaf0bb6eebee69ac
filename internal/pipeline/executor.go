package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bqflow/internal/domain"
	"bqflow/internal/job"
	"bqflow/internal/task"
)

// DefaultMaxParallel bounds the tasks running at once within a level.
const DefaultMaxParallel = 4

// resultHolder is implemented by tasks that keep the handle of their job.
type resultHolder interface {
	LastResult() *job.Result
}

// savedState is implemented by targets that persist the job behind an output.
type savedState interface {
	Load(ctx context.Context) (*domain.ResultState, error)
}

// Executor runs task graphs and records every run in a RunRepository.
type Executor struct {
	runs        domain.RunRepository
	logger      *slog.Logger
	maxParallel int
	now         func() time.Time
}

// NewExecutor creates an Executor. maxParallel <= 0 uses DefaultMaxParallel.
func NewExecutor(runs domain.RunRepository, logger *slog.Logger, maxParallel int) *Executor {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Executor{runs: runs, logger: logger, maxParallel: maxParallel, now: time.Now}
}

// Run executes roots and their requirements level by level. A task whose
// output already exists is recorded as DONE without running. Tasks of one
// level run concurrently; once a level has a failure, every later level is
// recorded as SKIPPED. The returned error wraps the first task failure.
func (e *Executor) Run(ctx context.Context, pipeline, trigger string, roots ...task.Task) (run *domain.PipelineRun, err error) {
	levels, err := ResolveExecutionOrder(roots)
	if err != nil {
		return nil, err
	}

	run, err = e.runs.CreateRun(ctx, &domain.PipelineRun{
		ID:          domain.NewID(),
		Pipeline:    pipeline,
		Status:      domain.PipelineRunStatusRunning,
		TriggerType: trigger,
		StartedAt:   e.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	logger := e.logger.With("run_id", run.ID, "pipeline", pipeline)
	logger.Info("pipeline run started", "tasks", countTasks(levels), "levels", len(levels))

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			logger.Error("pipeline run panicked", "error", msg)
			e.finish(logger, run, domain.PipelineRunStatusFailed, &msg)
			err = errors.New(msg)
		}
	}()

	var firstErr error
	for _, level := range levels {
		if firstErr != nil {
			for _, t := range level {
				msg := "upstream task failed"
				e.record(ctx, logger, &domain.TaskRun{
					RunID: run.ID, TaskID: t.ID(), Status: domain.TaskRunStatusSkipped,
					ErrorMessage: &msg, StartedAt: e.now(),
				})
			}
			continue
		}

		var (
			g  errgroup.Group
			mu sync.Mutex
		)
		g.SetLimit(e.maxParallel)
		for _, t := range level {
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("%s: panic: %v", t.ID(), r)
					}
					if err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
					}
				}()
				return e.execute(ctx, logger, run.ID, t)
			})
		}
		_ = g.Wait() // failures are collected in firstErr
	}

	if firstErr != nil {
		msg := firstErr.Error()
		e.finish(logger, run, domain.PipelineRunStatusFailed, &msg)
		return run, fmt.Errorf("pipeline %s: %w", pipeline, firstErr)
	}
	e.finish(logger, run, domain.PipelineRunStatusSuccess, nil)
	return run, nil
}

// execute runs one task unless its output exists and records the outcome.
func (e *Executor) execute(ctx context.Context, logger *slog.Logger, runID string, t task.Task) error {
	logger = logger.With("task", t.ID())
	started := e.now()
	tr := &domain.TaskRun{RunID: runID, TaskID: t.ID(), StartedAt: started}

	if out := t.Output(); out != nil {
		done, err := out.Exists(ctx)
		if err != nil {
			return e.fail(ctx, logger, tr, err)
		}
		if done {
			logger.Info("task already done")
			if ss, ok := out.(savedState); ok {
				st, err := ss.Load(ctx)
				if err != nil {
					logger.Warn("could not load saved result state", "error", err)
				} else if st != nil {
					tr.JobID = &st.JobID
					tr.ResultSize = &st.ResultSize
				}
			}
			tr.Status = domain.TaskRunStatusDone
			tr.FinishedAt = &started
			e.record(ctx, logger, tr)
			return nil
		}
	}

	logger.Info("task started")
	if err := t.Run(ctx); err != nil {
		if rh, ok := t.(resultHolder); ok {
			annotate(tr, rh.LastResult())
		}
		return e.fail(ctx, logger, tr, err)
	}
	if rh, ok := t.(resultHolder); ok {
		annotate(tr, rh.LastResult())
	}

	finished := e.now()
	tr.FinishedAt = &finished
	tr.Status = domain.TaskRunStatusSuccess
	e.record(ctx, logger, tr)
	logger.Info("task finished", "duration", finished.Sub(started))
	return nil
}

func (e *Executor) fail(ctx context.Context, logger *slog.Logger, tr *domain.TaskRun, err error) error {
	msg := err.Error()
	finished := e.now()
	tr.Status = domain.TaskRunStatusFailed
	tr.ErrorMessage = &msg
	tr.FinishedAt = &finished
	e.record(ctx, logger, tr)

	var timeoutErr *domain.QueryTimeoutError
	if errors.As(err, &timeoutErr) {
		logger.Error("task timed out", "job_id", timeoutErr.JobID, "timeout", timeoutErr.Timeout)
	} else {
		logger.Error("task failed", "error", err)
	}
	return fmt.Errorf("%s: %w", tr.TaskID, err)
}

func annotate(tr *domain.TaskRun, res *job.Result) {
	if res == nil {
		return
	}
	jobID := res.JobID()
	size := res.ResultSize()
	tr.JobID = &jobID
	tr.ResultSize = &size
}

// record persists tr. Failures to record are logged, never fatal to the run.
func (e *Executor) record(ctx context.Context, logger *slog.Logger, tr *domain.TaskRun) {
	if tr.ID == "" {
		tr.ID = domain.NewID()
	}
	if err := e.runs.RecordTaskRun(context.WithoutCancel(ctx), tr); err != nil {
		logger.Warn("failed to record task run", "task", tr.TaskID, "error", err)
	}
}

func (e *Executor) finish(logger *slog.Logger, run *domain.PipelineRun, status string, msg *string) {
	finished := e.now()
	run.Status = status
	run.ErrorMessage = msg
	run.FinishedAt = &finished
	if err := e.runs.FinishRun(context.Background(), run.ID, status, msg); err != nil {
		logger.Warn("failed to finish run", "error", err)
	}
	logger.Info("pipeline run finished", "status", status)
}

func countTasks(levels [][]task.Task) int {
	n := 0
	for _, l := range levels {
		n += len(l)
	}
	return n
}
