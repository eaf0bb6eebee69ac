package task

import (
	"context"
	"fmt"
	"slices"
	"time"

	"bqflow/internal/domain"
	"bqflow/internal/job"
)

// QueryOption configures a QueryTask.
type QueryOption func(*QueryTask)

// WithTimeout overrides the environment's query timeout. Zero polls until
// the job completes.
func WithTimeout(d time.Duration) QueryOption {
	return func(t *QueryTask) { t.Timeout = d }
}

// WithDebug prints a preview of the result after the query finishes.
func WithDebug(debug bool) QueryOption {
	return func(t *QueryTask) { t.Debug = debug }
}

// WithResult saves the result reference into target. The target becomes the
// task's output, so the query is skipped once the state exists.
func WithResult(target *ResultTarget) QueryOption {
	return func(t *QueryTask) { t.Result = target }
}

// WithRequires adds upstream tasks.
func WithRequires(deps ...Task) QueryOption {
	return func(t *QueryTask) { t.Deps = append(t.Deps, deps...) }
}

// QueryTask runs a query and waits for its result.
type QueryTask struct {
	env     *Env
	Name    string
	Querier Querier
	Timeout time.Duration
	Debug   bool
	Result  *ResultTarget
	Deps    []Task

	result *job.Result
}

// NewQueryTask creates a QueryTask. The timeout defaults to env.Timeout.
func NewQueryTask(env *Env, name string, q Querier, opts ...QueryOption) *QueryTask {
	t := &QueryTask{env: env, Name: name, Querier: q, Timeout: env.Timeout}
	for _, opt := range opts {
		opt(t)
	}
	t.Deps = slices.Clone(t.Deps)
	return t
}

// ID implements Task.
func (t *QueryTask) ID() string { return fmt.Sprintf("QueryTask(name=%s)", t.Name) }

// Requires implements Task.
func (t *QueryTask) Requires() []Task { return t.Deps }

// Output implements Task. It is nil unless a result target was configured.
func (t *QueryTask) Output() Target {
	if t.Result == nil {
		return nil
	}
	return t.Result
}

// LastResult returns the handle of the last successful run, or nil.
func (t *QueryTask) LastResult() *job.Result { return t.result }

// Run submits the query, waits for it, then saves and previews the result.
func (t *QueryTask) Run(ctx context.Context) error {
	query, err := t.Querier.Query(ctx, t)
	if err != nil {
		return err
	}
	res, err := t.env.Runner.RunQuery(ctx, t.ID(), query, t.Timeout)
	if err != nil {
		return err
	}
	t.result = res
	return t.finish(ctx, t.ID(), res)
}

func (t *QueryTask) finish(ctx context.Context, id string, res *job.Result) error {
	if t.Result != nil {
		if err := t.Result.Save(ctx, res.State(t.env.now())); err != nil {
			return err
		}
	}
	if t.Debug {
		if err := res.Preview(ctx, t.env.out(), t.env.previewRows(), t.env.previewWidth()); err != nil {
			t.env.Logger.Warn("debug preview failed", "task", id, "error", err)
		}
	}
	return nil
}

// QueryTableTask runs a query and writes its result into a destination table.
type QueryTableTask struct {
	*QueryTask
	Destination       Destination
	CreateDisposition domain.CreateDisposition
	WriteDisposition  domain.WriteDisposition
}

// NewQueryTableTask creates a QueryTableTask with CREATE_IF_NEEDED and
// WRITE_EMPTY dispositions unless overridden. Result targets do not apply;
// the destination table is the output.
func NewQueryTableTask(env *Env, name string, q Querier, dest Destination, opts ...QueryOption) *QueryTableTask {
	qt := NewQueryTask(env, name, q, opts...)
	qt.Result = nil
	return &QueryTableTask{
		QueryTask:         qt,
		Destination:       dest,
		CreateDisposition: domain.CreateIfNeeded,
		WriteDisposition:  domain.WriteEmpty,
	}
}

// ID implements Task.
func (t *QueryTableTask) ID() string {
	return fmt.Sprintf("QueryTableTask(name=%s, destination=%s.%s)",
		t.Name, t.Destination.Dataset(), t.Destination.Table())
}

// Requires implements Task: the destination dataset plus any extra upstream tasks.
func (t *QueryTableTask) Requires() []Task {
	deps := []Task{NewDatasetTask(t.env, t.Destination.Dataset())}
	return append(deps, t.Deps...)
}

// Output implements Task.
func (t *QueryTableTask) Output() Target {
	return NewTableTarget(t.env.Warehouse(), t.Destination.Dataset(), t.Destination.Table(), false)
}

// Run submits the query with the destination table and waits for it.
func (t *QueryTableTask) Run(ctx context.Context) error {
	query, err := t.Querier.Query(ctx, t)
	if err != nil {
		return err
	}
	res, err := t.env.Runner.SaveAsTable(ctx, t.ID(), domain.WriteRequest{
		Query:             query,
		Dataset:           t.Destination.Dataset(),
		Table:             t.Destination.Table(),
		CreateDisposition: t.CreateDisposition,
		WriteDisposition:  t.WriteDisposition,
		AllowLargeResults: true,
	}, t.Timeout)
	if err != nil {
		return err
	}
	t.result = res
	return t.finish(ctx, t.ID(), res)
}
