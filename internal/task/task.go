// Package task defines the units of work a pipeline is made of: datasets,
// tables and queries, each with an output target that tells whether the work
// is already done.
package task

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"time"

	"bqflow/internal/domain"
	"bqflow/internal/job"
	"bqflow/internal/template"
)

// DefaultPreviewRows bounds the rows fetched for a debug preview.
const DefaultPreviewRows = 20

// Target is the persistent output of a task. A task whose target exists is done.
type Target interface {
	Exists(ctx context.Context) (bool, error)
}

// Task is a unit of work with dependencies and an optional output.
type Task interface {
	// ID identifies the task; equal IDs mean the same work.
	ID() string
	Requires() []Task
	// Output returns nil when the task has no persistent output.
	Output() Target
	Run(ctx context.Context) error
}

// Querier produces the SQL a query task submits.
type Querier interface {
	Query(ctx context.Context, t Task) (string, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(ctx context.Context, t Task) (string, error)

// Query calls f.
func (f QuerierFunc) Query(ctx context.Context, t Task) (string, error) { return f(ctx, t) }

// SQL is literal query text.
type SQL string

// Query returns the text unchanged.
func (s SQL) Query(context.Context, Task) (string, error) { return string(s), nil }

// TemplateQuery renders a template file with per-task variables.
type TemplateQuery struct {
	loader *template.Loader
	source string
	vars   map[string]any
}

// NewTemplateQuery creates a TemplateQuery. vars is copied.
func NewTemplateQuery(loader *template.Loader, source string, vars map[string]any) *TemplateQuery {
	return &TemplateQuery{loader: loader, source: source, vars: maps.Clone(vars)}
}

// Query renders the template with "task" bound to t.
func (q *TemplateQuery) Query(_ context.Context, t Task) (string, error) {
	return q.loader.Render(q.source, t, q.vars)
}

// ScriptQuery evaluates a Starlark query script with per-task variables.
type ScriptQuery struct {
	scripts *template.Scripts
	source  string
	vars    map[string]any
}

// NewScriptQuery creates a ScriptQuery. vars is copied.
func NewScriptQuery(scripts *template.Scripts, source string, vars map[string]any) *ScriptQuery {
	return &ScriptQuery{scripts: scripts, source: source, vars: maps.Clone(vars)}
}

// Query runs the script's query(task, vars) function.
func (q *ScriptQuery) Query(_ context.Context, t Task) (string, error) {
	return q.scripts.Render(q.source, t, q.vars)
}

// Destination names the table a materializing query writes into.
type Destination interface {
	Dataset() string
	Table() string
}

// TableRef is a fixed Destination.
type TableRef struct {
	DatasetID string
	TableID   string
}

// Dataset returns the dataset id.
func (r TableRef) Dataset() string { return r.DatasetID }

// Table returns the table id.
func (r TableRef) Table() string { return r.TableID }

// ParseTableRef parses "dataset.table".
func ParseTableRef(s string) (TableRef, error) {
	ds, tbl, ok := strings.Cut(s, ".")
	if !ok || ds == "" || tbl == "" || strings.Contains(tbl, ".") {
		return TableRef{}, domain.ErrValidation("destination %q must be dataset.table", s)
	}
	return TableRef{DatasetID: ds, TableID: tbl}, nil
}

// Env carries everything tasks need at run time. It is built once at process
// start and shared by every task of a pipeline.
type Env struct {
	Runner       *job.Runner
	Templates    *template.Loader
	Scripts      *template.Scripts
	Store        domain.StateStore // result states
	Logger       *slog.Logger
	Out          io.Writer     // debug previews; os.Stdout when nil
	Timeout      time.Duration // default query timeout; 0 polls until completion
	PreviewRows  int
	PreviewWidth int
	Now          func() time.Time
}

// Warehouse returns the warehouse the runner submits to.
func (e *Env) Warehouse() domain.Warehouse { return e.Runner.Warehouse() }

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) out() io.Writer {
	if e.Out != nil {
		return e.Out
	}
	return os.Stdout
}

func (e *Env) previewRows() int {
	if e.PreviewRows > 0 {
		return e.PreviewRows
	}
	return DefaultPreviewRows
}

func (e *Env) previewWidth() int {
	if e.PreviewWidth > 0 {
		return e.PreviewWidth
	}
	return job.TerminalWidth(int(os.Stdout.Fd()))
}
