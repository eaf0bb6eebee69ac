package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bqflow/internal/domain"
	"bqflow/internal/job"
	"bqflow/internal/task"
	"bqflow/internal/template"
	"bqflow/internal/testutil"
)

const salesYAML = `
name: sales
schedule: "0 3 * * *"
timeout: 30m
datasets: [staging]
tables:
  - dataset: analytics
    table: events
    empty: true
    schema:
      - {name: id, type: INTEGER, mode: REQUIRED}
      - {name: payload, type: STRING}
queries:
  - name: rollup
    sql: SELECT region, SUM(amount) AS total FROM sales GROUP BY region
    destination: analytics.rollup
    create_disposition: CREATE_IF_NEEDED
    write_disposition: WRITE_TRUNCATE
    requires: [analytics.events]
  - name: report
    source: report.sql.j2
    variables:
      region: us
      limit: 10
    timeout: "0"
    debug: true
    result: reports/daily
    requires: [rollup]
`

func newDefinitionEnv(t *testing.T) *task.Env {
	t.Helper()
	wh := &testutil.MockWarehouse{}
	logger := discardLogger()
	loader, err := template.NewLoader(t.TempDir())
	require.NoError(t, err)
	return &task.Env{
		Runner:    job.NewRunner(wh, job.NewPoller(wh, logger), logger),
		Templates: loader,
		Scripts:   template.NewScripts(t.TempDir()),
		Store:     testutil.NewMemStateStore(),
		Logger:    logger,
		Timeout:   time.Hour,
	}
}

func TestParse_BuildsTaskGraph(t *testing.T) {
	def, err := Parse([]byte(salesYAML))
	require.NoError(t, err)
	assert.Equal(t, "sales", def.Name)
	assert.Equal(t, "0 3 * * *", def.Schedule)
	require.Len(t, def.Tables[0].Schema, 2)
	assert.Equal(t, "REQUIRED", def.Tables[0].Schema[0].Mode)

	tasks, err := def.Build(newDefinitionEnv(t))
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	levels, err := ResolveExecutionOrder(tasks)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"DatasetTask(dataset_id=analytics)", "DatasetTask(dataset_id=staging)"},
		{"TableTask(dataset_id=analytics, table_id=events)"},
		{"QueryTableTask(name=rollup, destination=analytics.rollup)"},
		{"QueryTask(name=report)"},
	}, levelIDs(levels))

	rollup, ok := tasks[2].(*task.QueryTableTask)
	require.True(t, ok)
	assert.Equal(t, domain.CreateIfNeeded, rollup.CreateDisposition)
	assert.Equal(t, domain.WriteTruncate, rollup.WriteDisposition)
	assert.Equal(t, 30*time.Minute, rollup.Timeout, "pipeline timeout applies")

	report, ok := tasks[3].(*task.QueryTask)
	require.True(t, ok)
	assert.Zero(t, report.Timeout, "explicit zero disables the deadline")
	assert.True(t, report.Debug)
	require.NotNil(t, report.Result)
	assert.Equal(t, "reports/daily", report.Result.Key)

	table, ok := tasks[1].(*task.TableTask)
	require.True(t, ok)
	assert.True(t, table.Empty)
}

func TestDefinition_BuildSelected(t *testing.T) {
	def, err := Parse([]byte(salesYAML))
	require.NoError(t, err)

	tasks, err := def.Build(newDefinitionEnv(t), "report")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "QueryTask(name=report)", tasks[0].ID())

	_, err = def.Build(newDefinitionEnv(t), "missing")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDefinition_RequiresCycle(t *testing.T) {
	def, err := Parse([]byte(`
name: loop
queries:
  - {name: a, sql: SELECT 1, requires: [b]}
  - {name: b, sql: SELECT 2, requires: [a]}
`))
	require.NoError(t, err)

	tasks, err := def.Build(newDefinitionEnv(t))
	require.NoError(t, err)
	_, err = ResolveExecutionOrder(tasks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{name: "empty", yaml: "", wantMsg: "empty pipeline"},
		{name: "missing name", yaml: "queries: []", wantMsg: "name is required"},
		{name: "unknown key", yaml: "name: x\nretries: 3", wantMsg: "retries"},
		{name: "no source", yaml: "name: x\nqueries: [{name: q}]", wantMsg: "exactly one of"},
		{name: "two sources", yaml: "name: x\nqueries: [{name: q, sql: SELECT 1, source: a.sql}]", wantMsg: "exactly one of"},
		{name: "duplicate query", yaml: "name: x\nqueries: [{name: q, sql: a}, {name: q, sql: b}]", wantMsg: "declared twice"},
		{name: "bad disposition", yaml: "name: x\nqueries: [{name: q, sql: a, destination: d.t, write_disposition: WRITE_SOMETIMES}]", wantMsg: "WRITE_SOMETIMES"},
		{name: "disposition without destination", yaml: "name: x\nqueries: [{name: q, sql: a, write_disposition: WRITE_APPEND}]", wantMsg: "need a destination"},
		{name: "bad destination", yaml: "name: x\nqueries: [{name: q, sql: a, destination: nodot}]", wantMsg: "dataset.table"},
		{name: "result with destination", yaml: "name: x\nqueries: [{name: q, sql: a, destination: d.t, result: k}]", wantMsg: "exclusive"},
		{name: "unknown requirement", yaml: "name: x\nqueries: [{name: q, sql: a, requires: [ghost]}]", wantMsg: "unknown requirement"},
		{name: "self requirement", yaml: "name: x\nqueries: [{name: q, sql: a, requires: [q]}]", wantMsg: "requires itself"},
		{name: "bad timeout", yaml: "name: x\ntimeout: soon", wantMsg: "invalid timeout"},
		{name: "negative timeout", yaml: "name: x\nqueries: [{name: q, sql: a, timeout: '-5'}]", wantMsg: "negative"},
		{name: "table without id", yaml: "name: x\ntables: [{dataset: d}]", wantMsg: "dataset and table are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var valErr *domain.ValidationError
			assert.ErrorAs(t, err, &valErr)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in   string
		want *time.Duration
	}{
		{in: "", want: nil},
		{in: "3600", want: ptr(time.Hour)},
		{in: "0", want: ptr(time.Duration(0))},
		{in: "90s", want: ptr(90 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTimeout(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("name: beta\nqueries: [{name: q, sql: SELECT 1}]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte("name: alpha\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "beta", defs[1].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("name: alpha\n"), 0o644))
	_, err = LoadDir(dir)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestDefinition_BuildNeedsResources(t *testing.T) {
	def, err := Parse([]byte("name: x\nqueries: [{name: q, script: q.star}]"))
	require.NoError(t, err)

	env := newDefinitionEnv(t)
	env.Scripts = nil
	_, err = def.Build(env)
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, err.Error(), "no script runner")
}
