package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bqflow/internal/domain"
	"bqflow/internal/task"
)

// Definition is a pipeline declared in YAML:
//
//	name: sales
//	schedule: "0 3 * * *"
//	datasets: [analytics]
//	tables:
//	  - {dataset: analytics, table: events, empty: true, schema: [{name: id, type: INTEGER}]}
//	queries:
//	  - name: daily
//	    source: daily.sql.j2
//	    variables: {region: us}
//	    destination: analytics.daily
//	    write_disposition: WRITE_TRUNCATE
//	    requires: [analytics.events]
type Definition struct {
	Name     string     `yaml:"name"`
	Schedule string     `yaml:"schedule,omitempty"`
	Timeout  string     `yaml:"timeout,omitempty"`
	Datasets []string   `yaml:"datasets,omitempty"`
	Tables   []TableDef `yaml:"tables,omitempty"`
	Queries  []QueryDef `yaml:"queries,omitempty"`
}

// TableDef declares a table.
type TableDef struct {
	Dataset string         `yaml:"dataset"`
	Table   string         `yaml:"table"`
	Empty   bool           `yaml:"empty,omitempty"`
	Schema  []domain.Field `yaml:"schema,omitempty"`
}

// QueryDef declares a query. Exactly one of SQL, Source and Script is set.
type QueryDef struct {
	Name              string         `yaml:"name"`
	SQL               string         `yaml:"sql,omitempty"`
	Source            string         `yaml:"source,omitempty"`
	Script            string         `yaml:"script,omitempty"`
	Variables         map[string]any `yaml:"variables,omitempty"`
	Timeout           string         `yaml:"timeout,omitempty"`
	Debug             bool           `yaml:"debug,omitempty"`
	Result            string         `yaml:"result,omitempty"`
	Destination       string         `yaml:"destination,omitempty"`
	CreateDisposition string         `yaml:"create_disposition,omitempty"`
	WriteDisposition  string         `yaml:"write_disposition,omitempty"`
	Requires          []string       `yaml:"requires,omitempty"`
}

// Parse decodes and validates a definition. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrValidation("empty pipeline definition")
		}
		return nil, domain.ErrValidation("decode pipeline definition: %v", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads and parses one definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir parses every *.yaml and *.yml file in dir, sorted by file name.
// Pipeline names must be unique.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pipeline dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]string)
	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[def.Name]; ok {
			return nil, domain.ErrConflict("pipeline %q defined in both %s and %s", def.Name, prev, name)
		}
		seen[def.Name] = name
		defs = append(defs, def)
	}
	return defs, nil
}

// Validate checks names, sources, dispositions, timeouts and references.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return domain.ErrValidation("pipeline name is required")
	}
	if _, err := parseTimeout(d.Timeout); err != nil {
		return err
	}

	tables := make(map[string]bool, len(d.Tables))
	for i, t := range d.Tables {
		if t.Dataset == "" || t.Table == "" {
			return domain.ErrValidation("tables[%d]: dataset and table are required", i)
		}
		ref := t.Dataset + "." + t.Table
		if tables[ref] {
			return domain.ErrValidation("table %s declared twice", ref)
		}
		tables[ref] = true
	}

	queries := make(map[string]bool, len(d.Queries))
	for _, q := range d.Queries {
		if q.Name == "" {
			return domain.ErrValidation("query name is required")
		}
		if queries[q.Name] {
			return domain.ErrValidation("query %q declared twice", q.Name)
		}
		queries[q.Name] = true
	}

	for _, q := range d.Queries {
		if err := q.validate(queries, tables); err != nil {
			return err
		}
	}
	return nil
}

func (q *QueryDef) validate(queries, tables map[string]bool) error {
	sources := 0
	for _, s := range []string{q.SQL, q.Source, q.Script} {
		if strings.TrimSpace(s) != "" {
			sources++
		}
	}
	if sources != 1 {
		return domain.ErrValidation("query %q: exactly one of sql, source, script is required", q.Name)
	}
	if _, err := parseTimeout(q.Timeout); err != nil {
		return fmt.Errorf("query %q: %w", q.Name, err)
	}
	if _, err := domain.ParseCreateDisposition(q.CreateDisposition); err != nil {
		return fmt.Errorf("query %q: %w", q.Name, err)
	}
	if _, err := domain.ParseWriteDisposition(q.WriteDisposition); err != nil {
		return fmt.Errorf("query %q: %w", q.Name, err)
	}
	if q.Destination != "" {
		if _, err := task.ParseTableRef(q.Destination); err != nil {
			return fmt.Errorf("query %q: %w", q.Name, err)
		}
		if q.Result != "" {
			return domain.ErrValidation("query %q: result and destination are exclusive", q.Name)
		}
	} else if q.CreateDisposition != "" || q.WriteDisposition != "" {
		return domain.ErrValidation("query %q: dispositions need a destination", q.Name)
	}
	for _, req := range q.Requires {
		if req == q.Name {
			return domain.ErrValidation("query %q requires itself", q.Name)
		}
		if !queries[req] && !tables[req] {
			return domain.ErrValidation("query %q: unknown requirement %q", q.Name, req)
		}
	}
	return nil
}

// parseTimeout accepts a Go duration ("90m") or whole seconds ("3600").
// Empty means unset.
func parseTimeout(s string) (*time.Duration, error) {
	if s == "" {
		return nil, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return nil, domain.ErrValidation("timeout must not be negative: %q", s)
		}
		d := time.Duration(secs) * time.Second
		return &d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return nil, domain.ErrValidation("invalid timeout %q", s)
	}
	return &d, nil
}

// Build turns the definition into tasks. With no names every dataset,
// table and query is returned; otherwise only the named queries (their
// requirements are pulled in by the executor).
func (d *Definition) Build(env *task.Env, names ...string) ([]task.Task, error) {
	timeout, _ := parseTimeout(d.Timeout)
	if timeout != nil {
		scoped := *env
		scoped.Timeout = *timeout
		env = &scoped
	}

	var all []task.Task
	for _, ds := range d.Datasets {
		all = append(all, task.NewDatasetTask(env, ds))
	}
	tables := make(map[string]task.Task, len(d.Tables))
	for _, t := range d.Tables {
		tt := task.NewTableTask(env, t.Dataset, t.Table, t.Schema, t.Empty)
		tables[t.Dataset+"."+t.Table] = tt
		all = append(all, tt)
	}

	queries := make(map[string]builtQuery, len(d.Queries))
	for _, q := range d.Queries {
		b, err := d.buildQuery(env, q)
		if err != nil {
			return nil, err
		}
		queries[q.Name] = b
		all = append(all, b.task)
	}

	// Requirements are wired after every query exists so order in the file
	// does not matter. Cycles surface in ResolveExecutionOrder.
	for _, q := range d.Queries {
		b := queries[q.Name]
		for _, req := range q.Requires {
			if dep, ok := queries[req]; ok {
				b.base.Deps = append(b.base.Deps, dep.task)
				continue
			}
			b.base.Deps = append(b.base.Deps, tables[req])
		}
	}

	if len(names) == 0 {
		return all, nil
	}
	selected := make([]task.Task, 0, len(names))
	for _, name := range names {
		b, ok := queries[name]
		if !ok {
			return nil, domain.ErrNotFound("query %q not found in pipeline %q", name, d.Name)
		}
		selected = append(selected, b.task)
	}
	return selected, nil
}

// builtQuery pairs a query task with the QueryTask whose Deps get wired.
type builtQuery struct {
	task task.Task
	base *task.QueryTask
}

func (d *Definition) buildQuery(env *task.Env, q QueryDef) (builtQuery, error) {
	var out builtQuery

	var querier task.Querier
	switch {
	case q.SQL != "":
		querier = task.SQL(q.SQL)
	case q.Source != "":
		if env.Templates == nil {
			return out, domain.ErrValidation("query %q: no template loader configured", q.Name)
		}
		querier = task.NewTemplateQuery(env.Templates, q.Source, q.Variables)
	default:
		if env.Scripts == nil {
			return out, domain.ErrValidation("query %q: no script runner configured", q.Name)
		}
		querier = task.NewScriptQuery(env.Scripts, q.Script, q.Variables)
	}

	opts := []task.QueryOption{task.WithDebug(q.Debug)}
	if timeout, _ := parseTimeout(q.Timeout); timeout != nil {
		opts = append(opts, task.WithTimeout(*timeout))
	}

	if q.Destination != "" {
		dest, _ := task.ParseTableRef(q.Destination)
		qt := task.NewQueryTableTask(env, q.Name, querier, dest, opts...)
		if q.CreateDisposition != "" {
			qt.CreateDisposition, _ = domain.ParseCreateDisposition(q.CreateDisposition)
		}
		if q.WriteDisposition != "" {
			qt.WriteDisposition, _ = domain.ParseWriteDisposition(q.WriteDisposition)
		}
		out.task, out.base = qt, qt.QueryTask
		return out, nil
	}

	if q.Result != "" {
		if env.Store == nil {
			return out, domain.ErrValidation("query %q: no result store configured", q.Name)
		}
		opts = append(opts, task.WithResult(task.NewResultTarget(env.Store, q.Result)))
	}
	qt := task.NewQueryTask(env, q.Name, querier, opts...)
	out.task, out.base = qt, qt
	return out, nil
}
