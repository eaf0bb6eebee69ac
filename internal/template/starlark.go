package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"bqflow/internal/domain"
)

const (
	defaultScriptMaxSteps = uint64(1_000_000)
	defaultScriptTimeout  = 5 * time.Second
	maxScriptBytes        = 512 * 1024
	maxScriptOutputBytes  = 1024 * 1024
	scriptEntryPoint      = "query"
)

// Identified is the part of a task a script can see.
type Identified interface {
	ID() string
}

// Scripts evaluates Starlark query scripts. A script defines
//
//	def query(task, vars):
//	    return "SELECT ..."
//
// and is called once per render with task.id and the variables as a dict.
type Scripts struct {
	dir      string
	maxSteps uint64
	timeout  time.Duration
}

// NewScripts creates a Scripts evaluator rooted at dir.
func NewScripts(dir string) *Scripts {
	return &Scripts{dir: dir, maxSteps: defaultScriptMaxSteps, timeout: defaultScriptTimeout}
}

// Render runs the query function of the script at source and returns its SQL.
func (s *Scripts) Render(source string, task Identified, vars map[string]any) (string, error) {
	sql, err := s.render(source, task, vars)
	if err != nil {
		return "", &domain.TemplateError{Source: source, Err: err}
	}
	return sql, nil
}

func (s *Scripts) render(source string, task Identified, vars map[string]any) (string, error) {
	path := source
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dir, source)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(src) > maxScriptBytes {
		return "", domain.ErrValidation("script exceeds %d bytes", maxScriptBytes)
	}

	varsDict, err := toStarlarkDict(vars)
	if err != nil {
		return "", err
	}
	taskValue := starlarkstruct.FromStringDict(starlark.String("task"), starlark.StringDict{
		"id": starlark.String(task.ID()),
	})

	thread := &starlark.Thread{Name: "query-script"}
	thread.SetMaxExecutionSteps(s.maxSteps)

	var result starlark.Value
	err = runWithTimeout(thread, s.timeout, func() error {
		globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, filepath.Base(source), src, nil)
		if err != nil {
			return err
		}
		fn, ok := globals[scriptEntryPoint]
		if !ok {
			return domain.ErrValidation("script does not define %s(task, vars)", scriptEntryPoint)
		}
		if _, ok := fn.(starlark.Callable); !ok {
			return domain.ErrValidation("%s is a %s, not a function", scriptEntryPoint, fn.Type())
		}
		result, err = starlark.Call(thread, fn, starlark.Tuple{taskValue, varsDict}, nil)
		return err
	})
	if err != nil {
		return "", err
	}

	text, ok := starlark.AsString(result)
	if !ok {
		return "", domain.ErrValidation("%s must return a string, got %s", scriptEntryPoint, result.Type())
	}
	if len(text) > maxScriptOutputBytes {
		return "", domain.ErrValidation("script output exceeds %d bytes", maxScriptOutputBytes)
	}
	return text, nil
}

func runWithTimeout(thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return fn()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		thread.Cancel("script timed out")
		<-done
		return domain.ErrValidation("script timed out after %s", timeout)
	}
}

func toStarlarkDict(vars map[string]any) (*starlark.Dict, error) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := starlark.NewDict(len(vars))
	for _, k := range keys {
		v, err := toStarlark(vars[k])
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", k, err)
		}
		if err := d.SetKey(starlark.String(k), v); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(x), nil
	case bool:
		return starlark.Bool(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case uint64:
		return starlark.MakeUint64(x), nil
	case float64:
		return starlark.Float(x), nil
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			sv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case []string:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			elems[i] = starlark.String(e)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		return toStarlarkDict(x)
	default:
		return nil, domain.ErrValidation("unsupported variable type %T", v)
	}
}
