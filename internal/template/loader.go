// Package template renders query text from template files and Starlark scripts.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/flosch/pongo2/v6"

	"bqflow/internal/domain"
)

// jinjaLoopVar matches Jinja's loop object. pongo2 resolves the unknown name
// to an empty string, so such a template would render wrong SQL silently.
var jinjaLoopVar = regexp.MustCompile(`\bloop\.(index0?|revindex0?|first|last|length|cycle|depth0?|previtem|nextitem|changed)\b`)

// Loader renders query templates found under a base directory.
//
// Templates use the pongo2 (Django) dialect: {{ var }}, {% if %}, {% for %},
// filter arguments after a colon ({{ cols|join:", " }}) and forloop.Counter
// inside loops. Jinja-only syntax such as join(", ") is a parse error and
// Jinja's loop.index is rejected when the template is loaded. Files are read
// on every Render, so edits take effect without a restart.
type Loader struct {
	dir string
	set *pongo2.TemplateSet
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string) (*Loader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve template dir %q: %w", dir, err)
	}
	fsLoader, err := pongo2.NewLocalFileSystemLoader(abs)
	if err != nil {
		return nil, fmt.Errorf("open template dir %q: %w", dir, err)
	}
	return &Loader{dir: abs, set: pongo2.NewSet("bqflow", fsLoader)}, nil
}

// Dir returns the absolute base directory.
func (l *Loader) Dir() string { return l.dir }

// Render loads source relative to the base directory and renders it with
// vars plus "task" bound to task. A variable named "task" is shadowed.
func (l *Loader) Render(source string, task any, vars map[string]any) (string, error) {
	path := source
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, source)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return "", &domain.TemplateError{Source: source, Err: err}
	}
	if m := jinjaLoopVar.Find(body); m != nil {
		return "", &domain.TemplateError{
			Source: source,
			Err:    fmt.Errorf("%s is Jinja syntax; use forloop.Counter, forloop.Counter0, forloop.First or forloop.Last", m),
		}
	}

	tpl, err := l.set.FromFile(source)
	if err != nil {
		return "", &domain.TemplateError{Source: source, Err: err}
	}
	out, err := tpl.Execute(renderContext(task, vars))
	if err != nil {
		return "", &domain.TemplateError{Source: source, Err: err}
	}
	return out, nil
}

func renderContext(task any, vars map[string]any) pongo2.Context {
	ctx := make(pongo2.Context, len(vars)+1)
	for k, v := range vars {
		ctx[k] = v
	}
	ctx["task"] = task
	return ctx
}
