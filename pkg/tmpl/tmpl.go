// Package tmpl renders templates with strict-undefined semantics. A
// variable's value may itself contain template actions, so rendering
// loops until the output stabilizes.
package tmpl

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// maxPasses bounds the re-render loop so a self-referential template
// cannot spin forever.
const maxPasses = 10

// RenderError is returned for syntactically invalid templates and for
// variables that remain undefined after the final pass.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %q: %v", e.Template, e.Err)
	}
	return fmt.Sprintf("render %q: template did not stabilize after %d passes", e.Template, maxPasses)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Render executes text against vars. Undefined variables are a hard
// error. When a pass produces output that still contains template
// actions, introduced by substituting a variable whose value is itself
// a template fragment, the output is parsed and rendered again until a
// pass introduces nothing new.
func Render(text string, vars map[string]any) (string, error) {
	current := text

	for pass := 0; pass < maxPasses; pass++ {
		rendered, err := renderOnce(current, vars)
		if err != nil {
			return "", &RenderError{Template: text, Err: err}
		}
		if !strings.Contains(rendered, "{{") {
			return rendered, nil
		}
		if rendered == current {
			// a pass reproduced its own actions, this can never resolve
			return "", &RenderError{Template: text}
		}
		current = rendered
	}

	return "", &RenderError{Template: text}
}

func renderOnce(text string, vars map[string]any) (string, error) {
	t, err := template.New("tmpl").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return "", err
	}

	var out bytes.Buffer
	if err := t.Execute(&out, vars); err != nil {
		return "", err
	}
	return out.String(), nil
}
