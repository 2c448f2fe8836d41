// Package render executes the HTML pages embedded in the binary. The
// dashboard is the only consumer today but the engine is page-agnostic.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Engine holds the parsed template set.
type Engine struct {
	templates *template.Template
}

// New parses every embedded template up front so a broken page fails at
// startup rather than on first request.
func New() (*Engine, error) {
	t, err := template.New("render").ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// Render executes the named template and returns the rendered page.
func (e *Engine) Render(name string, data any) (string, error) {
	if e == nil || e.templates == nil {
		return "", fmt.Errorf("render engine not initialised")
	}

	var b strings.Builder
	if err := e.templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return b.String(), nil
}
