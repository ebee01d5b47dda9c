package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/dispatch/internal/domain"
)

// TemplateReader loads stored templates for dispatch-time rendering.
type TemplateReader interface {
	Template(ctx context.Context, teamID int64, id string) (*domain.Template, error)
}

// Renderer resolves an email's template and renders subject and body with
// the email's variables. Render errors are terminal for the email and map
// to RENDERING_FAILURE.
type Renderer struct {
	templates TemplateReader
	engine    *liquid.Engine

	mu    sync.Mutex
	cache map[string]*liquid.Template
}

// NewRenderer creates a renderer with a parse cache keyed by template id.
func NewRenderer(templates TemplateReader) *Renderer {
	return &Renderer{
		templates: templates,
		engine:    liquid.NewEngine(),
		cache:     make(map[string]*liquid.Template),
	}
}

// Render fills in the email's subject, HTML and text from its template when
// one is referenced, and renders inline bodies that contain variables. The
// email is mutated in place.
func (r *Renderer) Render(ctx context.Context, e *domain.Email) error {
	bindings := map[string]any{}
	for k, v := range e.Variables {
		bindings[k] = v
	}

	subjectFromTemplate := false
	if e.TemplateID != nil {
		tpl, err := r.templates.Template(ctx, e.TeamID, *e.TemplateID)
		if err != nil {
			return fmt.Errorf("load template %s: %w", *e.TemplateID, err)
		}
		if e.Subject == "" {
			e.Subject = tpl.Subject
			subjectFromTemplate = true
		}
		e.HTML = tpl.HTML
	}

	if len(bindings) == 0 {
		return nil
	}

	// Per-send subject overrides are unique content; only template-owned
	// subjects are safe to cache under the template id.
	subjectKey := ""
	if subjectFromTemplate {
		subjectKey = cacheKey(e, "subject")
	}

	var err error
	if e.Subject, err = r.renderString(subjectKey, e.Subject, bindings); err != nil {
		return err
	}
	if e.HTML != "" {
		if e.HTML, err = r.renderString(cacheKey(e, "html"), e.HTML, bindings); err != nil {
			return err
		}
	}
	if e.Text != "" {
		if e.Text, err = r.renderString(cacheKey(e, "text"), e.Text, bindings); err != nil {
			return err
		}
	}
	return nil
}

func cacheKey(e *domain.Email, part string) string {
	if e.TemplateID != nil {
		return *e.TemplateID + ":" + part
	}
	// Inline bodies are unique per email; skip the cache.
	return ""
}

func (r *Renderer) renderString(key, source string, bindings map[string]any) (string, error) {
	var tpl *liquid.Template
	var err error

	if key != "" {
		r.mu.Lock()
		tpl = r.cache[key]
		r.mu.Unlock()
	}
	if tpl == nil {
		tpl, err = r.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		if key != "" {
			r.mu.Lock()
			r.cache[key] = tpl
			r.mu.Unlock()
		}
	}

	out, err := tpl.Render(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return string(out), nil
}
