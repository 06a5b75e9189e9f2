package template

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	ErrTemplateNotFound    = errors.New("template not found")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInactive            = errors.New("template is inactive")
	ErrMissingVariable     = errors.New("missing template variable")
)

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Substitute replaces every {{name}} token that has a binding. Tokens without
// one are left in place verbatim.
func Substitute(body string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(body, func(tok string) string {
		name := placeholder.FindStringSubmatch(tok)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return tok
	})
}

// Placeholders lists the distinct variable names referenced by body, sorted.
func Placeholders(body string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}

type Engine struct {
	repo Repository
	now  func() time.Time
}

func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (e *Engine) Get(ctx context.Context, id string) (*Template, error) {
	return e.repo.GetByID(ctx, id)
}

func (e *Engine) List(ctx context.Context, category string) ([]*Template, error) {
	return e.repo.List(ctx, category, false)
}

// ListActive returns the templates the dispatcher may use in category.
func (e *Engine) ListActive(ctx context.Context, category string) ([]*Template, error) {
	return e.repo.List(ctx, category, true)
}

func (e *Engine) SetActive(ctx context.Context, id string, active bool) (*Template, error) {
	return e.repo.SetActive(ctx, id, active)
}

func (e *Engine) body(ctx context.Context, id, language string) (string, error) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if !supported(lang) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	t, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !t.Active {
		return "", fmt.Errorf("%w: %s", ErrInactive, id)
	}
	body, ok := t.Content[lang]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s content", ErrUnsupportedLanguage, id, lang)
	}
	return body, nil
}

// Render resolves an active template in language. Unbound tokens survive in
// the output. Rendering never touches usage statistics.
func (e *Engine) Render(ctx context.Context, id, language string, vars map[string]string) (string, error) {
	body, err := e.body(ctx, id, language)
	if err != nil {
		return "", err
	}
	return Substitute(body, vars), nil
}

// RenderStrict is Render but fails with ErrMissingVariable naming every
// token the bindings leave unresolved.
func (e *Engine) RenderStrict(ctx context.Context, id, language string, vars map[string]string) (string, error) {
	body, err := e.body(ctx, id, language)
	if err != nil {
		return "", err
	}
	var missing []string
	for _, name := range Placeholders(body) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
	}
	return Substitute(body, vars), nil
}

// RecordUsage bumps the usage counter. Callers invoke it after a successful
// send.
func (e *Engine) RecordUsage(ctx context.Context, id string) error {
	return e.repo.IncrementUsage(ctx, id, e.now())
}

// Seed inserts every template whose id is not stored yet and returns how
// many were added. Existing templates keep their edits and counters.
func (e *Engine) Seed(ctx context.Context, templates []*Template) (int, error) {
	added := 0
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return added, fmt.Errorf("template %s: %w", t.ID, err)
		}
		ok, err := e.repo.CreateIfAbsent(ctx, t.clone())
		if err != nil {
			return added, fmt.Errorf("seed %s: %w", t.ID, err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}
