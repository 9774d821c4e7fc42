package dashboard

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"sync"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// sharedTemplate holds the blocks every layout includes.
const sharedTemplate = "shared.tmpl"

// TemplateProvider abstracts template loading and execution.
// Production uses EmbeddedTemplateProvider; tests use MockTemplateProvider.
type TemplateProvider interface {
	// ExecuteTemplate executes a template with the given data.
	ExecuteTemplate(w io.Writer, name string, data interface{}) error
}

// EmbeddedTemplateProvider loads templates from an embedded filesystem.
type EmbeddedTemplateProvider struct {
	fs      embed.FS
	baseDir string
	shared  []string

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewEmbeddedTemplateProvider creates a provider with the given embedded FS.
// Each shared file is parsed alongside every template, so pages can use
// the blocks it defines.
func NewEmbeddedTemplateProvider(embedFS embed.FS, baseDir string, shared ...string) *EmbeddedTemplateProvider {
	return &EmbeddedTemplateProvider{
		fs:      embedFS,
		baseDir: baseDir,
		shared:  shared,
		cache:   make(map[string]*template.Template),
	}
}

// DefaultTemplates serves the page layouts built into the binary.
func DefaultTemplates() *EmbeddedTemplateProvider {
	return NewEmbeddedTemplateProvider(templatesFS, "templates", sharedTemplate)
}

// GetTemplate parses and caches a template from the embedded FS.
func (p *EmbeddedTemplateProvider) GetTemplate(name string) (*template.Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.cache[name]; ok {
		return t, nil
	}

	content, err := p.fs.ReadFile(p.path(name))
	if err != nil {
		return nil, err
	}

	t, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, err
	}
	for _, shared := range p.shared {
		if t, err = t.ParseFS(p.fs, p.path(shared)); err != nil {
			return nil, fmt.Errorf("parse %s for %s: %w", shared, name, err)
		}
	}

	p.cache[name] = t
	return t, nil
}

func (p *EmbeddedTemplateProvider) path(name string) string {
	if p.baseDir == "" {
		return name
	}
	return p.baseDir + "/" + name
}

// ExecuteTemplate loads and executes a template.
func (p *EmbeddedTemplateProvider) ExecuteTemplate(w io.Writer, name string, data interface{}) error {
	t, err := p.GetTemplate(name)
	if err != nil {
		return err
	}
	return t.Execute(w, data)
}

// MockTemplateProvider records executions for tests.
type MockTemplateProvider struct {
	Templates    map[string]string
	ExecuteError error
	ExecuteCalls []ExecuteCall
}

// ExecuteCall is one recorded MockTemplateProvider.ExecuteTemplate call.
type ExecuteCall struct {
	Name string
	Data interface{}
}

// ExecuteTemplate records the call and writes the named template text.
func (m *MockTemplateProvider) ExecuteTemplate(w io.Writer, name string, data interface{}) error {
	m.ExecuteCalls = append(m.ExecuteCalls, ExecuteCall{Name: name, Data: data})
	if m.ExecuteError != nil {
		return m.ExecuteError
	}
	body, ok := m.Templates[name]
	if !ok {
		return fmt.Errorf("template %q not found", name)
	}
	_, err := io.WriteString(w, body)
	return err
}

// templateName maps a layout to its page template.
func templateName(layout string) string {
	return layout + ".html.tmpl"
}
