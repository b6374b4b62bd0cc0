/*
Package prompts renders the named prompt templates used by the agent stages.

Templates are Go text/templates rendered through langchaingo's prompt
templates, so sprig helpers are available and a missing variable is an
error rather than an empty string. The default set is embedded in the
binary; NewTemplateSet accepts any fs.FS for overrides and tests.
*/
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	lcprompts "github.com/tmc/langchaingo/prompts"
)

// Names of the templates the stages look up.
const (
	Agent             = "agent"
	AgentPlatformInfo = "agent-platform-info"
	ConnectorFinder   = "connector-finder"
)

const templateExt = ".tmpl"

//go:embed templates/*.tmpl
var embedded embed.FS

// Source is the prompt accessor consumed by the stages.
type Source interface {
	GetPrompt(name string, values map[string]any) (string, error)
}

// TemplateSet is a fixed collection of named prompt templates.
type TemplateSet struct {
	templates map[string]lcprompts.PromptTemplate
}

// Default returns the embedded template set.
func Default() (*TemplateSet, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	return NewTemplateSet(sub)
}

// NewTemplateSet loads every *.tmpl file at the root of fsys. A template is
// named after its file without the extension.
func NewTemplateSet(fsys fs.FS) (*TemplateSet, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	set := &TemplateSet{templates: make(map[string]lcprompts.PromptTemplate)}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != templateExt {
			continue
		}
		raw, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), templateExt)
		set.templates[name] = lcprompts.PromptTemplate{
			Template:       strings.TrimRight(string(raw), "\n"),
			TemplateFormat: lcprompts.TemplateFormatGoTemplate,
		}
	}
	return set, nil
}

// GetPrompt renders the named template with values.
func (s *TemplateSet) GetPrompt(name string, values map[string]any) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt template %q not found", name)
	}
	if values == nil {
		values = map[string]any{}
	}
	out, err := tmpl.Format(values)
	if err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return out, nil
}

// Names lists the loaded templates in lexical order.
func (s *TemplateSet) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
