// Package connector describes the host-supplied operations the agent can
// call, and how they are looked up and executed.
package connector

import (
	"encoding/json"
	"fmt"
	"strings"
)

var methods = map[string]bool{
	"get":     true,
	"post":    true,
	"put":     true,
	"patch":   true,
	"delete":  true,
	"head":    true,
	"options": true,
}

// Prerequisite names another connector whose output feeds this one. JMESPath
// selects the value from the prerequisite's result.
type Prerequisite struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	JMESPath string `json:"jmesPath,omitempty"`
}

// Connector is one callable operation identified by method and path.
// Parameters holds one JSON Schema per positional argument.
type Connector struct {
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	Description   string            `json:"description,omitempty"`
	Parameters    []json.RawMessage `json:"parameters"`
	Output        json.RawMessage   `json:"output,omitempty"`
	Prerequisites []Prerequisite    `json:"prerequisites,omitempty"`
}

// Summary is the catalog view of a connector shown to the connector finder.
type Summary struct {
	Method        string         `json:"method"`
	Path          string         `json:"path"`
	Description   string         `json:"description,omitempty"`
	Prerequisites []Prerequisite `json:"prerequisites,omitempty"`
}

// Key returns the identity key, "method:path" with a lowercase method.
func (c *Connector) Key() string {
	return Key(c.Method, c.Path)
}

func (c *Connector) Summary() Summary {
	return Summary{
		Method:        strings.ToLower(c.Method),
		Path:          c.Path,
		Description:   c.Description,
		Prerequisites: c.Prerequisites,
	}
}

// Definition renders the connector for the parameter generator prompt.
func (c *Connector) Definition() string {
	def := struct {
		Method        string            `json:"method"`
		Path          string            `json:"path"`
		Description   string            `json:"description,omitempty"`
		Parameters    []json.RawMessage `json:"parameters"`
		Output        json.RawMessage   `json:"output,omitempty"`
		Prerequisites []Prerequisite    `json:"prerequisites,omitempty"`
	}{strings.ToLower(c.Method), c.Path, c.Description, c.Parameters, c.Output, c.Prerequisites}
	if def.Parameters == nil {
		def.Parameters = []json.RawMessage{}
	}
	raw, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return c.Key()
	}
	return string(raw)
}

// Validate reports a connector that cannot be addressed or called.
func (c *Connector) Validate() error {
	if !methods[strings.ToLower(c.Method)] {
		return fmt.Errorf("connector %s: unsupported method %q", c.Key(), c.Method)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("connector %s: path must start with /", c.Key())
	}
	for i, p := range c.Parameters {
		if !json.Valid(p) {
			return fmt.Errorf("connector %s: parameter %d is not valid JSON", c.Key(), i)
		}
	}
	return nil
}

func Key(method, path string) string {
	return strings.ToLower(method) + ":" + path
}

// NormalizeID turns a function id in either "method:path" or "method/path"
// form into the identity key. It reports false when the id names no
// HTTP method.
func NormalizeID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	i := strings.IndexAny(id, ":/")
	if i <= 0 {
		return "", false
	}
	method := strings.ToLower(id[:i])
	if !methods[method] {
		return "", false
	}

	path := id[i:]
	if id[i] == ':' {
		path = id[i+1:]
	}
	if path == "" {
		return "", false
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return method + ":" + path, true
}
