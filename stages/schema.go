package stages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each distinct schema document once.
type schemaCache struct {
	m sync.Map
}

func (c *schemaCache) get(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)
	if s, ok := c.m.Load(key); ok {
		return s.(*jsonschema.Schema), nil
	}
	s, err := jsonschema.CompileString("schema.json", key)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	c.m.Store(key, s)
	return s, nil
}

// validateJSON checks raw against schema. A decode failure is reported as
// is; a schema violation as a *jsonschema.ValidationError.
func validateJSON(schema *jsonschema.Schema, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

// violations lists the leaf causes of a validation error, one per line.
func violations(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return "- : " + err.Error()
	}
	var lines []string
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			lines = append(lines, fmt.Sprintf("- %s: %s", v.InstanceLocation, v.Message))
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(lines, "\n")
}
