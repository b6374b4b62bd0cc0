package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools"

	"metaagent/connector"
)

// Builtin is a tool that is also described as a connector.
type Builtin interface {
	tools.Tool
	Connector() *connector.Connector
}

// Builtins returns every builtin connector.
func Builtins() []Builtin {
	return []Builtin{
		NewDateTimeTool(),
		NewSysInfoTool(),
		NewNetworkTool(),
	}
}

// Register adds the builtins to the catalog and routes their calls.
func Register(catalog *connector.Catalog, router *connector.Router, builtins ...Builtin) error {
	for _, b := range builtins {
		conn := b.Connector()
		if err := catalog.Add(conn); err != nil {
			return fmt.Errorf("register %s: %w", b.Name(), err)
		}
		router.Handle(conn.Key(), Executor(b))
	}
	return nil
}

// Executor adapts a tool to a connector executor. The first argument is
// passed as the tool input; output that is not JSON is returned as a JSON
// string.
func Executor(t tools.Tool) connector.Executor {
	return connector.ExecutorFunc(func(ctx context.Context, _ *connector.Connector, args []json.RawMessage) (json.RawMessage, error) {
		input := "{}"
		if len(args) > 0 {
			input = string(args[0])
		}
		out, err := t.Call(ctx, input)
		if err != nil {
			return nil, err
		}
		if json.Valid([]byte(out)) {
			return json.RawMessage(out), nil
		}
		return json.Marshal(out)
	})
}

func decodeInput(input string, v any) error {
	input = strings.TrimSpace(input)
	if input == "" || input == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(input), v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}
