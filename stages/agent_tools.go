package stages

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"metaagent/lmbridge"
)

// Tools the agent stage declares.
const (
	ToolLookupFunctions = "lookup_functions"
	ToolRunFunctions    = "run_functions"
)

var agentTools = []lmbridge.Tool{
	{
		Name: ToolLookupFunctions,
		Description: `Searches the connector catalog for functions that match each query.

Input:
- thoughts (string, required)
- queries (array of object, required): each object has
  - query (string, required)
  - specifications (string, optional)

Example Input:
{"thoughts":"...","queries":[{"query":"...","specifications":"..."},{"query":"..."}]}`,
		Parameters: []lmbridge.ToolParameter{
			{Name: "thoughts", Required: true, Schema: map[string]any{"type": "string"}},
			{Name: "queries", Required: true, Schema: map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query":          map[string]any{"type": "string"},
						"specifications": map[string]any{"type": "string"},
					},
					"required": []string{"query"},
				},
			}},
		},
	},
	{
		Name: ToolRunFunctions,
		Description: `Runs one or more functions in parallel to fulfill the user's request. Put every function that can run independently into a single call.

Input:
- thoughts (string, required)
- items (array of object, required): each object has
  - purpose (string, required)
  - function_id (string, required)

Example Input:
{"thoughts":"...","items":[{"function_id":"...","purpose":"..."},{"function_id":"...","purpose":"..."}]}`,
		Parameters: []lmbridge.ToolParameter{
			{Name: "thoughts", Required: true, Schema: map[string]any{"type": "string"}},
			{Name: "items", Required: true, Schema: map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"function_id": map[string]any{"type": "string"},
						"purpose":     map[string]any{"type": "string"},
					},
					"required": []string{"purpose", "function_id"},
				},
			}},
		},
	},
}

var agentToolSchemas = func() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(agentTools))
	for _, t := range agentTools {
		raw, err := json.Marshal(t.InputSchema())
		if err != nil {
			panic(err)
		}
		out[t.Name] = jsonschema.MustCompileString(t.Name+".json", string(raw))
	}
	return out
}()

type lookupArguments struct {
	Thoughts string  `json:"thoughts"`
	Queries  []Query `json:"queries"`
}

type runArguments struct {
	Thoughts string `json:"thoughts"`
	Items    []struct {
		Purpose    string `json:"purpose"`
		FunctionID string `json:"function_id"`
	} `json:"items"`
}
