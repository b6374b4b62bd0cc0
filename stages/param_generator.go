package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"metaagent/connector"
	"metaagent/history"
	"metaagent/lmbridge"
)

const (
	paramTemperature      = 0.2
	paramFrequencyPenalty = 0.1
)

// ParamInput asks for the arguments of one connector call.
type ParamInput struct {
	Connector *connector.Connector
	Purpose   string
	History   []history.Dialog
}

// ParamOutput holds one argument per declared connector parameter.
type ParamOutput struct {
	Thought   string            `json:"thought"`
	Arguments []json.RawMessage `json:"arguments"`
}

// ParamGenerator produces schema-valid connector arguments.
type ParamGenerator struct {
	schemas schemaCache
}

func NewParamGenerator() *ParamGenerator {
	return &ParamGenerator{}
}

func (g *ParamGenerator) Execute(ctx context.Context, sc *Context, in ParamInput) (out ParamOutput, err error) {
	ctx, span := sc.startSpan(ctx, StageParamGenerator)
	defer func() { endSpan(span, err) }()

	base := slices.Clip([]lmbridge.Message{
		lmbridge.UserText(paramGeneratorPrompt(in.Connector, in.Purpose, in.History)),
		lmbridge.SystemText(userContextPrompt(sc.UserContext)),
		lmbridge.SystemText(langCodePrompt(sc.langCode())),
	})

	build := func(last *rejection) lmbridge.Request {
		msgs := base
		if last != nil {
			msgs = append(base, last.followUp()...)
		}
		return lmbridge.Request{
			Messages: msgs,
			Options: lmbridge.Options{
				Temperature:      paramTemperature,
				FrequencyPenalty: paramFrequencyPenalty,
				JSONMode:         true,
			},
		}
	}
	check := func(_ context.Context, c *lmbridge.Completion) (ParamOutput, *rejection, error) {
		return g.check(in.Connector, c)
	}
	return validated(ctx, sc, StageParamGenerator, build, check)
}

func (g *ParamGenerator) check(conn *connector.Connector, c *lmbridge.Completion) (ParamOutput, *rejection, error) {
	text, rej := singleText(c)
	if rej != nil {
		return ParamOutput{}, rej, nil
	}
	out, err := parseParamOutput(text)
	if err != nil {
		return ParamOutput{}, rejectText(text, fmt.Sprintf("expected valid JSON: %v", err)), nil
	}

	if len(out.Arguments) != len(conn.Parameters) {
		return ParamOutput{}, rejectText(text, fmt.Sprintf("your response contains %d arguments, but the connector expects %d", len(out.Arguments), len(conn.Parameters))), nil
	}
	for i, arg := range out.Arguments {
		schema, err := g.schemas.get(conn.Parameters[i])
		if err != nil {
			return ParamOutput{}, nil, fmt.Errorf("connector %s parameter %d: %w", conn.Key(), i, err)
		}
		if err := validateJSON(schema, arg); err != nil {
			return ParamOutput{}, rejectText(text, "your response is invalid:\n\n"+violations(err)), nil
		}
	}
	return out, nil, nil
}

// parseParamOutput checks the coarse shape of the answer: an object with a
// string "thought" and an array "arguments".
func parseParamOutput(text string) (ParamOutput, error) {
	var fields map[string]json.RawMessage
	var probe any
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return ParamOutput{}, err
	}
	if _, ok := probe.(map[string]any); !ok {
		return ParamOutput{}, fmt.Errorf("expected an object")
	}
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return ParamOutput{}, err
	}

	thought, ok := fields["thought"]
	if !ok {
		return ParamOutput{}, fmt.Errorf("expected 'thought' key in object")
	}
	args, ok := fields["arguments"]
	if !ok {
		return ParamOutput{}, fmt.Errorf("expected 'arguments' key in object")
	}

	var out ParamOutput
	if err := json.Unmarshal(thought, &out.Thought); err != nil || string(thought) == "null" {
		return ParamOutput{}, fmt.Errorf("expected 'thought' to be a string")
	}
	if err := json.Unmarshal(args, &out.Arguments); err != nil || string(args) == "null" {
		return ParamOutput{}, fmt.Errorf("expected 'arguments' to be an array")
	}
	if out.Arguments == nil {
		out.Arguments = []json.RawMessage{}
	}
	return out, nil
}
