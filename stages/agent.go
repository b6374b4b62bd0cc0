package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"metaagent/connector"
	"metaagent/history"
	"metaagent/lmbridge"
	"metaagent/prompts"
)

// Stage names, also used in logs, spans and usage statistics.
const (
	StageAgent           = "agent"
	StageConnectorFinder = "connector_finder"
	StageParamGenerator  = "connector_param_generator"
)

const (
	agentTemperature      = 0.2
	agentFrequencyPenalty = 0.0
)

// PlatformInfo is the host platform's description of itself.
type PlatformInfo struct {
	Prompt string `json:"prompt"`
}

// AgentInput is one decision request. UserQuery is set only on a fresh user
// turn that is not yet part of History; LastFailure carries the message of a
// stage error from the previous step.
type AgentInput struct {
	PlatformInfo PlatformInfo
	UserQuery    string
	LastFailure  string
	History      []history.Dialog
}

// Action is what the agent decided to do. It is one of *ChatAction,
// *LookupFunctionsAction or *RunFunctionsAction.
type Action interface {
	action()
}

type ChatAction struct {
	Message string
}

// Query is one connector search.
type Query struct {
	Query          string `json:"query"`
	Specifications string `json:"specifications,omitempty"`
}

type LookupFunctionsAction struct {
	Call     lmbridge.ToolUse
	Thoughts string
	Queries  []Query
}

// RunItem is one resolved connector to call and the reason to call it.
type RunItem struct {
	Purpose  string
	Function *connector.Connector
}

type RunFunctionsAction struct {
	Call     lmbridge.ToolUse
	Thoughts string
	Items    []RunItem
}

func (*ChatAction) action()            {}
func (*LookupFunctionsAction) action() {}
func (*RunFunctionsAction) action()    {}

// Agent is the decision stage.
type Agent struct{}

func NewAgent() *Agent {
	return &Agent{}
}

// Execute asks the model for the next actions of the conversation.
func (a *Agent) Execute(ctx context.Context, sc *Context, in AgentInput) (actions []Action, err error) {
	ctx, span := sc.startSpan(ctx, StageAgent)
	defer func() { endSpan(span, err) }()

	systemPrompt, err := sc.Prompts.GetPrompt(prompts.Agent, nil)
	if err != nil {
		return nil, err
	}
	info, err := json.MarshalIndent(in.PlatformInfo, "", "  ")
	if err != nil {
		return nil, err
	}
	platformPrompt, err := sc.Prompts.GetPrompt(prompts.AgentPlatformInfo, map[string]any{"platform_info": string(info)})
	if err != nil {
		return nil, err
	}

	base := []lmbridge.Message{
		lmbridge.SystemText(systemPrompt),
		lmbridge.SystemText(platformPrompt),
		lmbridge.SystemText(userContextPrompt(sc.UserContext)),
		lmbridge.SystemText(langCodePrompt(sc.langCode())),
	}
	base = append(base, historyMessages(in.History)...)
	if in.UserQuery != "" {
		base = append(base, lmbridge.UserText(in.UserQuery))
	}
	if in.LastFailure != "" {
		base = append(base, lmbridge.SystemText("Handling the previous turn failed with the following error:\n\n"+in.LastFailure+"\n\nTake it into account and try again."))
	}
	base = slices.Clip(base)

	build := func(last *rejection) lmbridge.Request {
		msgs := base
		if last != nil {
			msgs = append(base, last.followUp()...)
		}
		return lmbridge.Request{
			Messages: msgs,
			Options: lmbridge.Options{
				Temperature:      agentTemperature,
				FrequencyPenalty: agentFrequencyPenalty,
				Tools:            agentTools,
			},
		}
	}
	check := func(ctx context.Context, c *lmbridge.Completion) ([]Action, *rejection, error) {
		return a.check(ctx, sc, c)
	}
	return validated(ctx, sc, StageAgent, build, check)
}

func (a *Agent) check(ctx context.Context, sc *Context, c *lmbridge.Completion) ([]Action, *rejection, error) {
	var actions []Action
	for _, m := range c.Messages {
		switch m.Type {
		case lmbridge.ContentText:
			if strings.TrimSpace(m.Text) == "" {
				continue
			}
			actions = append(actions, &ChatAction{Message: m.Text})
		case lmbridge.ContentToolUse:
			action, prompt, err := a.parseToolUse(ctx, sc, *m.ToolUse)
			if err != nil {
				return nil, nil, err
			}
			if prompt != "" {
				return nil, rejectToolUse(*m.ToolUse, prompt), nil
			}
			actions = append(actions, action)
		}
	}
	if len(actions) == 0 {
		return nil, rejectText("<empty response>", "you did not provide a valid response"), nil
	}
	return actions, nil, nil
}

// rejectToolUse replays an invalid tool call answered by an error result, so
// the follow-up stays a well-formed tool exchange for every provider.
func rejectToolUse(use lmbridge.ToolUse, prompt string) *rejection {
	content, _ := json.Marshal(prompt)
	return &rejection{
		reply: []lmbridge.Message{
			lmbridge.AssistantToolUse(use),
			lmbridge.ToolResultMessage(lmbridge.ToolResult{
				ToolUseID: use.ID,
				Name:      use.Name,
				IsError:   true,
				Content:   content,
			}),
		},
		prompt: prompt,
	}
}

// parseToolUse turns a tool call into an action. A non-empty prompt
// describes why the call is invalid.
func (a *Agent) parseToolUse(ctx context.Context, sc *Context, use lmbridge.ToolUse) (Action, string, error) {
	schema, ok := agentToolSchemas[use.Name]
	if !ok {
		return nil, fmt.Sprintf("there is no tool named `%s`; call %s or %s, or reply with text", use.Name, ToolLookupFunctions, ToolRunFunctions), nil
	}
	if err := validateJSON(schema, use.Arguments); err != nil {
		return nil, fmt.Sprintf("your arguments for `%s` are invalid:\n\n%s", use.Name, violations(err)), nil
	}

	switch use.Name {
	case ToolLookupFunctions:
		var args lookupArguments
		if err := json.Unmarshal(use.Arguments, &args); err != nil {
			return nil, fmt.Sprintf("your arguments for `%s` are invalid JSON: %v", use.Name, err), nil
		}
		return &LookupFunctionsAction{Call: use, Thoughts: args.Thoughts, Queries: args.Queries}, "", nil

	default:
		var args runArguments
		if err := json.Unmarshal(use.Arguments, &args); err != nil {
			return nil, fmt.Sprintf("your arguments for `%s` are invalid JSON: %v", use.Name, err), nil
		}
		action := &RunFunctionsAction{Call: use, Thoughts: args.Thoughts}
		for _, item := range args.Items {
			invalid := fmt.Sprintf("your response is containing an invalid function id `%s`; which does not exist in the list of available functions; look it up with %s first", item.FunctionID, ToolLookupFunctions)
			key, ok := connector.NormalizeID(item.FunctionID)
			if !ok {
				return nil, invalid, nil
			}
			conn, err := sc.findFunction(ctx, key)
			if err != nil {
				return nil, "", err
			}
			if conn == nil {
				return nil, invalid, nil
			}
			action.Items = append(action.Items, RunItem{Purpose: item.Purpose, Function: conn})
		}
		return action, "", nil
	}
}
