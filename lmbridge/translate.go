package lmbridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
)

// mergesSystem reports whether the provider has a single system slot, in
// which case every system turn is folded into one leading system message.
func mergesSystem(kind BackendKind) bool {
	return kind == KindClaude || kind == KindGemini
}

// toLangchainMessages translates provider-neutral messages for kind.
func toLangchainMessages(kind BackendKind, msgs []Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(msgs)+1)
	var system []string

	for i, m := range msgs {
		if m.Role == RoleSystem {
			if m.Content.Type != ContentText {
				continue
			}
			if mergesSystem(kind) {
				system = append(system, m.Content.Text)
				continue
			}
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content.Text))
			continue
		}
		mc, err := toLangchainMessage(kind, m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, mc)
	}

	if len(system) > 0 {
		head := llms.TextParts(llms.ChatMessageTypeSystem, strings.Join(system, "\n\n"))
		out = append([]llms.MessageContent{head}, out...)
	}
	return out, nil
}

func toLangchainMessage(kind BackendKind, m Message) (llms.MessageContent, error) {
	role := llms.ChatMessageTypeHuman
	if m.Role == RoleAssistant {
		role = llms.ChatMessageTypeAI
	}

	switch m.Content.Type {
	case ContentText:
		return llms.TextParts(role, m.Content.Text), nil

	case ContentToolUse:
		use := m.Content.ToolUse
		if use == nil {
			return llms.MessageContent{}, fmt.Errorf("tool_use message without payload")
		}
		args := string(use.Arguments)
		if args == "" {
			args = "{}"
		}
		if kind == KindOllama {
			return llms.TextParts(llms.ChatMessageTypeAI, fmt.Sprintf("[tool call %s %s] %s", use.ID, use.Name, args)), nil
		}
		return llms.MessageContent{
			Role: llms.ChatMessageTypeAI,
			Parts: []llms.ContentPart{llms.ToolCall{
				ID:           use.ID,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: use.Name, Arguments: args},
			}},
		}, nil

	case ContentToolResult:
		result := m.Content.ToolResult
		if result == nil {
			return llms.MessageContent{}, fmt.Errorf("tool_result message without payload")
		}
		content, err := encodeToolResult(result)
		if err != nil {
			return llms.MessageContent{}, err
		}
		if kind == KindOllama {
			return llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf("[tool result %s] %s", result.ToolUseID, content)), nil
		}
		return llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: result.ToolUseID,
				Name:       result.Name,
				Content:    content,
			}},
		}, nil
	}
	return llms.MessageContent{}, fmt.Errorf("unknown content type %q", m.Content.Type)
}

// encodeToolResult wraps the result payload with its error flag, since not
// every provider carries is_error natively.
func encodeToolResult(r *ToolResult) (string, error) {
	content := r.Content
	if len(content) == 0 {
		content = json.RawMessage("null")
	}
	b, err := json.Marshal(struct {
		IsError bool            `json:"is_error"`
		Content json.RawMessage `json:"content"`
	}{r.IsError, content})
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(b), nil
}

func toLangchainTools(tools []Tool) []llms.Tool {
	out := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema(),
			},
		})
	}
	return out
}

// openAIToolChoice maps the policy to OpenAI's tool_choice values.
func openAIToolChoice(c ToolChoice) any {
	switch c.Mode {
	case ToolChoiceAny:
		return "required"
	case ToolChoiceOne:
		return llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: c.Name}}
	}
	return nil
}

// claudeToolChoice maps the policy to the Messages API tool_choice object.
func claudeToolChoice(c ToolChoice) map[string]any {
	switch c.Mode {
	case ToolChoiceAny:
		return map[string]any{"type": "any", "disable_parallel_tool_use": true}
	case ToolChoiceOne:
		return map[string]any{"type": "tool", "name": c.Name, "disable_parallel_tool_use": true}
	}
	return nil
}

// fromLangchainResponse flattens the response choices into one completion.
// Anthropic returns one choice per content block; the other providers
// return a single choice holding text and tool calls.
func fromLangchainResponse(kind BackendKind, model string, resp *llms.ContentResponse) (*Completion, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", kind, ErrEmptyResponse)
	}

	completion := &Completion{Model: model, ID: uuid.NewString()}
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		if text := stripReasoning(choice.Content); text != "" {
			completion.Messages = append(completion.Messages, CompletionMessage{Type: ContentText, Text: text})
		}
		for _, call := range choice.ToolCalls {
			if call.FunctionCall == nil {
				continue
			}
			id := call.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			args := call.FunctionCall.Arguments
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			completion.Messages = append(completion.Messages, CompletionMessage{
				Type:    ContentToolUse,
				ToolUse: &ToolUse{ID: id, Name: call.FunctionCall.Name, Arguments: json.RawMessage(args)},
			})
		}
		if isTruncated(kind, choice.StopReason) {
			completion.Truncated = true
		}
	}
	if first := resp.Choices[0]; first != nil {
		completion.Usage = usageFrom(first.GenerationInfo)
	}
	return completion, nil
}

func isTruncated(kind BackendKind, stopReason string) bool {
	switch kind {
	case KindOpenAI, KindOllama:
		return stopReason == "length"
	case KindClaude:
		return stopReason == "max_tokens"
	case KindGemini:
		norm := strings.ToLower(strings.ReplaceAll(stopReason, "_", ""))
		return strings.Contains(norm, "maxtokens")
	}
	return false
}

func usageFrom(info map[string]any) Usage {
	return Usage{
		InputTokens:  firstInt(info, "PromptTokens", "InputTokens", "input_tokens"),
		OutputTokens: firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens"),
	}
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
