package lmbridge

import "encoding/json"

// Role is the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType discriminates Content.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
)

// Message is one provider-neutral chat turn.
type Message struct {
	Role    Role
	Name    string
	Content Content
}

// Content holds exactly one of Text, ToolUse or ToolResult, selected by Type.
type Content struct {
	Type       ContentType
	Text       string
	ToolUse    *ToolUse
	ToolResult *ToolResult
}

// ToolUse is a function call requested by the model.
type ToolUse struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult answers a ToolUse. Content is any JSON value.
type ToolResult struct {
	ToolUseID string
	Name      string
	IsError   bool
	Content   json.RawMessage
}

// SystemText builds a system turn.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Content: Content{Type: ContentText, Text: text}}
}

// UserText builds a user turn.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: Content{Type: ContentText, Text: text}}
}

// AssistantText builds an assistant turn.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: Content{Type: ContentText, Text: text}}
}

// AssistantToolUse builds an assistant turn carrying a tool call.
func AssistantToolUse(use ToolUse) Message {
	return Message{Role: RoleAssistant, Content: Content{Type: ContentToolUse, ToolUse: &use}}
}

// ToolResultMessage builds the turn answering a tool call.
func ToolResultMessage(result ToolResult) Message {
	return Message{Role: RoleUser, Content: Content{Type: ContentToolResult, ToolResult: &result}}
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// ToolParameter is one named argument of a Tool, in declaration order.
type ToolParameter struct {
	Name     string
	Required bool
	Schema   map[string]any
}

// InputSchema renders the parameters as a JSON Schema object.
func (t Tool) InputSchema() map[string]any {
	properties := make(map[string]any, len(t.Parameters))
	required := make([]string, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		properties[p.Name] = p.Schema
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// ToolChoiceMode is the policy for whether the model must call a tool.
type ToolChoiceMode string

const (
	ToolChoiceAuto ToolChoiceMode = ""
	ToolChoiceAny  ToolChoiceMode = "any"
	ToolChoiceOne  ToolChoiceMode = "one"
)

// ToolChoice forces a tool call. Name is set when Mode is ToolChoiceOne.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// Options tune a single completion request.
type Options struct {
	Temperature      float64
	FrequencyPenalty float64
	JSONMode         bool
	MaxTokens        int
	Tools            []Tool
	ToolChoice       ToolChoice
}

// Request is everything a backend needs to produce one completion.
// SessionID and Stage are carried for logging and tracing only.
type Request struct {
	SessionID string
	Stage     string
	Messages  []Message
	Options   Options
}
