/*
Package history holds the conversation transcript of a meta-agent session.

A Dialog is one turn of the conversation. Its Message is a tagged union over
plain text, tool calls, tool results, opaque JSON and Ok/Err wrapped results.
History owns the ordered list of dialogs and only ever grows by Append or
shrinks by Rollback.
*/
package history

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SpeakerKind identifies who produced a dialog.
type SpeakerKind string

const (
	SpeakerUser      SpeakerKind = "user"
	SpeakerAssistant SpeakerKind = "assistant"
)

// Speaker is the author of a dialog. Name is only meaningful for assistants,
// where it records which stage produced the turn.
type Speaker struct {
	Kind SpeakerKind `json:"type"`
	Name string      `json:"name,omitempty"`
}

// MessageType is the discriminator of the Message union.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageToolUse    MessageType = "tool_use"
	MessageToolResult MessageType = "tool_result"
	MessageJSON       MessageType = "json"
	MessageResult     MessageType = "result"
)

// Message is the payload of a dialog. Exactly one of the payload fields is
// set, matching Type.
type Message struct {
	Type       MessageType     `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolUse    *ToolUse        `json:"tool_use,omitempty"`
	ToolResult *ToolResult     `json:"tool_result,omitempty"`
	JSON       json.RawMessage `json:"json,omitempty"`
	Result     *Result         `json:"result,omitempty"`
}

// ToolUse is the request half of a function-calling exchange.
type ToolUse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the response half of a function-calling exchange. ToolUseID
// must name a ToolUse that appears earlier in the same history.
type ToolResult struct {
	ToolUseID string          `json:"tool_use_id"`
	Name      string          `json:"name,omitempty"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// Result wraps an inner message as a success or a failure.
type Result struct {
	Ok  *Message `json:"ok,omitempty"`
	Err *Message `json:"err,omitempty"`
}

// IsToolExchange reports whether the message belongs to an unfinished or
// finished tool call, i.e. it is a tool_use or a tool_result.
func (m Message) IsToolExchange() bool {
	return m.Type == MessageToolUse || m.Type == MessageToolResult
}

// Dialog is one turn of the conversation.
type Dialog struct {
	ID      string  `json:"id,omitempty"`
	Visible bool    `json:"visible"`
	Speaker Speaker `json:"speaker"`
	Message Message `json:"message"`
}

func newID() string {
	return uuid.NewString()
}

// UserText builds a visible user text turn.
func UserText(text string) Dialog {
	return Dialog{
		ID:      newID(),
		Visible: true,
		Speaker: Speaker{Kind: SpeakerUser},
		Message: Message{Type: MessageText, Text: text},
	}
}

// AssistantText builds a visible assistant text turn attributed to name.
func AssistantText(name, text string) Dialog {
	return Dialog{
		ID:      newID(),
		Visible: true,
		Speaker: Speaker{Kind: SpeakerAssistant, Name: name},
		Message: Message{Type: MessageText, Text: text},
	}
}

// AssistantToolUse builds a hidden assistant tool call.
func AssistantToolUse(name string, use ToolUse) Dialog {
	return Dialog{
		ID:      newID(),
		Speaker: Speaker{Kind: SpeakerAssistant, Name: name},
		Message: Message{Type: MessageToolUse, ToolUse: &use},
	}
}

// AssistantToolResult builds a hidden tool result answering use.
func AssistantToolResult(name string, use ToolUse, isError bool, content json.RawMessage) Dialog {
	return Dialog{
		ID:      newID(),
		Speaker: Speaker{Kind: SpeakerAssistant, Name: name},
		Message: Message{
			Type: MessageToolResult,
			ToolResult: &ToolResult{
				ToolUseID: use.ID,
				Name:      use.Name,
				IsError:   isError,
				Content:   content,
			},
		},
	}
}

// IsAssistantReply reports whether d is a finished assistant turn that is
// not part of a tool exchange, the point at which the session waits for the
// user again.
func (d Dialog) IsAssistantReply() bool {
	return d.Speaker.Kind == SpeakerAssistant && !d.Message.IsToolExchange()
}
