package lmbridge

import (
	"strings"
	"time"
)

// Usage counts the tokens billed for a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// CompletionMessage is one block of a model response: text or a tool call.
type CompletionMessage struct {
	Type    ContentType
	Text    string
	ToolUse *ToolUse
}

// Completion is one model response.
type Completion struct {
	Model        string
	ID           string
	Messages     []CompletionMessage
	Usage        Usage
	Truncated    bool
	ResponseTime time.Duration
}

// Last returns the final message of the completion.
func (c *Completion) Last() (*CompletionMessage, bool) {
	if len(c.Messages) == 0 {
		return nil, false
	}
	return &c.Messages[len(c.Messages)-1], true
}

// Text concatenates all text blocks.
func (c *Completion) Text() string {
	var b strings.Builder
	for _, m := range c.Messages {
		if m.Type == ContentText {
			b.WriteString(m.Text)
		}
	}
	return b.String()
}
