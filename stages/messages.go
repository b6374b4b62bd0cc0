package stages

import (
	"bytes"
	"encoding/json"

	"metaagent/history"
	"metaagent/lmbridge"
)

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// historyMessages translates the transcript into bridge messages. JSON and
// result payloads are replayed as text from the same speaker.
func historyMessages(dialogs []history.Dialog) []lmbridge.Message {
	out := make([]lmbridge.Message, 0, len(dialogs))
	for _, d := range dialogs {
		if m, ok := dialogMessage(d.Speaker, d.Message); ok {
			out = append(out, m)
		}
	}
	return out
}

func dialogMessage(speaker history.Speaker, m history.Message) (lmbridge.Message, bool) {
	text := func(s string) lmbridge.Message {
		if speaker.Kind == history.SpeakerUser {
			return lmbridge.UserText(s)
		}
		return lmbridge.AssistantText(s)
	}

	switch m.Type {
	case history.MessageText:
		return text(m.Text), true
	case history.MessageToolUse:
		if m.ToolUse == nil {
			return lmbridge.Message{}, false
		}
		return lmbridge.AssistantToolUse(lmbridge.ToolUse{
			ID:        m.ToolUse.ID,
			Name:      m.ToolUse.Name,
			Arguments: m.ToolUse.Arguments,
		}), true
	case history.MessageToolResult:
		if m.ToolResult == nil {
			return lmbridge.Message{}, false
		}
		return lmbridge.ToolResultMessage(lmbridge.ToolResult{
			ToolUseID: m.ToolResult.ToolUseID,
			Name:      m.ToolResult.Name,
			IsError:   m.ToolResult.IsError,
			Content:   m.ToolResult.Content,
		}), true
	case history.MessageJSON:
		return text(compactJSON(m.JSON)), true
	case history.MessageResult:
		switch {
		case m.Result == nil:
			return lmbridge.Message{}, false
		case m.Result.Ok != nil:
			return dialogMessage(speaker, *m.Result.Ok)
		case m.Result.Err != nil:
			inner, ok := dialogMessage(speaker, *m.Result.Err)
			if ok && inner.Content.Type == lmbridge.ContentText {
				inner.Content.Text = "error: " + inner.Content.Text
			}
			return inner, ok
		}
	}
	return lmbridge.Message{}, false
}
