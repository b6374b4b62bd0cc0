package stages

import (
	"fmt"
	"strconv"
	"strings"

	"metaagent/history"
)

func langCodePrompt(code string) string {
	return `Language Preference:
Answer in the language identified by the following ISO 639-1 code:

<lang_code>
` + code + `
</lang_code>

This applies to chat replies as well as to every argument you write for tools and connectors.
This note is added in front of the user's request; do not mention or answer it, just fulfill the request in that language.`
}

func quoted(s *string) string {
	if s == nil {
		return "N/A"
	}
	return strconv.Quote(*s)
}

func plain(s *string) string {
	if s == nil {
		return "N/A"
	}
	return *s
}

func userContextPrompt(u UserContext) string {
	birthYear := "N/A"
	if u.BirthYear != nil {
		birthYear = strconv.Itoa(*u.BirthYear)
	}

	var b strings.Builder
	b.WriteString("This is what is known about the current user. Use it whenever the request depends on the user, for example the address to send mail from, gender for clothing suggestions or job for career and schedule advice:\n")
	fmt.Fprintf(&b, "- email: %s\n", quoted(u.Email))
	fmt.Fprintf(&b, "- username: %s\n", quoted(u.Username))
	fmt.Fprintf(&b, "- job: %s\n", quoted(u.Job))
	fmt.Fprintf(&b, "- gender: %s\n", quoted(u.Gender))
	fmt.Fprintf(&b, "- birth_year: %s\n", birthYear)
	b.WriteString("\nThese details belong to the user's account on this platform. Do not treat them as accounts of third-party services.\n\n")

	b.WriteString("The current time and timezone of the user follow. Use them for anything time related, such as query ranges or calendar events:\n")
	fmt.Fprintf(&b, "<current_time>\n%s\n</current_time>\n", plain(u.Datetime))
	fmt.Fprintf(&b, "<current_timezone>\n%s\n</current_timezone>\n", plain(u.Timezone))
	b.WriteString("\nBoth values are in the user's timezone. When a connector expects another timezone, convert carefully: with a current timezone of UTC+9 and a connector that wants UTC, subtract nine hours.")
	return b.String()
}

// historyPrompt renders the text turns of the conversation and the results
// of connector runs, for stages that only see the conversation as context.
func historyPrompt(dialogs []history.Dialog) string {
	runs := make(map[string]bool)
	for _, d := range dialogs {
		if use := d.Message.ToolUse; d.Message.Type == history.MessageToolUse && use != nil && use.Name == ToolRunFunctions {
			runs[use.ID] = true
		}
	}

	lines := make([]string, 0, len(dialogs))
	for _, d := range dialogs {
		switch d.Message.Type {
		case history.MessageText:
			lines = append(lines, speakerName(d.Speaker)+": "+d.Message.Text)
		case history.MessageToolResult:
			r := d.Message.ToolResult
			if r != nil && runs[r.ToolUseID] {
				lines = append(lines, fmt.Sprintf("Tool: is_error=%t, content=%s", r.IsError, compactJSON(r.Content)))
			}
		}
	}
	return "Conversation history:\n<conversation_history>\n" + strings.Join(lines, "\n") + "\n</conversation_history>"
}

func speakerName(s history.Speaker) string {
	if s.Kind == history.SpeakerUser {
		return "User"
	}
	return "Assistant"
}
