package lmbridge

import (
	"regexp"
	"strings"
)

var (
	thinkBlock     = regexp.MustCompile(`(?is)<think>.*?</think>`)
	openThink      = regexp.MustCompile(`(?is)<think>.*`)
	reasoningBlock = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
)

// stripReasoning removes the <think> and <reasoning> blocks that reasoning
// models emit before their answer. Text without such tags is returned
// unchanged, whitespace included, so continuation fragments stay intact.
func stripReasoning(text string) string {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "<think>") && !strings.Contains(lower, "<reasoning>") {
		return text
	}
	cleaned := thinkBlock.ReplaceAllString(text, "")
	cleaned = openThink.ReplaceAllString(cleaned, "")
	cleaned = reasoningBlock.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
