/*
Package lmbridge is the provider-neutral completion layer of the meta-agent.

Stages speak in Message, Tool and Completion values. A Backend translates
them to one provider's wire format, and the Bridge wraps backends with retry
on rate limiting and continuation of truncated answers.
*/
package lmbridge

import (
	"context"
	"fmt"
	"strings"
)

// BackendKind names a provider family.
type BackendKind string

const (
	KindOpenAI BackendKind = "openai"
	KindClaude BackendKind = "claude"
	KindGemini BackendKind = "gemini"
	KindOllama BackendKind = "ollama"
)

// DefaultModel returns the model used when a connection leaves it empty.
func (k BackendKind) DefaultModel() string {
	switch k {
	case KindOpenAI:
		return "gpt-4o-2024-11-20"
	case KindClaude:
		return "claude-3-5-sonnet-20241022"
	case KindGemini:
		return "gemini-2.0-flash"
	case KindOllama:
		return "qwen3"
	}
	return ""
}

// ParseBackendKind accepts a few spellings of each provider name.
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "open_ai", "gpt":
		return KindOpenAI, nil
	case "claude", "anthropic":
		return KindClaude, nil
	case "gemini", "googleai", "google":
		return KindGemini, nil
	case "ollama":
		return KindOllama, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedBackend, s)
}

// Connection identifies a provider, model and credential. It is immutable for
// the lifetime of a session.
type Connection struct {
	Kind    BackendKind `json:"kind"`
	Model   string      `json:"model"`
	APIKey  string      `json:"-"`
	BaseURL string      `json:"base_url,omitempty"`
}

// ModelName returns the configured model or the kind's default.
func (c Connection) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	return c.Kind.DefaultModel()
}

// Backend produces completions for one provider.
type Backend interface {
	Kind() BackendKind
	MakeCompletion(ctx context.Context, req Request) (*Completion, error)
}

// Resolver builds the backend serving conn.
type Resolver func(ctx context.Context, conn Connection) (Backend, error)
