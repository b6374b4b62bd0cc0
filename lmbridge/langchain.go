package lmbridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// claudeMaxTokens is sent on every Claude request; the Messages API
// requires an explicit max_tokens value.
const claudeMaxTokens = 4096

// langchainBackend serves every BackendKind through a langchaingo model.
// The kind only selects how messages and tools are translated.
type langchainBackend struct {
	kind   BackendKind
	model  string
	llm    llms.Model
	logger logrus.FieldLogger
}

// NewBackend builds the backend for conn, logging to the standard logger.
func NewBackend(ctx context.Context, conn Connection) (Backend, error) {
	return NewResolver(logrus.StandardLogger())(ctx, conn)
}

// NewResolver returns a Resolver whose backends trace model calls to logger.
func NewResolver(logger logrus.FieldLogger) Resolver {
	return func(ctx context.Context, conn Connection) (Backend, error) {
		log := logger.WithFields(logrus.Fields{"provider": conn.Kind, "model": conn.ModelName()})
		handler := NewLoggingHandler(log)

		llm, err := newModel(ctx, conn, handler)
		if err != nil {
			return nil, fmt.Errorf("create %s client: %w", conn.Kind, err)
		}
		return newLangchainBackend(conn.Kind, conn.ModelName(), llm, log), nil
	}
}

func newModel(ctx context.Context, conn Connection, handler callbacks.Handler) (llms.Model, error) {
	doer := &patchingDoer{next: http.DefaultClient}

	switch conn.Kind {
	case KindOpenAI:
		opts := []openai.Option{
			openai.WithToken(conn.APIKey),
			openai.WithModel(conn.ModelName()),
			openai.WithHTTPClient(doer),
			openai.WithCallback(handler),
		}
		if conn.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(conn.BaseURL))
		}
		return openai.New(opts...)

	case KindClaude:
		opts := []anthropic.Option{
			anthropic.WithToken(conn.APIKey),
			anthropic.WithModel(conn.ModelName()),
			anthropic.WithHTTPClient(doer),
		}
		if conn.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(conn.BaseURL))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, err
		}
		llm.CallbacksHandler = handler
		return llm, nil

	case KindGemini:
		llm, err := googleai.New(ctx,
			googleai.WithAPIKey(conn.APIKey),
			googleai.WithDefaultModel(conn.ModelName()),
		)
		if err != nil {
			return nil, err
		}
		llm.CallbacksHandler = handler
		return llm, nil

	case KindOllama:
		opts := []ollama.Option{ollama.WithModel(conn.ModelName())}
		if conn.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(conn.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, err
		}
		llm.CallbacksHandler = handler
		return llm, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, conn.Kind)
}

func newLangchainBackend(kind BackendKind, model string, llm llms.Model, logger logrus.FieldLogger) *langchainBackend {
	return &langchainBackend{kind: kind, model: model, llm: llm, logger: logger}
}

func (b *langchainBackend) Kind() BackendKind {
	return b.kind
}

func (b *langchainBackend) MakeCompletion(ctx context.Context, req Request) (*Completion, error) {
	messages, err := toLangchainMessages(b.kind, req.Messages)
	if err != nil {
		return nil, err
	}
	callOpts, patch := b.callOptions(req.Options)
	if len(patch) > 0 {
		ctx = withBodyPatch(ctx, patch)
	}

	start := time.Now()
	resp, err := b.llm.GenerateContent(ctx, messages, callOpts...)
	elapsed := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if IsTransient(err) {
			return nil, fmt.Errorf("%s: %w: %w", b.kind, ErrTooManyRequests, err)
		}
		return nil, fmt.Errorf("%s: %w", b.kind, err)
	}

	completion, err := fromLangchainResponse(b.kind, b.model, resp)
	if err != nil {
		return nil, err
	}
	completion.ResponseTime = elapsed

	b.logger.WithFields(logrus.Fields{
		"session":    req.SessionID,
		"stage":      req.Stage,
		"messages":   len(completion.Messages),
		"truncated":  completion.Truncated,
		"durationMs": elapsed.Milliseconds(),
	}).Debug("Completion received")
	return completion, nil
}

// callOptions maps Options to langchaingo call options, plus the request
// body fields langchaingo cannot express for this provider.
func (b *langchainBackend) callOptions(o Options) ([]llms.CallOption, map[string]any) {
	opts := []llms.CallOption{
		llms.WithModel(b.model),
		llms.WithTemperature(o.Temperature),
	}
	if o.FrequencyPenalty != 0 {
		opts = append(opts, llms.WithFrequencyPenalty(o.FrequencyPenalty))
	}
	if o.JSONMode {
		opts = append(opts, llms.WithJSONMode())
	}

	maxTokens := o.MaxTokens
	if maxTokens == 0 && b.kind == KindClaude {
		maxTokens = claudeMaxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}

	// The ollama client drops tools and googleai ignores tool choice, so
	// ollama sessions can only chat and gemini picks tools on its own.
	if len(o.Tools) == 0 || b.kind == KindOllama {
		return opts, nil
	}
	opts = append(opts, llms.WithTools(toLangchainTools(o.Tools)))

	var patch map[string]any
	switch b.kind {
	case KindOpenAI:
		if choice := openAIToolChoice(o.ToolChoice); choice != nil {
			opts = append(opts, llms.WithToolChoice(choice))
		}
		patch = map[string]any{"parallel_tool_calls": false}
	case KindClaude:
		if choice := claudeToolChoice(o.ToolChoice); choice != nil {
			patch = map[string]any{"tool_choice": choice}
		}
	}
	return opts, patch
}
