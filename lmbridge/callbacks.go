package lmbridge

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

// LoggingHandler traces langchaingo model calls at debug level.
type LoggingHandler struct {
	callbacks.SimpleHandler
	logger logrus.FieldLogger
}

var _ callbacks.Handler = (*LoggingHandler)(nil)

// NewLoggingHandler returns a handler writing to logger.
func NewLoggingHandler(logger logrus.FieldLogger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

func (h *LoggingHandler) HandleLLMGenerateContentStart(_ context.Context, ms []llms.MessageContent) {
	h.logger.WithField("messages", len(ms)).Debug("LLM request started")
}

func (h *LoggingHandler) HandleLLMGenerateContentEnd(_ context.Context, res *llms.ContentResponse) {
	if res == nil {
		return
	}
	fields := logrus.Fields{"choices": len(res.Choices)}
	if len(res.Choices) > 0 {
		fields["stopReason"] = res.Choices[0].StopReason
		fields["toolCalls"] = len(res.Choices[0].ToolCalls)
	}
	h.logger.WithFields(fields).Debug("LLM request completed")
}

func (h *LoggingHandler) HandleLLMError(_ context.Context, err error) {
	h.logger.WithError(err).Debug("LLM request failed")
}
