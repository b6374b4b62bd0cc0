/*
Package stages implements the LLM-backed steps of a meta-agent turn.

Each stage builds a prompt, asks the completion bridge for an answer and
validates it. Invalid answers are sent back to the model together with a
description of the defect, a bounded number of times; when the attempts are
spent the stage fails with an *Error, which the session treats as
recoverable.

Stages:
- Agent: decides between chatting, looking up connectors and running them
- ConnectorFinder: selects connectors from the catalog for a search query
- ParamGenerator: produces schema-valid arguments for one connector call
*/
package stages

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"metaagent/connector"
	"metaagent/lmbridge"
	"metaagent/prompts"
)

// Completer is the part of the completion bridge the stages use.
type Completer interface {
	Complete(ctx context.Context, conn lmbridge.Connection, req lmbridge.Request) (*lmbridge.Completion, error)
}

// FunctionSource looks connectors up on behalf of the stages.
type FunctionSource interface {
	// FindFunction returns nil without error when id names no connector.
	FindFunction(ctx context.Context, sessionID, id string) (*connector.Connector, error)
	QueryFunctions(ctx context.Context, sessionID string) ([]connector.Summary, error)
}

// UsageFunc receives the token usage of every completion a stage makes.
type UsageFunc func(stage, model string, usage lmbridge.Usage)

// Context is the per-session capability bundle handed to every stage.
type Context struct {
	Bridge      Completer
	Connection  lmbridge.Connection
	SessionID   string
	LangCode    string
	UserContext UserContext
	Prompts     prompts.Source
	Functions   FunctionSource
	OnUsage     UsageFunc
	Logger      logrus.FieldLogger
	Tracer      trace.Tracer
}

func (c *Context) logger(stage string) logrus.FieldLogger {
	l := c.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithFields(logrus.Fields{"session": c.SessionID, "stage": stage})
}

func (c *Context) langCode() string {
	if c.LangCode == "" {
		return "en"
	}
	return c.LangCode
}

// startSpan opens a span covering one stage execution.
func (c *Context) startSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	tracer := c.Tracer
	if tracer == nil {
		tracer = otel.Tracer("metaagent/stages")
	}
	return tracer.Start(ctx, "stage."+stage, trace.WithAttributes(
		attribute.String("session.id", c.SessionID),
		attribute.String("stage", stage),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Context) complete(ctx context.Context, stage string, req lmbridge.Request) (*lmbridge.Completion, error) {
	req.SessionID = c.SessionID
	req.Stage = stage
	completion, err := c.Bridge.Complete(ctx, c.Connection, req)
	if err != nil {
		return nil, err
	}
	if c.OnUsage != nil {
		model := completion.Model
		if model == "" {
			model = c.Connection.ModelName()
		}
		c.OnUsage(stage, model, completion.Usage)
	}
	return completion, nil
}

func (c *Context) findFunction(ctx context.Context, id string) (*connector.Connector, error) {
	if c.Functions == nil {
		return nil, nil
	}
	conn, err := c.Functions.FindFunction(ctx, c.SessionID, id)
	if err != nil {
		return nil, fmt.Errorf("find function %s: %w", id, err)
	}
	return conn, nil
}
