package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"metaagent/connector"
	"metaagent/history"
	"metaagent/lmbridge"
	"metaagent/stages"
)

const paramFailurePrefix = "SYSTEM FAILURE: something is wrong with the parameter generator:\n\n"

// Launch runs the session loop until ctx is cancelled or an unexpected
// error ends it. Cancellation returns nil; any other terminating error is
// reported to OnError and returned.
func (s *Session) Launch(ctx context.Context) error {
	if !s.launched.CompareAndSwap(false, true) {
		return ErrAlreadyLaunched
	}

	s.emitter.mu.Lock()
	removed := s.emitter.history.RollbackToSafePoint()
	s.emitter.mu.Unlock()
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Dropped unfinished tool exchange")
		if err := s.delegate.OnRollback(ctx); err != nil {
			s.delegate.OnError(err)
			return err
		}
	}

	s.logger.Info("Session launched")
	defer s.logger.Info("Session ended")

	var previousError string
	for {
		if ctx.Err() != nil {
			return nil
		}

		stepCtx, done := s.stepContext(ctx)
		pastRead, err := s.step(stepCtx, previousError)
		aborted := stepCtx.Err() != nil && ctx.Err() == nil
		done()
		previousError = ""

		switch {
		case ctx.Err() != nil:
			return nil
		case aborted:
			if !pastRead {
				s.logger.Debug("Read aborted")
				continue
			}
			if err := s.emitter.rollbackUserInput(ctx); err != nil {
				s.delegate.OnError(err)
				return err
			}
		case err == nil:
		case stages.IsStageError(err):
			s.logger.WithError(err).Warn("Stage failed; feeding the error back to the agent")
			previousError = err.Error()
		default:
			s.logger.WithError(err).Error("Session failed")
			s.delegate.OnError(err)
			return err
		}
	}
}

// step runs one turn. pastRead reports whether the user's input for this
// turn had already been taken when the step returned.
func (s *Session) step(ctx context.Context, previousError string) (pastRead bool, err error) {
	ctx, span := s.manager.opts.Tracer.Start(ctx, "session.step", trace.WithAttributes(
		attribute.String("session.id", s.id),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var query string
	dialogs := s.emitter.snapshot()
	if last, ok := s.emitter.last(); !ok || last.IsAssistantReply() {
		if err := s.emitter.commit(ctx); err != nil {
			return false, err
		}
		text, err := s.delegate.OnRead(ctx)
		if err != nil {
			return false, fmt.Errorf("read user input: %w", err)
		}
		// Text handed over by the host is recorded even when the step was
		// aborted meanwhile; the abort then rolls it back.
		if err := s.emitter.emit(ctx, history.UserText(text)); err != nil {
			return true, err
		}
		if err := s.emitter.commit(ctx); err != nil {
			return true, err
		}
		query = text
	}

	actions, err := s.manager.agent.Execute(ctx, s.stageCtx, stages.AgentInput{
		PlatformInfo: s.platform,
		UserQuery:    query,
		LastFailure:  previousError,
		History:      dialogs,
	})
	if err != nil {
		return true, err
	}

	for _, action := range actions {
		switch a := action.(type) {
		case *stages.ChatAction:
			err = s.emitter.emit(ctx, history.AssistantText(stages.StageAgent, a.Message))
		case *stages.LookupFunctionsAction:
			err = s.lookupFunctions(ctx, a)
		case *stages.RunFunctionsAction:
			err = s.runFunctions(ctx, a)
		}
		if err != nil {
			return true, err
		}
	}
	return true, s.emitter.commit(ctx)
}

func toHistoryToolUse(use lmbridge.ToolUse) history.ToolUse {
	return history.ToolUse{ID: use.ID, Name: use.Name, Arguments: use.Arguments}
}

// lookupEntry is how a found connector is shown to the agent.
type lookupEntry struct {
	FunctionID    string                   `json:"function_id"`
	Description   string                   `json:"description,omitempty"`
	Prerequisites []connector.Prerequisite `json:"prerequisites,omitempty"`
}

func (s *Session) lookupFunctions(ctx context.Context, a *stages.LookupFunctionsAction) error {
	use := toHistoryToolUse(a.Call)
	if err := s.emitter.emit(ctx, history.AssistantToolUse(stages.StageAgent, use)); err != nil {
		return err
	}

	found := make([][]*connector.Connector, len(a.Queries))
	errs := make([]error, len(a.Queries))
	var wg sync.WaitGroup
	for i, q := range a.Queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			found[i], errs[i] = s.manager.finder.Execute(ctx, s.stageCtx, q)
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	entries := []lookupEntry{}
	for i, conns := range found {
		if errs[i] != nil {
			if errors.Is(errs[i], lmbridge.ErrBackoffExhausted) {
				return errs[i]
			}
			s.logger.WithError(errs[i]).WithField("query", a.Queries[i].Query).Warn("Connector search failed")
			continue
		}
		for _, conn := range conns {
			if seen[conn.Key()] {
				continue
			}
			seen[conn.Key()] = true
			entries = append(entries, lookupEntry{
				FunctionID:    conn.Key(),
				Description:   conn.Description,
				Prerequisites: conn.Prerequisites,
			})
		}
	}

	content, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode lookup result: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"queries": len(a.Queries), "found": len(entries)}).Info("Looked up functions")
	return s.emitter.emit(ctx, history.AssistantToolResult(stages.StageAgent, use, false, content))
}

func (s *Session) runFunctions(ctx context.Context, a *stages.RunFunctionsAction) error {
	use := toHistoryToolUse(a.Call)
	if err := s.emitter.emit(ctx, history.AssistantToolUse(stages.StageAgent, use)); err != nil {
		return err
	}
	dialogs := s.emitter.snapshot()

	params := make([]stages.ParamOutput, len(a.Items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range a.Items {
		g.Go(func() error {
			out, err := s.manager.paramgen.Execute(gctx, s.stageCtx, stages.ParamInput{
				Connector: item.Function,
				Purpose:   item.Purpose,
				History:   dialogs,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", item.Function.Key(), err)
			}
			params[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, lmbridge.ErrBackoffExhausted) {
			return err
		}
		s.logger.WithError(err).Warn("Parameter generation failed")
		content, _ := json.Marshal(paramFailurePrefix + err.Error())
		return s.emitter.emit(ctx, history.AssistantToolResult(stages.StageAgent, use, true, content))
	}

	outcomes := make([]settled, len(a.Items))
	var wg sync.WaitGroup
	for i, item := range a.Items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := s.delegate.OnConnectorCall(ctx, item.Function, params[i].Arguments)
			outcomes[i] = settled{value: value, err: err}
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	result := buildFunctionCallResult(a.Items, params, outcomes)
	failed := 0
	for _, item := range result.Items {
		if !item.IsSuccess {
			failed++
		}
	}
	s.logger.WithFields(logrus.Fields{"calls": len(result.Items), "failed": failed}).Info("Ran functions")

	content, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode function call result: %w", err)
	}
	return s.emitter.emit(ctx, history.AssistantToolResult(stages.StageAgent, use, false, content))
}
