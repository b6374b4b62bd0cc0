package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"metaagent/history"
)

// emitter is the only writer of a session's history. Every change is
// mirrored to the delegate.
type emitter struct {
	mu       sync.RWMutex
	history  *history.History
	delegate Delegate
	logger   logrus.FieldLogger
}

func (e *emitter) snapshot() []history.Dialog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.Dialogs()
}

func (e *emitter) last() (history.Dialog, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.Last()
}

func (e *emitter) emit(ctx context.Context, d history.Dialog) error {
	e.mu.Lock()
	err := e.history.Append(d)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.delegate.OnMessage(ctx, d)
}

func (e *emitter) commit(ctx context.Context) error {
	e.logger.Debug("Committing the chat history")
	return e.delegate.OnCommit(ctx)
}

// rollbackUserInput drops the trailing tool exchange together with the
// turn that started it.
func (e *emitter) rollbackUserInput(ctx context.Context) error {
	e.mu.Lock()
	removed := e.history.Rollback(history.Exclusive, func(d history.Dialog) bool {
		return !d.Message.IsToolExchange()
	})
	e.mu.Unlock()
	e.logger.WithField("removed", removed).Info("Rolled back interrupted turn")
	return e.delegate.OnRollback(ctx)
}
