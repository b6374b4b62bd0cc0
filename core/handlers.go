package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"metaagent/connector"
	"metaagent/history"
	"metaagent/session"
)

const (
	inboxSize      = 16
	subscriberSize = 64
)

var errInboxFull = errors.New("too many pending messages")

// SessionHandler is the host side of one session: it feeds user input from
// the API into the session, executes connectors and mirrors the transcript
// to websocket subscribers.
type SessionHandler struct {
	sessionID      string
	catalog        *connector.Catalog
	executor       connector.Executor
	inbox          chan string
	logger         *logrus.Entry
	truncateLength int

	mutex       sync.Mutex
	subscribers map[chan StreamMessage]struct{}
}

var _ session.Delegate = (*SessionHandler)(nil)

func NewSessionHandler(sessionID string, catalog *connector.Catalog, executor connector.Executor, logger *logrus.Entry, config *Config) *SessionHandler {
	return &SessionHandler{
		sessionID:      sessionID,
		catalog:        catalog,
		executor:       executor,
		inbox:          make(chan string, inboxSize),
		logger:         logger,
		truncateLength: config.LogTruncateLength,
		subscribers:    make(map[chan StreamMessage]struct{}),
	}
}

// Helper function to truncate text for logging with configurable length
func (h *SessionHandler) truncateForLog(text string) string {
	if h.truncateLength <= 0 || len(text) <= h.truncateLength {
		return text
	}
	return text[:h.truncateLength] + "..."
}

// Deliver queues a user utterance for the next read.
func (h *SessionHandler) Deliver(message string) error {
	select {
	case h.inbox <- message:
		return nil
	default:
		return errInboxFull
	}
}

// Subscribe registers a transcript listener. The returned function
// unregisters it and closes the channel.
func (h *SessionHandler) Subscribe() (<-chan StreamMessage, func()) {
	ch := make(chan StreamMessage, subscriberSize)
	h.mutex.Lock()
	h.subscribers[ch] = struct{}{}
	h.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mutex.Lock()
			delete(h.subscribers, ch)
			h.mutex.Unlock()
			close(ch)
		})
	}
}

// broadcast never blocks the session; frames for a full subscriber are dropped.
func (h *SessionHandler) broadcast(msg StreamMessage) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			h.logger.WithField("type", msg.Type).Warn("Dropping frame for slow subscriber")
		}
	}
}

func (h *SessionHandler) OnRead(ctx context.Context) (string, error) {
	h.logger.Debug("Waiting for user input")
	select {
	case msg := <-h.inbox:
		return msg, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *SessionHandler) OnMessage(_ context.Context, d history.Dialog) error {
	fields := logrus.Fields{
		"dialogId": d.ID,
		"speaker":  d.Speaker.Kind,
		"type":     d.Message.Type,
	}
	if d.Message.Type == history.MessageText {
		fields["text"] = h.truncateForLog(d.Message.Text)
	}
	h.logger.WithFields(fields).Debug("Dialog appended")
	h.broadcast(StreamMessage{Type: "dialog", Dialog: &d})
	return nil
}

func (h *SessionHandler) OnCommit(context.Context) error {
	h.broadcast(StreamMessage{Type: "commit"})
	return nil
}

func (h *SessionHandler) OnRollback(context.Context) error {
	h.logger.Info("Transcript rolled back")
	h.broadcast(StreamMessage{Type: "rollback"})
	return nil
}

func (h *SessionHandler) OnConnectorCall(ctx context.Context, conn *connector.Connector, args []json.RawMessage) (json.RawMessage, error) {
	logger := h.logger.WithField("connector", conn.Key())
	logger.WithField("argCount", len(args)).Info("Executing connector")

	out, err := h.executor.Execute(ctx, conn, args)
	if err != nil {
		logger.WithError(err).Warn("Connector call failed")
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"output":       h.truncateForLog(string(out)),
		"outputLength": len(out),
	}).Debug("Connector call completed")
	return out, nil
}

func (h *SessionHandler) OnStatistics(stats session.Statistics) {
	h.logger.WithFields(logrus.Fields{
		"stage":        stats.Stage,
		"model":        stats.Model,
		"inputTokens":  stats.InputTokens,
		"outputTokens": stats.OutputTokens,
		"cost":         stats.Cost,
	}).Debug("Stage usage")
	h.broadcast(StreamMessage{Type: "statistics", Statistics: &stats})
}

func (h *SessionHandler) OnError(err error) {
	h.logger.WithError(err).Error("Session ended with an error")
	h.broadcast(StreamMessage{Type: "error", Content: err.Error()})
}

func (h *SessionHandler) FindFunction(_ context.Context, _ string, id string) (*connector.Connector, error) {
	conn, ok := h.catalog.Find(id)
	if !ok {
		return nil, nil
	}
	return conn, nil
}

func (h *SessionHandler) QueryFunctions(context.Context, string) ([]connector.Summary, error) {
	return h.catalog.Summaries(), nil
}
