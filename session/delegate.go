package session

import (
	"context"
	"encoding/json"

	"metaagent/connector"
	"metaagent/history"
)

// Statistics is the usage of one stage completion.
type Statistics struct {
	SessionID    string  `json:"session_id"`
	Stage        string  `json:"stage"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Delegate is how a session reaches its host. Callbacks are invoked from
// the session's goroutine, except OnStatistics and OnConnectorCall, which
// may run concurrently.
type Delegate interface {
	// OnRead blocks until the user says something.
	OnRead(ctx context.Context) (string, error)
	// OnMessage is called after every dialog appended to the history.
	OnMessage(ctx context.Context, d history.Dialog) error
	OnCommit(ctx context.Context) error
	OnRollback(ctx context.Context) error
	// OnConnectorCall runs one connector. An error is recorded as a failed
	// call, never as a session failure.
	OnConnectorCall(ctx context.Context, conn *connector.Connector, args []json.RawMessage) (json.RawMessage, error)
	OnStatistics(stats Statistics)
	// OnError receives the error that ended the session.
	OnError(err error)

	// FindFunction returns nil without error when id names no connector.
	FindFunction(ctx context.Context, sessionID, id string) (*connector.Connector, error)
	QueryFunctions(ctx context.Context, sessionID string) ([]connector.Summary, error)
}

// BaseDelegate implements the optional callbacks as no-ops. Embed it and
// override what the host needs.
type BaseDelegate struct{}

func (BaseDelegate) OnMessage(context.Context, history.Dialog) error { return nil }
func (BaseDelegate) OnCommit(context.Context) error                  { return nil }
func (BaseDelegate) OnRollback(context.Context) error                { return nil }
func (BaseDelegate) OnStatistics(Statistics)                         {}
func (BaseDelegate) OnError(error)                                   {}
