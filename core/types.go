/*
Package core contains the request and response types of the agent host API.

Key type categories:
- Session lifecycle types (CreateSessionRequest, SessionInfo)
- Conversation input (MessageRequest)
- Real-time transcript frames (StreamMessage)
- Control responses (ControlResponse)
*/
package core

import (
	"time"

	"metaagent/history"
	"metaagent/session"
	"metaagent/stages"
)

// CreateSessionRequest starts a new session. Every field is optional.
type CreateSessionRequest struct {
	SessionID      string             `json:"sessionId,omitempty"`      // Client chosen ID; generated when empty
	Backend        string             `json:"backend,omitempty"`        // Provider override: openai, claude, gemini or ollama
	Model          string             `json:"model,omitempty"`          // Model override
	PlatformPrompt string             `json:"platformPrompt,omitempty"` // Description of the hosting platform
	UserContext    stages.UserContext `json:"userContext"`              // Profile of the user
	Dialogs        []history.Dialog   `json:"dialogs,omitempty"`        // Transcript to resume from
	Message        string             `json:"message,omitempty"`        // First user utterance, queued right away
}

// MessageRequest delivers the next user utterance to a session.
type MessageRequest struct {
	Message string `json:"message"`
}

// SessionStatus is the lifecycle state of a hosted session.
type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusEnded   SessionStatus = "ended"
	StatusFailed  SessionStatus = "failed"
)

// SessionInfo describes a hosted session.
type SessionInfo struct {
	ID          string             `json:"id"`
	Status      SessionStatus      `json:"status"`
	Error       string             `json:"error,omitempty"`
	Created     time.Time          `json:"created"`
	Updated     time.Time          `json:"updated"`
	DialogCount int                `json:"dialogCount"`
	Cost        session.CostDetail `json:"cost"`
	Dialogs     []history.Dialog   `json:"dialogs,omitempty"`
}

// StreamMessage is one frame of the live transcript mirror. The Type field
// selects which of the other fields is set: "dialog", "commit", "rollback",
// "statistics", "error" or "ended".
type StreamMessage struct {
	Type       string              `json:"type"`
	Dialog     *history.Dialog     `json:"dialog,omitempty"`
	Statistics *session.Statistics `json:"statistics,omitempty"`
	Content    string              `json:"content,omitempty"`
}

// ControlResponse answers abort, cancel and message delivery requests.
type ControlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
