/*
Package core provides in-memory session storage for the agent host.

This file implements a thread-safe store of hosted sessions. Each entry pairs
a running session with the handler that connects it to the API. Sessions that
have ended are removed once they have been idle longer than the configured
maximum age.
*/
package core

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"metaagent/session"
)

var (
	errSessionExists    = errors.New("session already exists")
	errTooManySessions  = errors.New("too many running sessions")
	errSessionNotFound  = errors.New("session not found")
	errSessionNotActive = errors.New("session is not running")
)

// HostedSession is one session together with its host-side state.
type HostedSession struct {
	Session *session.Session
	Handler *SessionHandler
	Created time.Time

	mutex   sync.RWMutex
	updated time.Time
	status  SessionStatus
	err     error
}

func newHostedSession(s *session.Session, h *SessionHandler) *HostedSession {
	now := time.Now()
	return &HostedSession{
		Session: s,
		Handler: h,
		Created: now,
		updated: now,
		status:  StatusRunning,
	}
}

// Touch records activity on the session.
func (h *HostedSession) Touch() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.updated = time.Now()
}

// Finish marks the session as ended, or failed when err is set.
func (h *HostedSession) Finish(err error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.updated = time.Now()
	h.status = StatusEnded
	if err != nil {
		h.status = StatusFailed
		h.err = err
	}
}

func (h *HostedSession) Status() SessionStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.status
}

// Info describes the session, with its transcript when withDialogs is set.
func (h *HostedSession) Info(withDialogs bool) SessionInfo {
	dialogs := h.Session.History()

	h.mutex.RLock()
	info := SessionInfo{
		ID:          h.Session.ID(),
		Status:      h.status,
		Created:     h.Created,
		Updated:     h.updated,
		DialogCount: len(dialogs),
		Cost:        h.Session.ComputeCost(),
	}
	if h.err != nil {
		info.Error = h.err.Error()
	}
	h.mutex.RUnlock()

	if withDialogs {
		info.Dialogs = dialogs
	}
	return info
}

func (h *HostedSession) idleSince(now time.Time) time.Duration {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return now.Sub(h.updated)
}

// SessionStore manages hosted sessions with automatic expiry.
type SessionStore struct {
	sessions        map[string]*HostedSession
	mutex           sync.RWMutex
	maxAge          time.Duration
	cleanupInterval time.Duration
	maxRunning      int
	logger          *logrus.Logger
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewSessionStore creates a store and starts its background cleanup.
//
// Parameters:
//   - maxAge: Idle time after which an ended session is removed
//   - cleanupInterval: How often to run the cleanup process
//   - maxRunning: Running sessions allowed at once; 0 means unlimited
//   - logger: Logger instance for operational monitoring
//
// Returns:
//   - *SessionStore: Store ready for use; call Close to stop the cleanup
func NewSessionStore(maxAge, cleanupInterval time.Duration, maxRunning int, logger *logrus.Logger) *SessionStore {
	store := &SessionStore{
		sessions:        make(map[string]*HostedSession),
		maxAge:          maxAge,
		cleanupInterval: cleanupInterval,
		maxRunning:      maxRunning,
		logger:          logger,
		stop:            make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go store.cleanupLoop()
	}
	return store
}

// Close stops the background cleanup.
func (m *SessionStore) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Add stores a new running session.
func (m *SessionStore) Add(h *HostedSession) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	id := h.Session.ID()
	if _, exists := m.sessions[id]; exists {
		return errSessionExists
	}
	if m.maxRunning > 0 && m.running() >= m.maxRunning {
		return errTooManySessions
	}
	m.sessions[id] = h
	m.logger.WithField("sessionID", id).Info("Session stored")
	return nil
}

// running counts running sessions. Callers hold the lock.
func (m *SessionStore) running() int {
	n := 0
	for _, h := range m.sessions {
		if h.Status() == StatusRunning {
			n++
		}
	}
	return n
}

// Reserve reports whether another session may start.
func (m *SessionStore) Reserve(id string) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, exists := m.sessions[id]; exists {
		return errSessionExists
	}
	if m.maxRunning > 0 && m.running() >= m.maxRunning {
		return errTooManySessions
	}
	return nil
}

func (m *SessionStore) Get(sessionID string) (*HostedSession, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	h, exists := m.sessions[sessionID]
	return h, exists
}

// Delete removes a session from the store.
func (m *SessionStore) Delete(sessionID string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, exists := m.sessions[sessionID]
	if exists {
		delete(m.sessions, sessionID)
		m.logger.WithField("sessionID", sessionID).Info("Session deleted")
	}
	return exists
}

// All returns the stored sessions, oldest first.
func (m *SessionStore) All() []*HostedSession {
	m.mutex.RLock()
	out := make([]*HostedSession, 0, len(m.sessions))
	for _, h := range m.sessions {
		out = append(out, h)
	}
	m.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

func (m *SessionStore) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.cleanupExpired(now)
		}
	}
}

// cleanupExpired removes ended sessions idle for longer than maxAge.
// Running sessions are never expired.
func (m *SessionStore) cleanupExpired(now time.Time) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	expired := 0
	for id, h := range m.sessions {
		if h.Status() != StatusRunning && h.idleSince(now) > m.maxAge {
			delete(m.sessions, id)
			expired++
		}
	}

	if expired > 0 {
		m.logger.WithFields(logrus.Fields{
			"expiredSessions":   expired,
			"remainingSessions": len(m.sessions),
			"cleanupInterval":   m.cleanupInterval,
		}).Info("Cleaned up expired sessions")
	}
	return expired
}

// Stats returns counts for the status endpoint.
func (m *SessionStore) Stats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"totalSessions":   len(m.sessions),
		"runningSessions": m.running(),
	}
}
