/*
Package core provides launch cancellation management for the agent host.

This file implements the CancelManager, which tracks running session launches
so that a session can be stopped from the API or when the host shuts down.
*/
package core

import (
	"context"
	"sort"
	"sync"
)

// CancelManager tracks running session launches and their cancellation
// functions.
type CancelManager struct {
	launches map[string]context.CancelFunc // Map of session ID to launch cancellation function
	mutex    sync.RWMutex
}

// NewCancelManager creates an empty cancel manager.
//
// Returns:
//   - *CancelManager: Initialized cancel manager ready for use
func NewCancelManager() *CancelManager {
	return &CancelManager{
		launches: make(map[string]context.CancelFunc),
	}
}

// Add registers the cancellation function of a session launch. A previous
// registration under the same ID is replaced.
//
// Parameters:
//   - sessionID: Session whose launch is running
//   - cancel: Function that stops the launch
func (cm *CancelManager) Add(sessionID string, cancel context.CancelFunc) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.launches[sessionID] = cancel
}

// Remove forgets a finished launch.
func (cm *CancelManager) Remove(sessionID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.launches, sessionID)
}

// Cancel stops a running launch and forgets it.
//
// Parameters:
//   - sessionID: Session whose launch should stop
//
// Returns:
//   - bool: true if the launch was running, false if not found
func (cm *CancelManager) Cancel(sessionID string) bool {
	cm.mutex.Lock()
	cancel, exists := cm.launches[sessionID]
	delete(cm.launches, sessionID)
	cm.mutex.Unlock()

	if exists {
		cancel()
	}
	return exists
}

// CancelAll stops every running launch. Used on shutdown.
func (cm *CancelManager) CancelAll() int {
	cm.mutex.Lock()
	launches := cm.launches
	cm.launches = make(map[string]context.CancelFunc)
	cm.mutex.Unlock()

	for _, cancel := range launches {
		cancel()
	}
	return len(launches)
}

// Active returns the IDs of the running launches in sorted order.
func (cm *CancelManager) Active() []string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	ids := make([]string, 0, len(cm.launches))
	for id := range cm.launches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
