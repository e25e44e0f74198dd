package mcp

import "sync"

// SessionRegistry tracks connected MCP session IDs. Populated by the
// server's session hooks.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]struct{}
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]struct{})}
}

// Add records a connected session. Adding twice is a no-op.
func (r *SessionRegistry) Add(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = struct{}{}
}

// Remove forgets a session.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Has reports whether the session is connected.
func (r *SessionRegistry) Has(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Count returns the number of connected sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
