package mcp

import "sync"

// SessionRegistry maps operator IDs to MCP session IDs.
// Populated when a tool call carries an operator ID.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // operator → sessionID
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates an operator with a session. A reconnect overwrites
// the previous session.
func (r *SessionRegistry) Register(operator, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[operator] = sessionID
}

// SessionFor returns the session ID of an operator, if connected.
func (r *SessionRegistry) SessionFor(operator string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[operator]
	return sid, ok
}

// Remove deletes every operator mapped to sessionID.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for op, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, op)
		}
	}
}

// Len reports how many operators are mapped.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
