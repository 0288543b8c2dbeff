// Package registry tracks live client connections per user and session so any
// task in the process can push out-of-band notices to them.
package registry

import "sync"

// SessionIDKey is the documented top-level payload key that selects targeted
// delivery. Messages without it broadcast to every connection of the user.
const SessionIDKey = "session_id"

// Connection is a handle able to accept an outbound push. Implementations
// must be safe for concurrent Send calls and must not block indefinitely.
type Connection interface {
	Send(message map[string]any) error
}

type key struct {
	userID    string
	sessionID string
}

// Registry maps (user, session) pairs to live connections. A user may hold
// several concurrent sessions. Structural mutations are serialized; pushes
// only take the read lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[key]Connection
}

func New() *Registry {
	return &Registry{conns: make(map[key]Connection)}
}

// Register adds (or replaces) the connection for a user session.
func (r *Registry) Register(userID, sessionID string, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[key{userID: userID, sessionID: sessionID}] = conn
}

// Unregister removes the mapping on disconnect. Unknown pairs are a no-op.
func (r *Registry) Unregister(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, key{userID: userID, sessionID: sessionID})
}

// PushToUser delivers message to the user's connections. When the payload
// carries SessionIDKey only the matching session receives it; otherwise every
// connection of the user does. Returns whether at least one connection took
// the message. A user with no connections yields false, never an error.
func (r *Registry) PushToUser(userID string, message map[string]any) bool {
	targetSession := ""
	if raw, ok := message[SessionIDKey]; ok {
		if s, ok := raw.(string); ok {
			targetSession = s
		}
	}

	r.mu.RLock()
	var targets []Connection
	for k, conn := range r.conns {
		if k.userID != userID {
			continue
		}
		if targetSession != "" && k.sessionID != targetSession {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	delivered := false
	for _, conn := range targets {
		if err := conn.Send(message); err == nil {
			delivered = true
		}
	}
	return delivered
}

// ConnectionCount reports the number of live connections for a user.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k := range r.conns {
		if k.userID == userID {
			n++
		}
	}
	return n
}
