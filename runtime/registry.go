package runtime

import (
	"chat-hub/domain"
	"chat-hub/errors"
	"sync"
	"time"
)

// Registry owns every live session. It keeps two views of the same state:
// connection -> session and principal key -> connection. All operations are
// atomic with respect to each other and never block on I/O, so two
// concurrent binds for the same key resolve to exactly one surviving
// session under a total order.
type Registry struct {
	mu     sync.RWMutex
	byConn map[domain.ConnID]domain.Session
	byKey  map[string]domain.ConnID
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[domain.ConnID]domain.Session),
		byKey:  make(map[string]domain.ConnID),
		now:    time.Now,
	}
}

// Bind installs a session binding conn to p. If another connection already
// holds a session for p.Key, that session is removed and returned as
// displaced before the new one is installed. Binding a connection that
// already has a session is a caller error, not a displacement.
func (r *Registry) Bind(conn domain.ConnID, p domain.Principal) (domain.Session, *domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[conn]; ok {
		return domain.Session{}, nil, errors.ErrAlreadyBound
	}

	var displaced *domain.Session
	if prevConn, ok := r.byKey[p.Key]; ok {
		prev := r.byConn[prevConn]
		displaced = &prev
		delete(r.byConn, prevConn)
	}

	sess := domain.Session{Conn: conn, Principal: p, BoundAt: r.now().UTC()}
	r.byConn[conn] = sess
	r.byKey[p.Key] = conn
	return sess, displaced, nil
}

// Unbind removes and returns the session for conn, or nil if absent.
// Calling it twice in a row is safe and returns nil the second time.
func (r *Registry) Unbind(conn domain.ConnID) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byConn[conn]
	if !ok {
		return nil
	}
	delete(r.byConn, conn)

	// Only drop the key index if it still points at this connection;
	// a displacement may have repointed it already.
	if current, ok := r.byKey[sess.Principal.Key]; ok && current == conn {
		delete(r.byKey, sess.Principal.Key)
	}
	return &sess
}

// Lookup resolves "who is sending this message" for a connection.
func (r *Registry) Lookup(conn domain.ConnID) *domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.byConn[conn]
	if !ok {
		return nil
	}
	return &sess
}

// Count returns the number of currently bound sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
