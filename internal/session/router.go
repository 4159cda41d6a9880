// internal/session/router.go
package session

import (
	"sync"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/sirupsen/logrus"
)

// DefaultOutboxSize is the per-connection buffer of pending outbound events.
const DefaultOutboxSize = 32

// Conn is one live connection's outbound queue. The transport drains Outbox; only the
// Router enqueues, so the channel is never written after it is closed.
type Conn struct {
	ID  string
	out chan Event
}

// Outbox yields events in the order they were routed. It is closed on Unregister.
func (c *Conn) Outbox() <-chan Event { return c.out }

// Router delivers events to single connections, to the members of a lobby, or to everyone.
type Router struct {
	mu         sync.RWMutex
	conns      map[string]*Conn
	outboxSize int
	logger     *logrus.Logger
}

// NewRouter returns an empty Router. outboxSize <= 0 uses DefaultOutboxSize.
func NewRouter(logger *logrus.Logger, outboxSize int) *Router {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Router{
		conns:      make(map[string]*Conn),
		outboxSize: outboxSize,
		logger:     logger,
	}
}

// Register adds a connection. Registering an id twice replaces the old queue.
func (r *Router) Register(id string) *Conn {
	conn := &Conn{ID: id, out: make(chan Event, r.outboxSize)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[id]; ok {
		close(old.out)
	}
	r.conns[id] = conn
	return conn
}

// Unregister removes a connection and closes its outbox. Unknown ids are ignored.
func (r *Router) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		close(conn.out)
		delete(r.conns, id)
	}
}

// Count returns the number of registered connections.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers ev to one connection. It reports whether the event was queued.
func (r *Router) Send(id string, ev Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	return r.enqueue(conn, ev)
}

// SendLobby delivers ev to every member of lob except the listed ids.
func (r *Router) SendLobby(lob *lobby.Lobby, ev Event, except ...string) {
	if lob == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range lob.Players {
		if contains(except, p.ID) {
			continue
		}
		if conn, ok := r.conns[p.ID]; ok {
			r.enqueue(conn, ev)
		}
	}
}

// Broadcast delivers ev to every registered connection.
func (r *Router) Broadcast(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.conns {
		r.enqueue(conn, ev)
	}
}

// enqueue never blocks; a full outbox drops the event. Assumes r.mu is held.
func (r *Router) enqueue(conn *Conn, ev Event) bool {
	select {
	case conn.out <- ev:
		return true
	default:
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"conn": conn.ID, "type": ev.Type}).Warn("outbox full, dropped event")
		}
		return false
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
