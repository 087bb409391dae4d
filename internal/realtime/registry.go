package realtime

import (
	"sync"
	"time"
)

// Sender delivers encoded events to one live transport connection. Close
// tears the transport down; it must be safe to call more than once.
type Sender interface {
	Send(data []byte) error
	Close() error
}

// Connection is a live transport session bound to a verified user. It is
// owned by the Registry for its lifetime.
type Connection struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	// lastHeartbeat is guarded by the owning liveness entry's hbMu.
	lastHeartbeat time.Time

	sender Sender
}

func NewConnection(id, userID string, sender Sender) *Connection {
	now := time.Now()
	return &Connection{
		ID:            id,
		UserID:        userID,
		ConnectedAt:   now,
		lastHeartbeat: now,
		sender:        sender,
	}
}

func (c *Connection) Send(data []byte) error {
	return c.sender.Send(data)
}

func (c *Connection) Close() error {
	return c.sender.Close()
}

// liveness holds the set of open connections for one user. Membership is
// guarded by the registry lock; hbMu guards only the connections' heartbeat
// timestamps so heartbeat refreshes never contend with fan-out reads.
type liveness struct {
	hbMu  sync.Mutex
	conns map[string]*Connection
}

// Registry tracks live connections and per-user liveness. All membership
// mutation happens under the registry write lock, so an entry can never be
// fetched and then deleted out from under a racing register: for any
// sequence of connects and disconnects exactly one "became online" and one
// "became offline" signal is observable, never more.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	users map[string]*liveness
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
		users: make(map[string]*liveness),
	}
}

// Register adds the connection and reports whether it took the user's
// liveness from zero to one.
func (r *Registry) Register(conn *Connection) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[conn.UserID]
	if !ok {
		entry = &liveness{conns: make(map[string]*Connection)}
		r.users[conn.UserID] = entry
	}
	entry.conns[conn.ID] = conn
	r.conns[conn.ID] = conn
	return len(entry.conns) == 1
}

// Deregister removes the connection and reports whether the user's liveness
// reached zero. Unknown connection ids report ok=false; double disconnects
// for the same id never signal a second transition.
func (r *Registry) Deregister(connID string) (userID string, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return "", false, false
	}
	delete(r.conns, connID)
	entry := r.users[conn.UserID]
	delete(entry.conns, connID)
	if len(entry.conns) == 0 {
		delete(r.users, conn.UserID)
		last = true
	}
	return conn.UserID, last, true
}

// Heartbeat refreshes the connection's last-heartbeat timestamp.
func (r *Registry) Heartbeat(connID string) error {
	r.mu.RLock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.RUnlock()
		return ErrUnknownConnection
	}
	entry := r.users[conn.UserID]
	r.mu.RUnlock()

	entry.hbMu.Lock()
	conn.lastHeartbeat = time.Now()
	entry.hbMu.Unlock()
	return nil
}

// Connection looks up a live connection by id.
func (r *Registry) Connection(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

// ConnectionsFor returns the user's currently open connections.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.users[userID]
	if !ok {
		return nil
	}
	conns := make([]*Connection, 0, len(entry.conns))
	for _, c := range entry.conns {
		conns = append(conns, c)
	}
	return conns
}

// IsOnline reports whether the user has at least one open connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// Entries are removed as soon as their last connection deregisters, so
	// presence in the map is the liveness signal.
	_, ok := r.users[userID]
	return ok
}

// OnlineUsers returns every user id with at least one open connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.users))
	for id := range r.users {
		users = append(users, id)
	}
	return users
}

// Stale returns connections whose last heartbeat is older than the cutoff.
// The caller force-deregisters them through the ordinary disconnect path.
func (r *Registry) Stale(cutoff time.Time) []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	entries := make(map[string]*liveness, len(r.users))
	for id, e := range r.users {
		entries[id] = e
	}
	r.mu.RUnlock()

	var stale []*Connection
	for _, c := range conns {
		entry, ok := entries[c.UserID]
		if !ok {
			continue
		}
		entry.hbMu.Lock()
		expired := c.lastHeartbeat.Before(cutoff)
		entry.hbMu.Unlock()
		if expired {
			stale = append(stale, c)
		}
	}
	return stale
}
