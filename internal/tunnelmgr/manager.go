// Package tunnelmgr tracks the live tunnel control connections on the
// relay side and hands out shared references to ingress components.
package tunnelmgr

import (
	"sync"

	"github.com/localup-dev/localup/internal/transport"
)

// Handle is a shared, reference-counted reference to a tunnel's
// transport connection. The Manager itself holds one implicit
// reference for as long as the tunnel is registered; every ingress
// component that dials into the tunnel acquires its own via Get and
// releases it with Release when it is done. The underlying
// connection is closed only once every reference, including the
// Manager's, has been released or the handle is explicitly aborted.
type Handle struct {
	TunnelID string

	mu     sync.Mutex
	conn   transport.Connection
	refs   int
	closed bool
}

func newHandle(tunnelID string, conn transport.Connection) *Handle {
	return &Handle{TunnelID: tunnelID, conn: conn, refs: 1}
}

// Connection returns the underlying transport connection.
func (h *Handle) Connection() transport.Connection {
	return h.conn
}

// acquire increments the reference count. Must not be called after
// the handle has been removed from the Manager's map.
func (h *Handle) acquire() {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

// Release drops one reference, closing the transport connection when
// the count reaches zero.
func (h *Handle) Release() {
	h.mu.Lock()
	h.refs--
	shouldClose := h.refs <= 0 && !h.closed
	if shouldClose {
		h.closed = true
	}
	h.mu.Unlock()

	if shouldClose {
		h.conn.Close(0, "released")
	}
}

// Abort closes the underlying connection immediately, regardless of
// outstanding references, delivering reason to the peer where the
// transport binding supports it. Used when a duplicate tunnel_id
// replaces this handle.
func (h *Handle) Abort(reason string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.conn.Close(0, reason)
}

// Manager is the tunnel connection registry (C5). It is safe for
// concurrent use; readers never block each other.
type Manager struct {
	mu      sync.RWMutex
	tunnels map[string]*Handle
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{tunnels: make(map[string]*Handle)}
}

// Insert registers conn under tunnelID. If a connection is already
// registered under the same id, it is aborted with reason "replaced"
// before the new one is installed; this is not a duplicate error
// because clients may legitimately reconnect before the relay has
// noticed the prior connection is dead.
func (m *Manager) Insert(tunnelID string, conn transport.Connection) *Handle {
	h := newHandle(tunnelID, conn)

	m.mu.Lock()
	prior, existed := m.tunnels[tunnelID]
	m.tunnels[tunnelID] = h
	m.mu.Unlock()

	if existed {
		prior.Abort("replaced")
	}
	return h
}

// Get returns the handle for tunnelID with an acquired reference the
// caller must Release, or false if no tunnel is registered under that
// id.
func (m *Manager) Get(tunnelID string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.tunnels[tunnelID]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	h.acquire()
	return h, true
}

// Remove unregisters tunnelID and releases the Manager's own
// reference, closing the connection if no ingress still holds one.
// It is a no-op if a different handle now occupies tunnelID (the
// entry was already replaced).
func (m *Manager) Remove(tunnelID string, h *Handle) {
	m.mu.Lock()
	if current, ok := m.tunnels[tunnelID]; ok && current == h {
		delete(m.tunnels, tunnelID)
	}
	m.mu.Unlock()

	h.Release()
}
