// Package agents tracks registered reverse-tunnel agents on the relay
// side.
package agents

import (
	"sync"

	"github.com/localup-dev/localup/internal/transport"
)

// Agent is a registered agent's connection and advertised target
// address.
type Agent struct {
	AgentID       string
	TargetAddress string
	Conn          transport.Connection
}

// Registry is the agent registry (C6). Re-registration under the
// same AgentID replaces the prior record without treating it as an
// error: agents reconnect aggressively after transient network
// failure, and rejecting the reconnect as a duplicate would strand
// every reverse tunnel depending on that agent.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Insert registers or replaces the agent under agentID. It returns
// the previous connection, if any, so the caller can close it.
func (r *Registry) Insert(agent *Agent) (prior transport.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.agents[agent.AgentID]; ok {
		prior = old.Conn
	}
	r.agents[agent.AgentID] = agent
	return prior
}

// Get returns the agent registered under agentID.
func (r *Registry) Get(agentID string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// Remove unregisters agentID. It is a no-op if the current record
// under agentID is not exactly conn (it was already replaced by a
// reconnect).
func (r *Registry) Remove(agentID string, conn transport.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok && a.Conn == conn {
		delete(r.agents, agentID)
	}
}

// FindByAddress returns the agent whose TargetAddress exactly equals
// addr (string equality on "host:port", no normalization).
func (r *Registry) FindByAddress(addr string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if a.TargetAddress == addr {
			return a, true
		}
	}
	return nil, false
}
