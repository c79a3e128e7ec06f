// Package routes implements the relay's route tables: which public
// key (HTTP host, TLS SNI name, or TCP port) maps to which tunnel or
// direct backend address.
package routes

import (
	"net"
	"sync"
)

// Kind distinguishes the three independent key spaces. A key is only
// ever compared against other keys of the same Kind.
type Kind int

const (
	HTTPHost Kind = iota
	TLSSNI
	TCPPort
)

// Key identifies a route table entry. For TCPPort, Value holds the
// decimal port number.
type Key struct {
	Kind  Kind
	Value string
}

// Target is what a Key resolves to: either a tunnel (TunnelID set) or
// a direct backend address (Address set, TunnelID empty). IPFilter,
// when non-empty, lists the CIDRs allowed to use this route; every
// other remote address is rejected before a substream is opened.
type Target struct {
	TunnelID string
	Address  string
	IPFilter []string
}

// IsTunnel reports whether this target routes to a tunnel connection
// rather than a direct backend address.
func (t Target) IsTunnel() bool {
	return t.TunnelID != ""
}

// AllowsRemoteIP reports whether remoteIP may use this route. An
// empty IPFilter permits every address; otherwise remoteIP must fall
// inside at least one listed CIDR (a bare IP is treated as a /32 or
// /128).
func (t Target) AllowsRemoteIP(remoteIP net.IP) bool {
	if len(t.IPFilter) == 0 {
		return true
	}
	for _, entry := range t.IPFilter {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			if network.Contains(remoteIP) {
				return true
			}
			continue
		}
		if ip := net.ParseIP(entry); ip != nil && ip.Equal(remoteIP) {
			return true
		}
	}
	return false
}

// Registry holds the three route tables behind a single reader-writer
// lock. Readers never block each other; a writer blocks both readers
// and other writers only for the duration of the map mutation, so a
// concurrent Lookup observes either the prior state or the fully
// installed new entry, never a torn read.
type Registry struct {
	mu     sync.RWMutex
	tables map[Kind]map[string]Target
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		tables: map[Kind]map[string]Target{
			HTTPHost: make(map[string]Target),
			TLSSNI:   make(map[string]Target),
			TCPPort:  make(map[string]Target),
		},
	}
}

// Register installs key -> target. It fails with *ErrKeyExists if the
// key is already routed.
func (r *Registry) Register(key Key, target Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.tables[key.Kind]
	if _, exists := table[key.Value]; exists {
		return &ErrKeyExists{Key: key.Value}
	}
	table[key.Value] = target
	return nil
}

// Unregister removes key, if present. It is a no-op otherwise.
func (r *Registry) Unregister(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables[key.Kind], key.Value)
}

// Lookup resolves key to its Target, or *ErrNotFound.
func (r *Registry) Lookup(key Key) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target, ok := r.tables[key.Kind][key.Value]
	if !ok {
		return Target{}, &ErrNotFound{Key: key.Value}
	}
	return target, nil
}

// LookupByTunnel returns every key currently routed to tunnelID,
// across all three key spaces. Used at tunnel deregistration to know
// which routes to unregister.
func (r *Registry) LookupByTunnel(tunnelID string) []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var keys []Key
	for kind, table := range r.tables {
		for value, target := range table {
			if target.TunnelID == tunnelID {
				keys = append(keys, Key{Kind: kind, Value: value})
			}
		}
	}
	return keys
}
