// Package discovery implements the relay-served protocol discovery
// document and the client-side transport selection it enables:
// GET /.well-known/localup/protocols.
package discovery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// WellKnownPath is the public discovery endpoint path.
const WellKnownPath = "/.well-known/localup/protocols"

// Protocol is one transport offering in the discovery document.
type Protocol string

const (
	ProtocolQUIC Protocol = "quic"
	ProtocolH2   Protocol = "h2"
	ProtocolWS   Protocol = "ws"
)

// Transport describes one advertised binding.
type Transport struct {
	Protocol Protocol `json:"protocol"`
	Port     uint16   `json:"port"`
	Path     string   `json:"path,omitempty"`
	Priority uint8    `json:"priority"`
}

// Document is the full discovery response body.
type Document struct {
	Transports []Transport `json:"transports"`
}

// DefaultDocument returns the conventional priority ordering: QUIC
// highest, H2 next, WebSocket lowest, since WS carries the most
// framing overhead of the three bindings.
func DefaultDocument(quicPort, h2Port, wsPort uint16) Document {
	return Document{
		Transports: []Transport{
			{Protocol: ProtocolQUIC, Port: quicPort, Priority: 100},
			{Protocol: ProtocolH2, Port: h2Port, Priority: 50},
			{Protocol: ProtocolWS, Port: wsPort, Path: "/localup/ws", Priority: 10},
		},
	}
}

// Handler serves doc as the well-known discovery document. Lookup
// requires no authentication, matching the public nature of transport
// negotiation.
func Handler(doc Document) http.HandlerFunc {
	body, err := json.Marshal(doc)
	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, "discovery: encode error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

// Fetch retrieves and parses the discovery document from relayBase
// (e.g. "https://relay.example.test").
func Fetch(client *http.Client, relayBase string) (Document, error) {
	resp, err := client.Get(relayBase + WellKnownPath)
	if err != nil {
		return Document{}, fmt.Errorf("discovery: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("discovery: unexpected status %d", resp.StatusCode)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("discovery: decode: %w", err)
	}
	return doc, nil
}

// Select picks the highest-priority transport from doc that appears
// in supported, the set of transports the client implementation
// understands. preferred, if non-empty, is tried first regardless of
// priority, letting an operator pin a transport without discovery.
func Select(doc Document, supported []Protocol, preferred Protocol) (Transport, bool) {
	if preferred != "" {
		for _, t := range doc.Transports {
			if t.Protocol == preferred {
				return t, true
			}
		}
	}

	supportedSet := make(map[Protocol]bool, len(supported))
	for _, p := range supported {
		supportedSet[p] = true
	}

	candidates := make([]Transport, 0, len(doc.Transports))
	for _, t := range doc.Transports {
		if supportedSet[t.Protocol] {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return Transport{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})
	return candidates[0], true
}
