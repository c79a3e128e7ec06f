// Package wire implements the length-prefixed, tagged-record framing
// used on every tunnel control and data stream.
//
// Frames are `<u32 big-endian length><payload>`. The payload is a
// one-byte variant tag followed by a canonical CBOR encoding of the
// struct for that variant. The codec is format-stable: new variants
// or optional fields may be added, but existing tags and field
// meanings never change.
package wire

import "fmt"

// Tag identifies a message variant on the wire.
type Tag byte

const (
	TagConnect Tag = iota + 1
	TagConnected
	TagDisconnect
	TagPing
	TagPong
	TagAgentRegister
	TagAgentRegistered
	TagAgentRejected
	TagReverseTunnelRequest
	TagReverseTunnelAccept
	TagReverseTunnelReject
	TagReverseData
	TagReverseClose
	TagHTTPRequest
	TagHTTPResponse
	TagHTTPStreamConnect
	TagHTTPStreamData
	TagHTTPStreamClose
	TagTCPConnect
	TagTCPData
	TagTCPClose
	TagTLSConnect
	TagTLSData
	TagTLSClose
)

// Header is a name/value pair preserving order and duplicates, as
// HTTP headers require.
type Header struct {
	Name  string
	Value string
}

// ProtocolKind tags the union of advertised endpoint protocols.
type ProtocolKind byte

const (
	ProtocolHTTP ProtocolKind = iota + 1
	ProtocolHTTPS
	ProtocolTCP
	ProtocolTLS
)

// String returns the lowercase protocol name used in claim scoping
// (auth.Claims.Protocols) and client-facing configuration.
func (k ProtocolKind) String() string {
	switch k {
	case ProtocolHTTP:
		return "http"
	case ProtocolHTTPS:
		return "https"
	case ProtocolTCP:
		return "tcp"
	case ProtocolTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// Protocol is a tagged union: only the fields relevant to Kind are
// meaningful. Fields that do not apply are encoded with their zero
// values.
type Protocol struct {
	Kind         ProtocolKind
	Subdomain    string
	CustomDomain string
	RemotePort   uint16
	SNIHostname  string
	IPFilter     []string
}

// Endpoint is a relay-assigned binding returned in Connected.
type Endpoint struct {
	Protocol      Protocol
	PublicURL     string
	AllocatedPort uint16
}

// TunnelConfig carries client-declared tunnel options (e.g. keep-alive
// tuning); kept as a flat map so new options never require a codec
// change.
type TunnelConfig struct {
	Options map[string]string
}

// Connect is sent client -> relay as the first message on the first
// stream of a tunnel control connection.
type Connect struct {
	TunnelID  string
	AuthToken string
	Protocols []Protocol
	Config    TunnelConfig
}

// Connected is sent relay -> client, accepting a Connect with
// allocated endpoints.
type Connected struct {
	TunnelID  string
	Endpoints []Endpoint
}

// Disconnect signals graceful termination with a human-readable
// reason. Sent by either side.
type Disconnect struct {
	Reason string
}

// Ping/Pong implement symmetric liveness.
type Ping struct{ Timestamp int64 }
type Pong struct{ Timestamp int64 }

// AgentRegister is sent agent -> relay as the first message of an
// agent connection.
type AgentRegister struct {
	AgentID       string
	AuthToken     string
	TargetAddress string
	Metadata      AgentMetadata
}

// AgentMetadata carries informational agent attributes.
type AgentMetadata struct {
	Hostname string
	Platform string
	Version  string
}

// AgentRegistered / AgentRejected are sent relay -> agent.
type AgentRegistered struct{ AgentID string }
type AgentRejected struct{ Reason string }

// ReverseTunnelRequest is sent by a reverse-tunnel client -> relay.
type ReverseTunnelRequest struct {
	RTID          string
	RemoteAddress string
	AgentID       string
	AuthToken     string
}

// ReverseTunnelAccept / ReverseTunnelReject are sent relay -> client.
type ReverseTunnelAccept struct {
	RTID         string
	LocalAddress string
}
type ReverseTunnelReject struct {
	RTID   string
	Reason string
}

// ReverseData / ReverseClose carry symmetric data on a reverse
// substream, demultiplexed by (RTID, StreamID).
type ReverseData struct {
	RTID     string
	StreamID uint64
	Data     []byte
}
type ReverseClose struct {
	RTID     string
	StreamID uint64
	Reason   string
}

// HTTPRequest / HTTPResponse implement request-framed forwarding for
// parseable HTTP bodies.
type HTTPRequest struct {
	StreamID uint64
	Method   string
	URI      string
	Headers  []Header
	Body     []byte
}
type HTTPResponse struct {
	StreamID uint64
	Status   int
	Headers  []Header
	Body     []byte
}

// HTTPStreamConnect / HTTPStreamData / HTTPStreamClose implement
// transparent byte streaming (WebSocket upgrades, HTTPS termination,
// any traffic that must not be parsed).
type HTTPStreamConnect struct {
	StreamID    uint64
	Host        string
	InitialData []byte
}
type HTTPStreamData struct {
	StreamID uint64
	Data     []byte
}
type HTTPStreamClose struct {
	StreamID uint64
}

// TCPConnect / TCPData / TCPClose implement the symmetric byte stream
// used by TCP ingress.
type TCPConnect struct {
	StreamID   uint64
	RemoteAddr string
	RemotePort uint16
}
type TCPData struct {
	StreamID uint64
	Data     []byte
}
type TCPClose struct {
	StreamID uint64
}

// TLSConnect / TLSData / TLSClose implement SNI-passthrough streaming.
type TLSConnect struct {
	StreamID    uint64
	SNI         string
	ClientHello []byte
}
type TLSData struct {
	StreamID uint64
	Data     []byte
}
type TLSClose struct {
	StreamID uint64
}

// ErrUnknownVariant is returned by ReadMessage when the wire tag is not
// recognized. Callers on a control stream must treat this as fatal;
// callers on a data stream must tolerate it with a warning.
type ErrUnknownVariant struct {
	Tag Tag
}

func (e *ErrUnknownVariant) Error() string {
	return fmt.Sprintf("wire: unknown message variant tag %d", e.Tag)
}

// ErrOversizeFrame is returned when a frame's declared length exceeds
// the configured maximum.
type ErrOversizeFrame struct {
	Length, Max uint32
}

func (e *ErrOversizeFrame) Error() string {
	return fmt.Sprintf("wire: frame length %d exceeds maximum %d", e.Length, e.Max)
}
