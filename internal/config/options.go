package config

import (
	"strings"
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// RelayOptions defines the configuration entries available in relay
// mode. Each entry is registered as a viper default and a CLI flag.
var RelayOptions = []Option{
	{Key: keyListenQUIC, Flag: toFlag(keyListenQUIC), Default: ":7000", Description: "QUIC control-plane bind address"},
	{Key: keyListenH2, Flag: toFlag(keyListenH2), Default: ":7001", Description: "H2/yamux control-plane bind address (secondary transport)"},
	{Key: keyListenWS, Flag: toFlag(keyListenWS), Default: ":7002", Description: "WebSocket control-plane bind address (secondary transport)"},
	{Key: keyListenHTTP, Flag: toFlag(keyListenHTTP), Default: ":80", Description: "HTTP ingress bind address"},
	{Key: keyListenHTTPSSNI, Flag: toFlag(keyListenHTTPSSNI), Default: ":443", Description: "HTTPS SNI-passthrough ingress bind address"},
	{Key: keyListenHTTPSTerm, Flag: toFlag(keyListenHTTPSTerm), Default: "", Description: "HTTPS TLS-terminating ingress bind address (optional)"},
	{Key: keyTCPPortRangeLow, Flag: toFlag(keyTCPPortRangeLow), Default: 20000, Description: "Low end of the TCP tunnel port pool"},
	{Key: keyTCPPortRangeHigh, Flag: toFlag(keyTCPPortRangeHigh), Default: 20100, Description: "High end of the TCP tunnel port pool"},
	{Key: keyCertPath, Flag: toFlag(keyCertPath), Default: "", Description: "TLS certificate path for HTTPS/QUIC listeners"},
	{Key: keyKeyPath, Flag: toFlag(keyKeyPath), Default: "", Description: "TLS private key path for HTTPS/QUIC listeners"},
	{Key: keyJWTSecretPath, Flag: toFlag(keyJWTSecretPath), Default: "", Description: "Path to an HMAC-SHA256 JWT secret"},
	{Key: keyJWTPublicKeyPath, Flag: toFlag(keyJWTPublicKeyPath), Default: "", Description: "Path to an RSA-SHA256 JWT public key (PEM)"},
	{Key: keyJWTIssuer, Flag: toFlag(keyJWTIssuer), Default: "", Description: "Expected JWT issuer (checked only if set)"},
	{Key: keyJWTAudience, Flag: toFlag(keyJWTAudience), Default: "", Description: "Expected JWT audience (checked only if set)"},
	{Key: keyPublicDomain, Flag: toFlag(keyPublicDomain), Default: "localup.test", Description: "Base domain used to form public URLs"},
	{Key: keyRestrictedSubdomains, Flag: toFlag(keyRestrictedSubdomains), Default: false, Description: "Refuse client-supplied subdomains"},
	{Key: keyInsecure, Flag: toFlag(keyInsecure), Default: false, Description: "Disable certificate verification (local development only)"},
	{Key: keyMetricsAddress, Flag: toFlag(keyMetricsAddress), Default: ":9090", Description: "Prometheus metrics bind address"},
}

// ClientOptions defines the configuration entries available in client
// mode.
var ClientOptions = []Option{
	{Key: keyClientName, Flag: toFlag(keyClientName), Default: "", Description: "Tunnel name"},
	{Key: keyClientLocalPort, Flag: toFlag(keyClientLocalPort), Default: 0, Description: "Local port to expose"},
	{Key: keyClientProtocol, Flag: toFlag(keyClientProtocol), Default: "http", Description: "Protocol: http|https|tcp|tls"},
	{Key: keyClientToken, Flag: toFlag(keyClientToken), Default: "", Description: "Bearer token presented at Connect"},
	{Key: keyClientSubdomain, Flag: toFlag(keyClientSubdomain), Default: "", Description: "Requested subdomain"},
	{Key: keyClientDomain, Flag: toFlag(keyClientDomain), Default: "", Description: "Requested custom domain"},
	{Key: keyClientRelay, Flag: toFlag(keyClientRelay), Default: "127.0.0.1:7000", Description: "Relay host:port"},
	{Key: keyClientRemotePort, Flag: toFlag(keyClientRemotePort), Default: 0, Description: "Requested remote TCP port (tcp protocol only)"},
	{Key: keyClientTransport, Flag: toFlag(keyClientTransport), Default: "", Description: "Force a transport (quic|h2|ws); empty selects by discovery priority"},
	{Key: keyClientInsecure, Flag: toFlag(keyClientInsecure), Default: false, Description: "Disable certificate verification (local development only)"},
}

// AgentOptions defines the configuration entries available in agent
// mode: a reverse-tunnel-mode client offering access to one fixed
// target address.
var AgentOptions = []Option{
	{Key: keyAgentID, Flag: toFlag(keyAgentID), Default: "", Description: "Agent id presented at registration"},
	{Key: keyAgentToken, Flag: toFlag(keyAgentToken), Default: "", Description: "Bearer token presented at AgentRegister"},
	{Key: keyAgentTargetAddress, Flag: toFlag(keyAgentTargetAddress), Default: "", Description: "Fixed host:port this agent forwards to"},
	{Key: keyAgentRelay, Flag: toFlag(keyAgentRelay), Default: "127.0.0.1:7000", Description: "Relay host:port"},
	{Key: keyAgentInsecure, Flag: toFlag(keyAgentInsecure), Default: false, Description: "Disable certificate verification (local development only)"},
}

// ReverseOptions defines the configuration entries available in
// reverse-tunnel-client mode: the peer that binds a local listener
// and proxies it through the relay to a registered agent.
var ReverseOptions = []Option{
	{Key: keyReverseAgentID, Flag: toFlag(keyReverseAgentID), Default: "", Description: "Target agent id"},
	{Key: keyReverseToken, Flag: toFlag(keyReverseToken), Default: "", Description: "Bearer token presented at ReverseTunnelRequest"},
	{Key: keyReverseRemoteAddress, Flag: toFlag(keyReverseRemoteAddress), Default: "", Description: "Target address the agent exposes (must match its registration exactly)"},
	{Key: keyReverseBind, Flag: toFlag(keyReverseBind), Default: "127.0.0.1:0", Description: "Local address to bind for incoming proxied connections"},
	{Key: keyReverseRelay, Flag: toFlag(keyReverseRelay), Default: "127.0.0.1:7000", Description: "Relay host:port"},
	{Key: keyReverseInsecure, Flag: toFlag(keyReverseInsecure), Default: false, Description: "Disable certificate verification (local development only)"},
}

// toFlag converts a viper key like "relay.tcp_port_range.low" into a
// CLI flag like "tcp-port-range-low" by lower-casing, replacing dots
// and underscores with hyphens, and stripping the "relay-"/"client-"
// prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "relay-")
	flag = strings.TrimPrefix(flag, "client-")
	return flag
}
