package config

// Viper keys for relay-mode configuration.
const (
	keyListenQUIC           = "relay.listen.quic"
	keyListenH2             = "relay.listen.h2"
	keyListenWS             = "relay.listen.ws"
	keyListenHTTP           = "relay.listen.http"
	keyListenHTTPSSNI       = "relay.listen.https_sni"
	keyListenHTTPSTerm      = "relay.listen.https_term"
	keyTCPPortRangeLow      = "relay.tcp_port_range.low"
	keyTCPPortRangeHigh     = "relay.tcp_port_range.high"
	keyCertPath             = "relay.tls.cert"
	keyKeyPath              = "relay.tls.key"
	keyJWTSecretPath        = "relay.jwt.secret_path"
	keyJWTPublicKeyPath     = "relay.jwt.public_key_path"
	keyJWTIssuer            = "relay.jwt.issuer"
	keyJWTAudience          = "relay.jwt.audience"
	keyPublicDomain         = "relay.public_domain"
	keyRestrictedSubdomains = "relay.restricted_subdomains"
	keyInsecure             = "relay.insecure"
	keyMetricsAddress       = "relay.metrics.address"
)

// Viper keys for client-mode configuration.
const (
	keyClientName       = "client.name"
	keyClientLocalPort  = "client.local_port"
	keyClientProtocol   = "client.protocol"
	keyClientToken      = "client.token"
	keyClientSubdomain  = "client.subdomain"
	keyClientDomain     = "client.domain"
	keyClientRelay      = "client.relay"
	keyClientRemotePort = "client.remote_port"
	keyClientTransport  = "client.transport"
	keyClientInsecure   = "client.insecure"
)

// Viper keys for agent-mode configuration.
const (
	keyAgentID            = "agent.id"
	keyAgentToken         = "agent.token"
	keyAgentTargetAddress = "agent.target_address"
	keyAgentRelay         = "agent.relay"
	keyAgentInsecure      = "agent.insecure"
)

// Viper keys for reverse-tunnel-client-mode configuration.
const (
	keyReverseAgentID       = "reverse.agent_id"
	keyReverseToken         = "reverse.token"
	keyReverseRemoteAddress = "reverse.remote_address"
	keyReverseBind          = "reverse.bind"
	keyReverseRelay         = "reverse.relay"
	keyReverseInsecure      = "reverse.insecure"
)
