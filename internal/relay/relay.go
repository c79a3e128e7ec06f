// Package relay wires C1-C13 (and the relay half of C15) into a
// running relay process: it owns every shared registry, accepts
// tunnel/agent control connections on the primary QUIC transport (and
// on the H2 and WebSocket transports when configured), and
// starts each ingress listener as a transport.Component.
package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	gohttp "net/http"
	"os"
	"strconv"
	"time"

	"github.com/localup-dev/localup/internal/acme"
	"github.com/localup-dev/localup/internal/agents"
	"github.com/localup-dev/localup/internal/auth"
	"github.com/localup-dev/localup/internal/capture"
	"github.com/localup-dev/localup/internal/config"
	"github.com/localup-dev/localup/internal/control"
	"github.com/localup-dev/localup/internal/discovery"
	"github.com/localup-dev/localup/internal/domain"
	httpingress "github.com/localup-dev/localup/internal/ingress/http"
	"github.com/localup-dev/localup/internal/ingress/httpterm"
	"github.com/localup-dev/localup/internal/ingress/sni"
	tcpingress "github.com/localup-dev/localup/internal/ingress/tcp"
	"github.com/localup-dev/localup/internal/metrics"
	"github.com/localup-dev/localup/internal/pki"
	"github.com/localup-dev/localup/internal/reverse"
	"github.com/localup-dev/localup/internal/routes"
	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/transport/h2"
	"github.com/localup-dev/localup/internal/transport/quic"
	"github.com/localup-dev/localup/internal/transport/ws"
	"github.com/localup-dev/localup/internal/tunnelmgr"
	"github.com/localup-dev/localup/internal/wire"
)

// Relay owns every shared registry and ingress component for one
// relay process.
type Relay struct {
	cfg *config.Config

	Routes     *routes.Registry
	Tunnels    *tunnelmgr.Manager
	Agents     *agents.Registry
	Domains    *domain.Provider
	Validator  *auth.Validator
	Metrics    *metrics.Registry
	Capture    capture.Sink
	ACME       *acme.Responder
	TCPIngress *tcpingress.Manager
	Reverse    *reverse.Plane
	CA         *pki.CA
	Logger     *slog.Logger
}

// New builds a Relay from cfg, constructing the JWT validator, CA,
// and every shared registry.
func New(cfg *config.Config, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}

	validator, err := buildValidator(cfg)
	if err != nil {
		return nil, fmt.Errorf("relay: build JWT validator: %w", err)
	}

	ca, err := pki.NewCAFromSeed(relayCASeed(cfg))
	if err != nil {
		return nil, fmt.Errorf("relay: build CA: %w", err)
	}

	domains := domain.New()
	if cfg.RestrictedSubdomains() {
		domains = domain.NewRestricted()
	}

	agentRegistry := agents.New()
	reg := routes.New()
	tunnels := tunnelmgr.New()
	metricsReg := metrics.New()

	r := &Relay{
		cfg:       cfg,
		Routes:    reg,
		Tunnels:   tunnels,
		Agents:    agentRegistry,
		Domains:   domains,
		Validator: validator,
		Metrics:   metricsReg,
		Capture:   capture.LoggingSink{Logger: logger},
		ACME:      &acme.Responder{Store: acme.NewMemoryStore()},
		TCPIngress: &tcpingress.Manager{
			Host:    "0.0.0.0",
			Routes:  reg,
			Tunnels: tunnels,
			Metrics: metricsReg,
			Logger:  logger,
		},
		CA:     ca,
		Logger: logger,
	}

	r.Reverse = &reverse.Plane{Validator: validator, Agents: agentRegistry, Logger: logger}

	return r, nil
}

func buildValidator(cfg *config.Config) (*auth.Validator, error) {
	var v *auth.Validator
	switch {
	case cfg.JWTPublicKeyPath() != "":
		keyPEM, err := os.ReadFile(cfg.JWTPublicKeyPath())
		if err != nil {
			return nil, fmt.Errorf("read JWT public key: %w", err)
		}
		v, err = auth.NewRSAValidator(keyPEM)
		if err != nil {
			return nil, err
		}
	case cfg.JWTSecretPath() != "":
		secret, err := os.ReadFile(cfg.JWTSecretPath())
		if err != nil {
			return nil, fmt.Errorf("read JWT secret: %w", err)
		}
		v = auth.NewHMACValidator(secret)
	default:
		v = auth.NewHMACValidator([]byte("localup-development-only-secret"))
	}

	if cfg.JWTIssuer() != "" {
		v = v.WithIssuer(cfg.JWTIssuer())
	}
	if cfg.JWTAudience() != "" {
		v = v.WithAudience(cfg.JWTAudience())
	}
	return v, nil
}

func relayCASeed(cfg *config.Config) string {
	if seed := os.Getenv("LOCALUP_CA_SEED"); seed != "" {
		return seed
	}
	return "localup-development-ca-seed"
}

// BindError wraps a listener-bind failure during Run, distinguishing
// it from a configuration error so the CLI can map it to its own
// exit code.
type BindError struct{ Err error }

func (e *BindError) Error() string { return e.Err.Error() }
func (e *BindError) Unwrap() error { return e.Err }

// Run starts every configured listener and blocks until ctx is
// cancelled or a component fails.
func (r *Relay) Run(ctx context.Context) error {
	tlsConf, err := r.tlsConfig()
	if err != nil {
		return fmt.Errorf("relay: build TLS config: %w", err)
	}

	quicLn, err := quic.Listen(r.cfg.ListenQUIC(), tlsConf)
	if err != nil {
		return &BindError{fmt.Errorf("relay: listen QUIC: %w", err)}
	}

	components := []transport.Component{
		controlComponent{relay: r, listener: quicLn},
	}

	if r.cfg.ListenH2() != "" {
		h2Ln, err := h2.Listen(r.cfg.ListenH2(), tlsConf)
		if err != nil {
			return &BindError{fmt.Errorf("relay: listen H2: %w", err)}
		}
		components = append(components, controlComponent{relay: r, listener: h2Ln})
	}

	if r.cfg.ListenWS() != "" {
		wsLn, err := ws.Listen(r.cfg.ListenWS(), tlsConf)
		if err != nil {
			return &BindError{fmt.Errorf("relay: listen WS: %w", err)}
		}
		components = append(components, controlComponent{relay: r, listener: wsLn})
	}

	components = append(components,
		&httpingress.Ingress{
			Addr:    r.cfg.ListenHTTP(),
			Routes:  r.Routes,
			Tunnels: r.Tunnels,
			ACME:    r.ACME,
			Capture: r.Capture,
			Metrics: r.Metrics,
			Logger:  r.Logger,
			Proto:   "http",
		},
		&sni.Ingress{
			Addr:    r.cfg.ListenHTTPSSNI(),
			Routes:  r.Routes,
			Tunnels: r.Tunnels,
			Metrics: r.Metrics,
			Logger:  r.Logger,
		},
		&httpAPIComponent{relay: r},
	)

	if r.cfg.ListenHTTPSTerm() != "" {
		components = append(components, &httpterm.Ingress{
			Addr:      r.cfg.ListenHTTPSTerm(),
			TLSConfig: tlsConf,
			HTTP: &httpingress.Ingress{
				Routes:  r.Routes,
				Tunnels: r.Tunnels,
				ACME:    r.ACME,
				Capture: r.Capture,
				Metrics: r.Metrics,
				Logger:  r.Logger,
			},
		})
	}

	return transport.Serve(ctx, components...)
}

func (r *Relay) tlsConfig() (*tls.Config, error) {
	if r.cfg.CertPath() != "" && r.cfg.KeyPath() != "" {
		cert, err := tls.LoadX509KeyPair(r.cfg.CertPath(), r.cfg.KeyPath())
		if err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{quic.ALPN, h2.ALPN}}, nil
	}

	certPEM, keyPEM, err := r.CA.GenerateServerCert(r.cfg.PublicDomain(), "localhost", "127.0.0.1")
	if err != nil {
		return nil, fmt.Errorf("generate self-signed server cert: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse self-signed server cert: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{quic.ALPN, h2.ALPN}}, nil
}

// controlComponent runs one transport listener's (QUIC, H2 or
// WebSocket) accept loop and dispatches each
// connection's control stream to control.Handler.
type controlComponent struct {
	relay    *Relay
	listener transport.Listener
}

func (c controlComponent) Start(ctx context.Context) error {
	for {
		conn, err := c.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: accept control connection: %w", err)
		}
		go c.serve(ctx, conn)
	}
}

func (c controlComponent) Stop(ctx context.Context) error {
	return c.listener.Close()
}

func (c controlComponent) serve(ctx context.Context, conn transport.Connection) {
	r := c.relay

	var acceptedTunnelID string
	var tunnelHandle *tunnelmgr.Handle
	var acceptedAgentID string

	handler := &control.Handler{
		Validator: r.Validator,
		OnTunnel: func(ctx context.Context, connect wire.Connect, claims auth.Claims) (wire.Connected, error) {
			resp, handle, err := r.acceptTunnel(ctx, conn, connect, claims)
			if err == nil {
				acceptedTunnelID = connect.TunnelID
				tunnelHandle = handle
			}
			return resp, err
		},
		OnAgent: func(ctx context.Context, reg wire.AgentRegister, claims auth.Claims) (wire.AgentRegistered, error) {
			resp, err := r.acceptAgent(conn, reg)
			if err == nil {
				acceptedAgentID = reg.AgentID
			}
			return resp, err
		},
		OnReverse: r.Reverse.ServeRequest,
		Logger:    r.Logger,
	}

	if err := handler.Serve(ctx, conn); err != nil {
		r.Logger.Info("relay: control connection ended", "error", err)
	}

	if acceptedTunnelID != "" {
		r.Metrics.ActiveTunnels.Dec()
		for _, key := range r.Routes.LookupByTunnel(acceptedTunnelID) {
			r.Routes.Unregister(key)
		}
		r.Tunnels.Remove(acceptedTunnelID, tunnelHandle)
	}
	if acceptedAgentID != "" {
		r.Agents.Remove(acceptedAgentID, conn)
	}
}

func (r *Relay) acceptTunnel(ctx context.Context, conn transport.Connection, connect wire.Connect, claims auth.Claims) (wire.Connected, *tunnelmgr.Handle, error) {
	handle := r.Tunnels.Insert(connect.TunnelID, conn)

	endpoints := make([]wire.Endpoint, 0, len(connect.Protocols))
	for _, proto := range connect.Protocols {
		if !protocolAllowed(claims, proto.Kind) {
			return wire.Connected{}, handle, fmt.Errorf("relay: protocol %q is not in this token's allowed_protocols", proto.Kind)
		}
		endpoint, err := r.registerProtocol(ctx, connect.TunnelID, proto)
		if err != nil {
			return wire.Connected{}, handle, err
		}
		endpoints = append(endpoints, endpoint)
	}

	r.Metrics.ActiveTunnels.Inc()
	return wire.Connected{TunnelID: connect.TunnelID, Endpoints: endpoints}, handle, nil
}

// protocolAllowed reports whether kind is permitted by claims'
// allowed_protocols scope. A claim set with no Protocols entries is
// unrestricted, matching auth.Claims' normal "nil list == unrestricted"
// convention.
func protocolAllowed(claims auth.Claims, kind wire.ProtocolKind) bool {
	if len(claims.Protocols) == 0 {
		return true
	}
	want := kind.String()
	for _, p := range claims.Protocols {
		if p == want {
			return true
		}
	}
	return false
}

func (r *Relay) registerProtocol(ctx context.Context, tunnelID string, proto wire.Protocol) (wire.Endpoint, error) {
	switch proto.Kind {
	case wire.ProtocolHTTP, wire.ProtocolHTTPS:
		subdomain := proto.Subdomain
		if subdomain == "" || !r.Domains.AllowManualSubdomain() {
			subdomain = r.Domains.GenerateSubdomain(domain.Context{ClientID: tunnelID})
		} else if err := domain.ValidateSubdomain(subdomain); err != nil {
			return wire.Endpoint{}, err
		}
		host := subdomain + "." + r.cfg.PublicDomain()
		if err := r.Routes.Register(routes.Key{Kind: routes.HTTPHost, Value: host}, routes.Target{TunnelID: tunnelID, IPFilter: proto.IPFilter}); err != nil {
			return wire.Endpoint{}, err
		}
		dp := domain.ProtocolHTTP
		if proto.Kind == wire.ProtocolHTTPS {
			dp = domain.ProtocolHTTPS
		}
		url, err := domain.GeneratePublicURL(subdomain, 0, dp, r.cfg.PublicDomain())
		if err != nil {
			return wire.Endpoint{}, err
		}
		return wire.Endpoint{Protocol: proto, PublicURL: url}, nil

	case wire.ProtocolTLS:
		sni := proto.SNIHostname
		if sni == "" {
			sni = r.Domains.GenerateSubdomain(domain.Context{ClientID: tunnelID}) + "." + r.cfg.PublicDomain()
		}
		if err := r.Routes.Register(routes.Key{Kind: routes.TLSSNI, Value: sni}, routes.Target{TunnelID: tunnelID, IPFilter: proto.IPFilter}); err != nil {
			return wire.Endpoint{}, err
		}
		return wire.Endpoint{Protocol: proto, PublicURL: sni}, nil

	case wire.ProtocolTCP:
		ln, err := r.TCPIngress.Allocate(ctx, tunnelID, proto.RemotePort, proto.IPFilter)
		if err != nil {
			return wire.Endpoint{}, err
		}
		url, _ := domain.GeneratePublicURL("", ln.Port, domain.ProtocolTCP, r.cfg.PublicDomain())
		return wire.Endpoint{Protocol: proto, PublicURL: url, AllocatedPort: ln.Port}, nil

	default:
		return wire.Endpoint{}, fmt.Errorf("relay: unknown protocol kind %d", proto.Kind)
	}
}

func (r *Relay) acceptAgent(conn transport.Connection, reg wire.AgentRegister) (wire.AgentRegistered, error) {
	if prior := r.Agents.Insert(&agents.Agent{AgentID: reg.AgentID, TargetAddress: reg.TargetAddress, Conn: conn}); prior != nil {
		_ = prior.Close(0, "replaced by re-registration")
	}
	return wire.AgentRegistered{AgentID: reg.AgentID}, nil
}

// httpAPIComponent serves the unauthenticated discovery document and
// the Prometheus registry on the metrics bind address.
type httpAPIComponent struct {
	relay  *Relay
	server *gohttp.Server
}

func (h *httpAPIComponent) Start(ctx context.Context) error {
	doc := discovery.DefaultDocument(
		portOf(h.relay.cfg.ListenQUIC()),
		portOf(h.relay.cfg.ListenH2()),
		portOf(h.relay.cfg.ListenWS()),
	)

	mux := gohttp.NewServeMux()
	mux.Handle(discovery.WellKnownPath, discovery.Handler(doc))
	mux.Handle("/metrics", h.relay.Metrics.Handler())

	h.server = &gohttp.Server{Addr: h.relay.cfg.MetricsAddress(), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.server.Shutdown(shutdownCtx)
	}()

	if err := h.server.ListenAndServe(); err != nil && err != gohttp.ErrServerClosed {
		return fmt.Errorf("relay: metrics/discovery server: %w", err)
	}
	return nil
}

func (h *httpAPIComponent) Stop(ctx context.Context) error {
	if h.server != nil {
		return h.server.Shutdown(ctx)
	}
	return nil
}

func portOf(addr string) uint16 {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return uint16(port)
}
