// Package client wires C2, C3, C14, and the client half of C15 into a
// running forward-tunnel process: it negotiates a transport with the
// relay, opens the control connection, and serves every relay-opened
// substream against a local backend, reconnecting with backoff on
// failure.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"

	"github.com/localup-dev/localup/internal/config"
	"github.com/localup-dev/localup/internal/control"
	"github.com/localup-dev/localup/internal/discovery"
	"github.com/localup-dev/localup/internal/forwarder"
	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/transport/h2"
	"github.com/localup-dev/localup/internal/transport/quic"
	"github.com/localup-dev/localup/internal/transport/ws"
	"github.com/localup-dev/localup/internal/wire"
)

// supportedTransports lists the bindings this implementation can
// dial, in the order discovery.Select should prefer them absent an
// operator override.
var supportedTransports = []discovery.Protocol{discovery.ProtocolQUIC, discovery.ProtocolH2, discovery.ProtocolWS}

// Client runs one forward tunnel: dial the relay, announce the
// configured protocol, and forward every opened substream to a local
// backend at 127.0.0.1:<local_port>.
type Client struct {
	cfg      *config.Config
	tunnelID string
	logger   *slog.Logger
	forward  *forwarder.Forwarder
}

// New builds a Client from cfg. tunnelID identifies this tunnel
// across reconnects; callers that persist tunnels (the store-backed
// CLI) should pass a stable id instead of a freshly generated one.
func New(cfg *config.Config, tunnelID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if tunnelID == "" {
		tunnelID = uuid.NewString()
	}
	return &Client{cfg: cfg, tunnelID: tunnelID, logger: logger, forward: &forwarder.Forwarder{}}
}

// Run dials the relay and serves the tunnel until ctx is cancelled,
// reconnecting with control.ReconnectDelay backoff on every failure.
// A handshake rejection the relay marks non-recoverable (bad
// credentials, a protocol outside the token's scope) ends the loop
// immediately instead of retrying forever against the same rejection.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, control.ErrNonRecoverable) {
			c.logger.Error("client: non-recoverable rejection, giving up", "error", err)
			return err
		}
		if err != nil {
			c.logger.Warn("client: connection ended, reconnecting", "error", err, "attempt", attempt)
		}

		delay := control.ReconnectDelay(attempt)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	tlsConf := &tls.Config{InsecureSkipVerify: c.cfg.ClientInsecure()}

	proto, dialAddr := c.selectTransport(ctx, tlsConf)

	connector, err := c.connectorFor(proto, tlsConf)
	if err != nil {
		return err
	}

	conn, err := connector.Dial(ctx, dialAddr)
	if err != nil {
		return fmt.Errorf("client: dial %s via %s: %w", dialAddr, proto, err)
	}
	defer conn.Close(0, "client shutting down")

	session := &control.ClientSession{Logger: c.logger}
	connect := wire.Connect{
		TunnelID:  c.tunnelID,
		AuthToken: c.cfg.ClientToken(),
		Protocols: []wire.Protocol{c.wireProtocol()},
	}

	connected, stream, err := session.OpenTunnel(ctx, conn, connect)
	if err != nil {
		return fmt.Errorf("client: handshake: %w", err)
	}
	c.logEndpoints(connected)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.acceptLoop(connCtx, conn)

	return session.RunHeartbeat(ctx, stream)
}

// selectTransport fetches the relay's discovery document on a
// best-effort basis and picks the highest-priority transport this
// client supports, preferring the operator-forced transport when the
// document offers it. If the fetch fails (relay doesn't serve
// discovery, network error), the forced transport, or QUIC when none
// is forced, is used directly against the configured relay address;
// if the document offers nothing usable, QUIC is used the same way.
func (c *Client) selectTransport(ctx context.Context, tlsConf *tls.Config) (discovery.Protocol, string) {
	forced := discovery.Protocol(c.cfg.ClientTransport())

	httpClient := &nethttp.Client{
		Timeout:   5 * time.Second,
		Transport: &nethttp.Transport{TLSClientConfig: tlsConf},
	}
	scheme := "https"
	if c.cfg.ClientInsecure() {
		scheme = "http"
	}
	doc, err := discovery.Fetch(httpClient, scheme+"://"+c.relayHost())
	if err != nil {
		if forced == "" {
			forced = discovery.ProtocolQUIC
		}
		return forced, c.cfg.ClientRelay()
	}

	t, ok := discovery.Select(doc, supportedTransports, forced)
	if !ok {
		return discovery.ProtocolQUIC, c.cfg.ClientRelay()
	}
	return t.Protocol, net.JoinHostPort(c.relayHost(), fmt.Sprintf("%d", t.Port))
}

func (c *Client) relayHost() string {
	host, _, err := net.SplitHostPort(c.cfg.ClientRelay())
	if err != nil {
		return c.cfg.ClientRelay()
	}
	return host
}

func (c *Client) connectorFor(proto discovery.Protocol, tlsConf *tls.Config) (transport.Connector, error) {
	switch proto {
	case discovery.ProtocolQUIC:
		return &quic.Connector{TLSConfig: tlsConf}, nil
	case discovery.ProtocolH2:
		return &h2.Connector{TLSConfig: tlsConf}, nil
	case discovery.ProtocolWS:
		return &ws.Connector{TLSConfig: tlsConf}, nil
	default:
		return nil, fmt.Errorf("client: unsupported transport %q", proto)
	}
}

func (c *Client) wireProtocol() wire.Protocol {
	kind := wire.ProtocolHTTP
	switch c.cfg.ClientProtocol() {
	case "https":
		kind = wire.ProtocolHTTPS
	case "tcp":
		kind = wire.ProtocolTCP
	case "tls":
		kind = wire.ProtocolTLS
	}
	return wire.Protocol{
		Kind:         kind,
		Subdomain:    c.cfg.ClientSubdomain(),
		CustomDomain: c.cfg.ClientDomain(),
		RemotePort:   uint16(c.cfg.ClientRemotePort()),
		SNIHostname:  c.cfg.ClientDomain(),
	}
}

func (c *Client) logEndpoints(connected wire.Connected) {
	for _, ep := range connected.Endpoints {
		c.logger.Info("client: tunnel established", "tunnel_id", c.tunnelID, "public_url", ep.PublicURL)
	}
}

// acceptLoop accepts every relay-opened substream on conn and
// dispatches it to the matching data-plane handler. It returns when
// conn can no longer accept streams, which happens once the control
// connection itself is torn down.
func (c *Client) acceptLoop(ctx context.Context, conn transport.Connection) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go c.serveStream(ctx, stream)
	}
}

func (c *Client) localAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.cfg.ClientLocalPort())
}

func (c *Client) serveStream(ctx context.Context, stream transport.Stream) {
	_, msg, err := stream.RecvMessage()
	if err != nil {
		return
	}

	switch m := msg.(type) {
	case wire.HTTPRequest:
		defer stream.Finish()
		resp := c.forward.Forward(c.localAddr(), m)
		_ = stream.SendMessage(resp)

	case wire.HTTPStreamConnect:
		c.pumpByteStream(stream, m.InitialData,
			func(data []byte) wire.Message { return wire.HTTPStreamData{StreamID: m.StreamID, Data: data} },
			func() wire.Message { return wire.HTTPStreamClose{StreamID: m.StreamID} },
			isHTTPStreamData, isHTTPStreamClose)

	case wire.TCPConnect:
		c.pumpByteStream(stream, nil,
			func(data []byte) wire.Message { return wire.TCPData{StreamID: m.StreamID, Data: data} },
			func() wire.Message { return wire.TCPClose{StreamID: m.StreamID} },
			isTCPData, isTCPClose)

	case wire.TLSConnect:
		c.pumpByteStream(stream, m.ClientHello,
			func(data []byte) wire.Message { return wire.TLSData{StreamID: m.StreamID, Data: data} },
			func() wire.Message { return wire.TLSClose{StreamID: m.StreamID} },
			isTLSData, isTLSClose)

	default:
		c.logger.Warn("client: unexpected first message on data substream", "type", fmt.Sprintf("%T", msg))
		stream.Finish()
	}
}

// pumpByteStream dials the local backend and bridges raw bytes
// against stream, framed as the caller's Data/Close variants. It
// mirrors the relay ingress side's tcp.pump, reversed: here the
// client dials out locally instead of accepting inbound, and the two
// pump directions are joined on a shared error channel exactly as
// tcp.pump joins conn<->stream.
func (c *Client) pumpByteStream(
	stream transport.Stream,
	initialData []byte,
	wrapData func([]byte) wire.Message,
	wrapClose func() wire.Message,
	isData func(wire.Message) ([]byte, bool),
	isClose func(wire.Message) bool,
) {
	defer stream.Finish()

	sess, err := forwarder.DialSession(c.localAddr(), initialData)
	if err != nil {
		_ = stream.SendMessage(wrapClose())
		return
	}
	defer sess.Close()

	errc := make(chan error, 2)
	go sess.Pump(func(data []byte) error {
		return stream.SendMessage(wrapData(data))
	}, func() { errc <- nil })

	go func() {
		for {
			_, msg, err := stream.RecvMessage()
			if err != nil {
				errc <- err
				return
			}
			if data, ok := isData(msg); ok {
				if err := sess.Write(data); err != nil {
					errc <- err
					return
				}
				continue
			}
			if isClose(msg) {
				errc <- nil
				return
			}
		}
	}()

	<-errc
	_ = stream.SendMessage(wrapClose())
}

func isHTTPStreamData(m wire.Message) ([]byte, bool) {
	v, ok := m.(wire.HTTPStreamData)
	return v.Data, ok
}
func isHTTPStreamClose(m wire.Message) bool { _, ok := m.(wire.HTTPStreamClose); return ok }

func isTCPData(m wire.Message) ([]byte, bool) {
	v, ok := m.(wire.TCPData)
	return v.Data, ok
}
func isTCPClose(m wire.Message) bool { _, ok := m.(wire.TCPClose); return ok }

func isTLSData(m wire.Message) ([]byte, bool) {
	v, ok := m.(wire.TLSData)
	return v.Data, ok
}
func isTLSClose(m wire.Message) bool { _, ok := m.(wire.TLSClose); return ok }
