// Package h2 is a secondary transport binding (C2) for environments
// where QUIC is blocked: a TLS connection negotiated with the custom
// ALPN "localup-h2-v1", multiplexed into logical streams with
// hashicorp/yamux rather than HTTP/2's own stream layer, which keeps the Connection/Stream
// adapter identical in shape to the quic and ws bindings.
package h2

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/hashicorp/yamux"

	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/wire"
)

// ALPN is the protocol negotiated on the H2 tunnel transport.
const ALPN = "localup-h2-v1"

func yamuxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = true
	return cfg
}

// Listener accepts TLS connections and wraps each in a yamux server
// session.
type Listener struct {
	ln net.Listener
}

// Listen binds addr with tlsConf (must advertise ALPN).
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	ln, err := tls.Listen("tcp", addr, tlsConf)
	if err != nil {
		return nil, fmt.Errorf("h2: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (transport.Connection, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	sess, err := yamux.Server(conn, yamuxConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("h2: yamux server handshake: %w", err)
	}
	return &Connection{session: sess}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
func (l *Listener) Close() error   { return l.ln.Close() }

// Connector dials outbound H2-transport connections.
type Connector struct {
	TLSConfig *tls.Config
}

func (c *Connector) Dial(ctx context.Context, addr string) (transport.Connection, error) {
	dialer := &tls.Dialer{Config: c.TLSConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("h2: dial %s: %w", addr, err)
	}
	sess, err := yamux.Client(conn, yamuxConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("h2: yamux client handshake: %w", err)
	}
	return &Connection{session: sess}, nil
}

// Connection adapts a yamux session to transport.Connection.
type Connection struct {
	session *yamux.Session
	sent    atomic.Uint64
	recv    atomic.Uint64
}

func (c *Connection) OpenStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.session.OpenStream()
	if err != nil {
		return nil, err
	}
	return &Stream{stream: s, conn: c}, nil
}

func (c *Connection) AcceptStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.session.AcceptStream()
	if err != nil {
		return nil, err
	}
	return &Stream{stream: s, conn: c}, nil
}

func (c *Connection) Close(code uint64, reason string) error {
	return c.session.Close()
}

func (c *Connection) RemoteAddress() net.Addr { return c.session.RemoteAddr() }
func (c *Connection) IsClosed() bool          { return c.session.IsClosed() }

func (c *Connection) StatsSnapshot() transport.Stats {
	return transport.Stats{BytesSent: c.sent.Load(), BytesReceived: c.recv.Load()}
}

// Stream adapts a yamux Stream to transport.Stream.
type Stream struct {
	stream *yamux.Stream
	conn   *Connection
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.stream.Read(p)
	s.conn.recv.Add(uint64(n))
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.stream.Write(p)
	s.conn.sent.Add(uint64(n))
	return n, err
}

func (s *Stream) SendMessage(m wire.Message) error { return wire.WriteMessage(s, m) }

func (s *Stream) RecvMessage() (wire.Tag, wire.Message, error) {
	return wire.ReadMessage(s, 0)
}

func (s *Stream) Finish() error    { return s.stream.Close() }
func (s *Stream) StreamID() uint64 { return uint64(s.stream.StreamID()) }
func (s *Stream) IsClosed() bool   { return s.stream.IsClosed() }
