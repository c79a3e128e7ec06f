// Package quic is the primary transport binding (C2): every tunnel
// control connection and its substreams map directly onto a QUIC
// connection and its native streams, with ALPN "localup-quic-v1".
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"

	quicgo "github.com/quic-go/quic-go"

	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/wire"
)

// ALPN is the protocol negotiated on the QUIC tunnel transport.
const ALPN = "localup-quic-v1"

// Config returns a quic-go Config tuned to the idle-connection close
// timeout and keep-alive policy called out for the tunnel transport.
// isRelay raises the concurrent-stream ceiling to the relay's higher
// minimum; a client dialing out uses the lower, per-tunnel minimum.
func Config(isRelay bool) *quicgo.Config {
	maxStreams := int64(clientMaxIncomingStreams)
	if isRelay {
		maxStreams = relayMaxIncomingStreams
	}
	return &quicgo.Config{
		MaxIdleTimeout:        idleTimeout,
		KeepAlivePeriod:       keepAlivePeriod,
		MaxIncomingStreams:    maxStreams,
		MaxIncomingUniStreams: maxStreams,
	}
}

const (
	idleTimeout     = 10_000_000_000 // 10s, expressed in ns to avoid importing time twice here
	keepAlivePeriod = 5_000_000_000  // 5s

	// clientMaxIncomingStreams and relayMaxIncomingStreams are the
	// concurrent bidirectional (and, here, unidirectional) stream
	// minimums for each side of the tunnel transport.
	clientMaxIncomingStreams = 100
	relayMaxIncomingStreams  = 1000
)

// Listener binds a QUIC listener and yields transport.Connection.
type Listener struct {
	ln *quicgo.Listener
}

// Listen binds addr with tlsConf (must advertise ALPN).
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	ln, err := quicgo.ListenAddr(addr, tlsConf, Config(true))
	if err != nil {
		return nil, fmt.Errorf("quic: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Accept(ctx context.Context) (transport.Connection, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Connection{conn: conn}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
func (l *Listener) Close() error   { return l.ln.Close() }

// Connector dials outbound QUIC connections.
type Connector struct {
	TLSConfig *tls.Config
}

func (c *Connector) Dial(ctx context.Context, addr string) (transport.Connection, error) {
	conn, err := quicgo.DialAddr(ctx, addr, c.TLSConfig, Config(false))
	if err != nil {
		return nil, fmt.Errorf("quic: dial %s: %w", addr, err)
	}
	return &Connection{conn: conn}, nil
}

// Connection adapts a quic-go Connection to transport.Connection.
type Connection struct {
	conn   *quicgo.Conn
	closed atomic.Bool
	sent   atomic.Uint64
	recv   atomic.Uint64
}

func (c *Connection) OpenStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &Stream{stream: s, conn: c}, nil
}

func (c *Connection) AcceptStream(ctx context.Context) (transport.Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &Stream{stream: s, conn: c}, nil
}

func (c *Connection) Close(code uint64, reason string) error {
	c.closed.Store(true)
	return c.conn.CloseWithError(quicgo.ApplicationErrorCode(code), reason)
}

func (c *Connection) RemoteAddress() net.Addr { return c.conn.RemoteAddr() }
func (c *Connection) IsClosed() bool {
	return c.closed.Load() || c.conn.Context().Err() != nil
}

func (c *Connection) StatsSnapshot() transport.Stats {
	return transport.Stats{BytesSent: c.sent.Load(), BytesReceived: c.recv.Load()}
}

// Stream adapts a quic-go Stream to transport.Stream.
type Stream struct {
	stream *quicgo.Stream
	conn   *Connection
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.stream.Read(p)
	if s.conn != nil {
		s.conn.recv.Add(uint64(n))
	}
	return n, err
}

func (s *Stream) Write(p []byte) (int, error) {
	n, err := s.stream.Write(p)
	if s.conn != nil {
		s.conn.sent.Add(uint64(n))
	}
	return n, err
}

func (s *Stream) SendMessage(m wire.Message) error { return wire.WriteMessage(s, m) }

func (s *Stream) RecvMessage() (wire.Tag, wire.Message, error) {
	return wire.ReadMessage(s, 0)
}

func (s *Stream) Finish() error    { return s.stream.Close() }
func (s *Stream) StreamID() uint64 { return uint64(s.stream.StreamID()) }
func (s *Stream) IsClosed() bool   { return s.stream.Context().Err() != nil }
