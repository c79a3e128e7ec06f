// Package ws is a secondary transport binding (C2) for environments
// where only plain HTTP(S) egress is permitted: a WebSocket connection
// carrying binary frames, adapted to net.Conn and then multiplexed
// with hashicorp/yamux exactly as the h2 binding does.
package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"

	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/wire"
)

// Path is the HTTP path the relay upgrades to WebSocket on.
const Path = "/localup/ws"

func yamuxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.EnableKeepAlive = true
	return cfg
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Listener upgrades incoming HTTP requests on Path to WebSocket and
// hands each back as a transport.Connection.
type Listener struct {
	addr     net.Addr
	incoming chan *websocket.Conn
	closed   chan struct{}
	server   *http.Server
}

// Listen starts an HTTP server on addr that upgrades Path to
// WebSocket. tlsConf may be nil for plaintext WS (not recommended in
// production, but useful behind a terminating load balancer).
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws: listen %s: %w", addr, err)
	}
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}

	l := &Listener{
		addr:     ln.Addr(),
		incoming: make(chan *websocket.Conn),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case l.incoming <- conn:
		case <-l.closed:
			conn.Close()
		}
	})
	l.server = &http.Server{Handler: mux}

	go l.server.Serve(ln)
	return l, nil
}

func (l *Listener) Accept(ctx context.Context) (transport.Connection, error) {
	select {
	case conn := <-l.incoming:
		sess, err := yamux.Server(newWSConn(conn), yamuxConfig())
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ws: yamux server handshake: %w", err)
		}
		return &Connection{session: sess}, nil
	case <-l.closed:
		return nil, fmt.Errorf("ws: listener closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Addr() net.Addr { return l.addr }
func (l *Listener) Close() error {
	close(l.closed)
	return l.server.Close()
}

// Connector dials outbound WebSocket connections.
type Connector struct {
	TLSConfig *tls.Config
}

func (c *Connector) Dial(ctx context.Context, addr string) (transport.Connection, error) {
	scheme := "ws"
	if c.TLSConfig != nil {
		scheme = "wss"
	}
	dialer := websocket.Dialer{
		TLSClientConfig:  c.TLSConfig,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, fmt.Sprintf("%s://%s%s", scheme, addr, Path), nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", addr, err)
	}
	sess, err := yamux.Client(newWSConn(conn), yamuxConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ws: yamux client handshake: %w", err)
	}
	return &Connection{session: sess}, nil
}

// Connection adapts a yamux session (carried over WebSocket) to
// transport.Connection. Identical in shape to h2.Connection since
// both bindings multiplex with yamux; kept as separate types so each
// binding's Listen/Dial lifecycle stays self-contained.
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

func (c *Connection) Close(code uint64, reason string) error { return c.session.Close() }
func (c *Connection) RemoteAddress() net.Addr                { return c.session.RemoteAddr() }
func (c *Connection) IsClosed() bool                         { return c.session.IsClosed() }

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
