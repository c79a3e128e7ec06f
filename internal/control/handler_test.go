package control

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/localup-dev/localup/internal/auth"
	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/wire"
)

// pipeStream adapts a net.Conn (from net.Pipe) to transport.Stream
// for tests that only need one logical stream per connection.
type pipeStream struct {
	net.Conn
}

func (s *pipeStream) SendMessage(m wire.Message) error { return wire.WriteMessage(s.Conn, m) }
func (s *pipeStream) RecvMessage() (wire.Tag, wire.Message, error) {
	return wire.ReadMessage(s.Conn, 0)
}
func (s *pipeStream) Finish() error      { return nil }
func (s *pipeStream) StreamID() uint64   { return 1 }
func (s *pipeStream) IsClosed() bool     { return false }

// pipeConnection hands out a single pre-established stream from
// AcceptStream, enough to exercise Handler.Serve's first-stream
// handshake without a real multiplexed transport.
type pipeConnection struct {
	stream *pipeStream
	used   bool
}

func (c *pipeConnection) OpenStream(ctx context.Context) (transport.Stream, error) {
	return c.stream, nil
}
func (c *pipeConnection) AcceptStream(ctx context.Context) (transport.Stream, error) {
	if c.used {
		return nil, io.EOF
	}
	c.used = true
	return c.stream, nil
}
func (c *pipeConnection) Close(code uint64, reason string) error { return c.stream.Close() }
func (c *pipeConnection) RemoteAddress() net.Addr                { return nil }
func (c *pipeConnection) IsClosed() bool                         { return false }
func (c *pipeConnection) StatsSnapshot() transport.Stats         { return transport.Stats{} }

func newPipePair() (relay *pipeConnection, client *pipeStream) {
	a, b := net.Pipe()
	return &pipeConnection{stream: &pipeStream{Conn: a}}, &pipeStream{Conn: b}
}

func TestServe_TunnelAcceptedThenDisconnect(t *testing.T) {
	relayConn, clientSide := newPipePair()

	validator := auth.NewHMACValidator([]byte("secret"))
	token, err := auth.EncodeHMAC([]byte("secret"), auth.NewClaims("t1", "", "", time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	h := &Handler{
		Validator: validator,
		OnTunnel: func(ctx context.Context, connect wire.Connect, claims auth.Claims) (wire.Connected, error) {
			return wire.Connected{TunnelID: connect.TunnelID}, nil
		},
		KeepAliveInterval: 50 * time.Millisecond,
		DisconnectGrace:   20 * time.Millisecond,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- h.Serve(context.Background(), relayConn) }()

	if err := wire.WriteMessage(clientSide, wire.Connect{TunnelID: "t1", AuthToken: token}); err != nil {
		t.Fatal(err)
	}

	_, msg, err := wire.ReadMessage(clientSide, 0)
	if err != nil {
		t.Fatalf("read Connected: %v", err)
	}
	connected, ok := msg.(wire.Connected)
	if !ok || connected.TunnelID != "t1" {
		t.Fatalf("expected Connected{t1}, got %#v", msg)
	}

	if err := wire.WriteMessage(clientSide, wire.Disconnect{Reason: "done"}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after client Disconnect")
	}
}

func TestServe_AuthFailureSendsDisconnect(t *testing.T) {
	relayConn, clientSide := newPipePair()

	h := &Handler{
		Validator:       auth.NewHMACValidator([]byte("secret")),
		DisconnectGrace: 20 * time.Millisecond,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- h.Serve(context.Background(), relayConn) }()

	if err := wire.WriteMessage(clientSide, wire.Connect{TunnelID: "t1", AuthToken: "bad-token"}); err != nil {
		t.Fatal(err)
	}

	_, msg, err := wire.ReadMessage(clientSide, 0)
	if err != nil {
		t.Fatalf("read Disconnect: %v", err)
	}
	disc, ok := msg.(wire.Disconnect)
	if !ok {
		t.Fatalf("expected Disconnect, got %#v", msg)
	}
	if !bytes.Contains([]byte(disc.Reason), []byte("Authentication failed")) {
		t.Errorf("unexpected disconnect reason: %q", disc.Reason)
	}

	if err := <-serveErr; err == nil {
		t.Fatal("expected Serve to return an error for failed authentication")
	}
}

func TestServe_UnexpectedFirstMessageIsProtocolError(t *testing.T) {
	relayConn, clientSide := newPipePair()

	h := &Handler{
		Validator:       auth.NewHMACValidator([]byte("secret")),
		DisconnectGrace: 20 * time.Millisecond,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- h.Serve(context.Background(), relayConn) }()

	if err := wire.WriteMessage(clientSide, wire.Ping{Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	_, msg, err := wire.ReadMessage(clientSide, 0)
	if err != nil {
		t.Fatalf("read Disconnect: %v", err)
	}
	if _, ok := msg.(wire.Disconnect); !ok {
		t.Fatalf("expected Disconnect, got %#v", msg)
	}

	if err := <-serveErr; err != ErrProtocolError {
		t.Fatalf("expected ErrProtocolError, got %v", err)
	}
}

func TestReconnectDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := ReconnectDelay(tc.attempt); got != tc.want {
			t.Errorf("ReconnectDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
