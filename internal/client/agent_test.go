package client

import (
	"net"
	"testing"
	"time"

	"github.com/localup-dev/localup/internal/config"
	"github.com/localup-dev/localup/internal/wire"
)

// fakeStream adapts a net.Pipe end to transport.Stream for exercising
// Agent.serveStream without a real multiplexed connection.
type fakeStream struct {
	net.Conn
}

func (s *fakeStream) SendMessage(m wire.Message) error { return wire.WriteMessage(s.Conn, m) }
func (s *fakeStream) RecvMessage() (wire.Tag, wire.Message, error) {
	return wire.ReadMessage(s.Conn, 0)
}
func (s *fakeStream) Finish() error    { return s.Conn.Close() }
func (s *fakeStream) StreamID() uint64 { return 1 }
func (s *fakeStream) IsClosed() bool   { return false }

func TestAgent_ServeStream_ProxiesData(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		conn.Write(buf[:n])
	}()

	relaySide, agentSide := net.Pipe()
	defer relaySide.Close()

	a := NewAgent(agentConfigWithTarget(t, ln.Addr().String()), nil)

	done := make(chan struct{})
	go func() {
		a.serveStream(&fakeStream{Conn: agentSide})
		close(done)
	}()

	if err := wire.WriteMessage(relaySide, wire.TCPConnect{StreamID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := wire.WriteMessage(relaySide, wire.TCPData{StreamID: 1, Data: []byte("ping")}); err != nil {
		t.Fatal(err)
	}

	relaySide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := wire.ReadMessage(relaySide, 0)
	if err != nil {
		t.Fatalf("read echoed data: %v", err)
	}
	data, ok := msg.(wire.TCPData)
	if !ok || string(data.Data) != "ping" {
		t.Fatalf("expected echoed TcpData{ping}, got %#v", msg)
	}

	if err := wire.WriteMessage(relaySide, wire.TCPClose{StreamID: 1}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveStream did not return after TcpClose")
	}
}

func TestAgent_ServeStream_DialFailureSendsClose(t *testing.T) {
	relaySide, agentSide := net.Pipe()
	defer relaySide.Close()

	a := &Agent{cfg: agentConfigWithTarget(t, "127.0.0.1:1")}

	done := make(chan struct{})
	go func() {
		a.serveStream(&fakeStream{Conn: agentSide})
		close(done)
	}()

	if err := wire.WriteMessage(relaySide, wire.TCPConnect{StreamID: 1}); err != nil {
		t.Fatal(err)
	}

	relaySide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := wire.ReadMessage(relaySide, 0)
	if err != nil {
		t.Fatalf("read TcpClose: %v", err)
	}
	if _, ok := msg.(wire.TCPClose); !ok {
		t.Fatalf("expected TcpClose after dial failure, got %#v", msg)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveStream did not return after dial failure")
	}
}

func TestAgent_ServeStream_UnexpectedFirstMessage(t *testing.T) {
	relaySide, agentSide := net.Pipe()
	defer relaySide.Close()

	a := NewAgent(agentConfigWithTarget(t, "127.0.0.1:1"), nil)

	done := make(chan struct{})
	go func() {
		a.serveStream(&fakeStream{Conn: agentSide})
		close(done)
	}()

	if err := wire.WriteMessage(relaySide, wire.Ping{Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveStream did not return after an unexpected first message")
	}
}

func TestNewAgent_DefaultsLogger(t *testing.T) {
	a := NewAgent(newTestConfig(t), nil)
	if a.logger == nil {
		t.Error("expected NewAgent to default logger when nil is given")
	}
}

func agentConfigWithTarget(t *testing.T, target string) *config.Config {
	t.Helper()
	cfg := newTestConfig(t)
	cfg.SetAgentTargetAddress(target)
	return cfg
}
