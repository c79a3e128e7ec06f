package control

import (
	"context"
	"testing"
	"time"

	"github.com/localup-dev/localup/internal/auth"
	"github.com/localup-dev/localup/internal/wire"
)

// TestClientSession_OpenTunnelRoundTrip drives a real Handler on one
// end of a pipe and a ClientSession on the other, exercising the
// handshake and heartbeat loop from both sides at once.
func TestClientSession_OpenTunnelRoundTrip(t *testing.T) {
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
		KeepAliveInterval: 30 * time.Millisecond,
		DisconnectGrace:   20 * time.Millisecond,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- h.Serve(context.Background(), relayConn) }()

	clientConn := &pipeConnection{stream: clientSide}
	session := &ClientSession{KeepAliveInterval: 30 * time.Millisecond, DisconnectGrace: 20 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connected, stream, err := session.OpenTunnel(ctx, clientConn, wire.Connect{TunnelID: "t1", AuthToken: token})
	if err != nil {
		t.Fatalf("OpenTunnel: %v", err)
	}
	if connected.TunnelID != "t1" {
		t.Fatalf("expected Connected{t1}, got %#v", connected)
	}

	heartbeatErr := make(chan error, 1)
	go func() { heartbeatErr <- session.RunHeartbeat(ctx, stream) }()

	// Let a couple of Ping/Pong rounds happen, then cancel from the
	// client side, which drives the same guaranteed-Disconnect path
	// production shutdown uses.
	time.Sleep(80 * time.Millisecond)
	cancel()

	select {
	case err := <-heartbeatErr:
		if err != context.Canceled {
			t.Fatalf("RunHeartbeat() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunHeartbeat did not return after cancellation")
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

func TestClientSession_RegisterAgentRejected(t *testing.T) {
	relayConn, clientSide := newPipePair()

	h := &Handler{
		Validator: auth.NewHMACValidator([]byte("secret")),
		OnAgent: func(ctx context.Context, reg wire.AgentRegister, claims auth.Claims) (wire.AgentRegistered, error) {
			return wire.AgentRegistered{}, errRejected
		},
		DisconnectGrace: 20 * time.Millisecond,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- h.Serve(context.Background(), relayConn) }()

	clientConn := &pipeConnection{stream: clientSide}
	session := &ClientSession{}

	token, err := auth.EncodeHMAC([]byte("secret"), auth.NewClaims("", "agent-1", "", time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err = session.RegisterAgent(ctx, clientConn, wire.AgentRegister{AgentID: "agent-1", AuthToken: token})
	if err == nil {
		t.Fatal("expected RegisterAgent to fail when OnAgent rejects")
	}

	<-serveErr
}

type rejectedError struct{}

func (rejectedError) Error() string { return "rejected by policy" }

var errRejected = rejectedError{}
