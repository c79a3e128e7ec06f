package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/wire"
)

// ClientSession drives the client-initiated half of the control
// lifecycle: open the first stream, send the handshake message, await
// the relay's response, then run the same heartbeat loop Handler runs
// on the relay side.
type ClientSession struct {
	KeepAliveInterval time.Duration
	DisconnectGrace   time.Duration
	Logger            *slog.Logger
}

func (c *ClientSession) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ClientSession) keepAlive() time.Duration {
	if c.KeepAliveInterval > 0 {
		return c.KeepAliveInterval
	}
	return DefaultKeepAliveInterval
}

func (c *ClientSession) grace() time.Duration {
	if c.DisconnectGrace > 0 {
		return c.DisconnectGrace
	}
	return DefaultDisconnectGrace
}

// OpenTunnel opens conn's first stream, sends connect, and returns the
// relay's Connected response along with the stream. The caller runs
// RunHeartbeat on the returned stream to drive the Established state
// and must call stream.Finish (or let RunHeartbeat's Disconnect
// handling do so) when done.
func (c *ClientSession) OpenTunnel(ctx context.Context, conn transport.Connection, connect wire.Connect) (wire.Connected, transport.Stream, error) {
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return wire.Connected{}, nil, fmt.Errorf("control: open first stream: %w", err)
	}
	if err := stream.SendMessage(connect); err != nil {
		return wire.Connected{}, nil, fmt.Errorf("control: send Connect: %w", err)
	}

	_, msg, err := stream.RecvMessage()
	if err != nil {
		return wire.Connected{}, nil, fmt.Errorf("control: read Connect response: %w", err)
	}
	switch m := msg.(type) {
	case wire.Connected:
		return m, stream, nil
	case wire.Disconnect:
		return wire.Connected{}, nil, fmt.Errorf("control: relay rejected Connect: %s: %w", m.Reason, ErrNonRecoverable)
	default:
		return wire.Connected{}, nil, fmt.Errorf("control: unexpected Connect response %T", msg)
	}
}

// RegisterAgent opens conn's first stream, sends reg, and returns the
// relay's AgentRegistered response along with the stream.
func (c *ClientSession) RegisterAgent(ctx context.Context, conn transport.Connection, reg wire.AgentRegister) (wire.AgentRegistered, transport.Stream, error) {
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return wire.AgentRegistered{}, nil, fmt.Errorf("control: open first stream: %w", err)
	}
	if err := stream.SendMessage(reg); err != nil {
		return wire.AgentRegistered{}, nil, fmt.Errorf("control: send AgentRegister: %w", err)
	}

	_, msg, err := stream.RecvMessage()
	if err != nil {
		return wire.AgentRegistered{}, nil, fmt.Errorf("control: read AgentRegister response: %w", err)
	}
	switch m := msg.(type) {
	case wire.AgentRegistered:
		return m, stream, nil
	case wire.AgentRejected:
		return wire.AgentRegistered{}, nil, fmt.Errorf("control: relay rejected AgentRegister: %s: %w", m.Reason, ErrNonRecoverable)
	default:
		return wire.AgentRegistered{}, nil, fmt.Errorf("control: unexpected AgentRegister response %T", msg)
	}
}

// RunHeartbeat drives the Established-state control stream from the
// client side, identically to the relay side's heartbeat loop. It
// returns nil when the peer sends Disconnect or closes the transport,
// ctx.Err() when ctx is cancelled (after sending its own Disconnect),
// and a non-nil error on keep-alive timeout or a failed send.
func (c *ClientSession) RunHeartbeat(ctx context.Context, stream transport.Stream) error {
	return heartbeatLoop(ctx, stream, c.keepAlive(), c.grace(), c.logger())
}
