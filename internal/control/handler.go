// Package control implements the control-plane state machine (C8)
// shared by every tunnel and agent connection: handshake dispatch,
// authentication, keep-alive, and guaranteed Disconnect delivery.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/localup-dev/localup/internal/auth"
	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/wire"
)

// DefaultKeepAliveInterval is the interval at which Ping is sent on
// an established control stream.
const DefaultKeepAliveInterval = 15 * time.Second

// DefaultDisconnectGrace is how long the handler waits for the peer
// to close its side after a Disconnect has been sent and finished,
// before it gives up and aborts the transport connection outright.
const DefaultDisconnectGrace = 200 * time.Millisecond

// ErrKeepAliveTimeout is returned when no Pong is observed within
// twice the keep-alive interval.
var ErrKeepAliveTimeout = errors.New("control: keep-alive timeout")

// ErrProtocolError is returned when the first message on a control
// stream is not Connect, AgentRegister, or (when OnReverse is set)
// ReverseTunnelRequest.
var ErrProtocolError = errors.New("control: unexpected first message")

// ErrNonRecoverable marks a handshake rejection that retrying will not
// fix: the relay rejected this Connect or AgentRegister on its merits
// (bad credentials, a protocol outside the token's scope, a malformed
// request), and sending the identical request again would be rejected
// identically. Callers should use errors.Is against this sentinel to
// decide whether to stop reconnecting rather than back off and retry.
var ErrNonRecoverable = errors.New("control: non-recoverable rejection")

// TunnelAccepter decides whether to accept a tunnel Connect and what
// Connected response to send. Returning an error rejects the
// connection; the error's message becomes the Disconnect reason.
type TunnelAccepter func(ctx context.Context, connect wire.Connect, claims auth.Claims) (wire.Connected, error)

// AgentAccepter decides whether to accept an AgentRegister.
// Returning an error rejects the registration; the error's message
// becomes the AgentRejected reason.
type AgentAccepter func(ctx context.Context, reg wire.AgentRegister, claims auth.Claims) (wire.AgentRegistered, error)

// ReverseAccepter runs a reverse-tunnel client's entire control
// stream lifecycle once its ReverseTunnelRequest has been read off
// the first stream; it owns validation, Accept/Reject, and bridging,
// and its return value is passed straight back to Serve's caller.
type ReverseAccepter func(ctx context.Context, stream transport.Stream, req wire.ReverseTunnelRequest) error

// Handler drives one control connection's Handshake -> Authenticating
// -> Established -> Closed lifecycle on its first stream.
type Handler struct {
	Validator         *auth.Validator
	OnTunnel          TunnelAccepter
	OnAgent           AgentAccepter
	OnReverse         ReverseAccepter
	KeepAliveInterval time.Duration
	DisconnectGrace   time.Duration
	Logger            *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) keepAlive() time.Duration {
	if h.KeepAliveInterval > 0 {
		return h.KeepAliveInterval
	}
	return DefaultKeepAliveInterval
}

func (h *Handler) grace() time.Duration {
	if h.DisconnectGrace > 0 {
		return h.DisconnectGrace
	}
	return DefaultDisconnectGrace
}

// Serve runs the full control lifecycle on conn's first stream. It
// returns nil on a graceful Closed transition (peer Disconnect,
// transport close) and a non-nil error for protocol/auth failures
// that the caller may want to log distinctly.
func (h *Handler) Serve(ctx context.Context, conn transport.Connection) error {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("control: accept first stream: %w", err)
	}

	_, msg, err := stream.RecvMessage()
	if err != nil {
		return fmt.Errorf("control: read handshake message: %w", err)
	}

	switch m := msg.(type) {
	case wire.Connect:
		return h.serveTunnel(ctx, stream, m)
	case wire.AgentRegister:
		return h.serveAgent(ctx, stream, m)
	case wire.ReverseTunnelRequest:
		if h.OnReverse == nil {
			return ErrProtocolError
		}
		return h.OnReverse(ctx, stream, m)
	default:
		sendDisconnect(stream, "protocol error: first message must be Connect, AgentRegister, or ReverseTunnelRequest", h.grace(), h.logger())
		return ErrProtocolError
	}
}

func (h *Handler) serveTunnel(ctx context.Context, stream transport.Stream, connect wire.Connect) error {
	claims, err := h.Validator.Validate(connect.AuthToken)
	if err != nil {
		sendDisconnect(stream, "Authentication failed: "+err.Error(), h.grace(), h.logger())
		return fmt.Errorf("control: authenticate tunnel %s: %w", connect.TunnelID, err)
	}

	connected, err := h.OnTunnel(ctx, connect, claims)
	if err != nil {
		sendDisconnect(stream, err.Error(), h.grace(), h.logger())
		return fmt.Errorf("control: accept tunnel %s: %w", connect.TunnelID, err)
	}

	if err := stream.SendMessage(connected); err != nil {
		return fmt.Errorf("control: send Connected: %w", err)
	}

	return heartbeatLoop(ctx, stream, h.keepAlive(), h.grace(), h.logger())
}

func (h *Handler) serveAgent(ctx context.Context, stream transport.Stream, reg wire.AgentRegister) error {
	claims, err := h.Validator.Validate(reg.AuthToken)
	if err != nil {
		if sendErr := stream.SendMessage(wire.AgentRejected{Reason: "Authentication failed: " + err.Error()}); sendErr != nil {
			h.logger().Warn("control: send AgentRejected failed", "error", sendErr)
		}
		_ = stream.Finish()
		return fmt.Errorf("control: authenticate agent %s: %w", reg.AgentID, err)
	}

	registered, err := h.OnAgent(ctx, reg, claims)
	if err != nil {
		if sendErr := stream.SendMessage(wire.AgentRejected{Reason: err.Error()}); sendErr != nil {
			h.logger().Warn("control: send AgentRejected failed", "error", sendErr)
		}
		_ = stream.Finish()
		return fmt.Errorf("control: accept agent %s: %w", reg.AgentID, err)
	}

	if err := stream.SendMessage(registered); err != nil {
		return fmt.Errorf("control: send AgentRegistered: %w", err)
	}

	return heartbeatLoop(ctx, stream, h.keepAlive(), h.grace(), h.logger())
}

type receivedMessage struct {
	tag wire.Tag
	msg wire.Message
}

// heartbeatLoop owns the Established-state control stream: it sends
// Ping at the keep-alive interval, answers the peer's Ping with Pong,
// and watches for either a peer Disconnect (graceful) or a missed
// Pong past twice the interval (dead connection, triggers our own
// Disconnect). All application traffic flows on separate substreams
// and never reaches this loop. Both Handler (relay side) and
// ClientSession (client side) drive the same loop once their
// handshake has produced an Established stream.
func heartbeatLoop(ctx context.Context, stream transport.Stream, interval, grace time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastPong := time.Now()

	msgCh := make(chan receivedMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		for {
			tag, msg, err := stream.RecvMessage()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- receivedMessage{tag: tag, msg: msg}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sendDisconnect(stream, "shutting down", grace, logger)
			return ctx.Err()

		case <-ticker.C:
			if time.Since(lastPong) > 2*interval {
				sendDisconnect(stream, "keep-alive timeout", grace, logger)
				return ErrKeepAliveTimeout
			}
			if err := stream.SendMessage(wire.Ping{Timestamp: time.Now().Unix()}); err != nil {
				return fmt.Errorf("control: send Ping: %w", err)
			}

		case rm := <-msgCh:
			switch v := rm.msg.(type) {
			case wire.Ping:
				if err := stream.SendMessage(wire.Pong{Timestamp: v.Timestamp}); err != nil {
					return fmt.Errorf("control: send Pong: %w", err)
				}
			case wire.Pong:
				lastPong = time.Now()
			case wire.Disconnect:
				return nil
			default:
				logger.Warn("control: unexpected message on control stream", "tag", rm.tag)
			}

		case err := <-errCh:
			if errors.Is(err, context.Canceled) {
				return err
			}
			// Transport closed from the peer: Closed without a
			// Disconnect round trip.
			return nil
		}
	}
}

// sendDisconnect delivers a Disconnect with delivery guarantees: send
// the message, half-close the send side, then wait up to the
// configured grace window for the peer to close its side before
// giving up.
func sendDisconnect(stream transport.Stream, reason string, grace time.Duration, logger *slog.Logger) {
	if err := stream.SendMessage(wire.Disconnect{Reason: reason}); err != nil {
		logger.Warn("control: send Disconnect failed", "error", err)
		return
	}
	if err := stream.Finish(); err != nil {
		logger.Warn("control: finish after Disconnect failed", "error", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = stream.RecvMessage()
	}()

	select {
	case <-done:
	case <-time.After(grace):
	}
}
