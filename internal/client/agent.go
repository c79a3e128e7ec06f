package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/localup-dev/localup/internal/config"
	"github.com/localup-dev/localup/internal/control"
	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/transport/quic"
	"github.com/localup-dev/localup/internal/wire"
)

// Agent runs the reverse-tunnel-mode client that registers a fixed
// target address with the relay and dials it on every incoming
// TcpConnect, per the relay's reuse of C12's byte-stream framing for
// the agent leg of C15.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewAgent builds an Agent from cfg.
func NewAgent(cfg *config.Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{cfg: cfg, logger: logger}
}

// Run registers with the relay and serves incoming substreams until
// ctx is cancelled, reconnecting with backoff on every failure. A
// registration rejection the relay marks non-recoverable ends the
// loop immediately instead of retrying forever against the same
// rejection.
func (a *Agent) Run(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		err := a.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, control.ErrNonRecoverable) {
			a.logger.Error("agent: non-recoverable rejection, giving up", "error", err)
			return err
		}
		if err != nil {
			a.logger.Warn("agent: connection ended, reconnecting", "error", err, "attempt", attempt)
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

func (a *Agent) runOnce(ctx context.Context) error {
	tlsConf := &tls.Config{InsecureSkipVerify: a.cfg.AgentInsecure()}
	connector := &quic.Connector{TLSConfig: tlsConf}

	conn, err := connector.Dial(ctx, a.cfg.AgentRelay())
	if err != nil {
		return fmt.Errorf("agent: dial %s: %w", a.cfg.AgentRelay(), err)
	}
	defer conn.Close(0, "agent shutting down")

	session := &control.ClientSession{Logger: a.logger}
	reg := wire.AgentRegister{
		AgentID:       a.cfg.AgentID(),
		AuthToken:     a.cfg.AgentToken(),
		TargetAddress: a.cfg.AgentTargetAddress(),
	}

	registered, stream, err := session.RegisterAgent(ctx, conn, reg)
	if err != nil {
		return fmt.Errorf("agent: handshake: %w", err)
	}
	a.logger.Info("agent: registered", "agent_id", registered.AgentID, "target", a.cfg.AgentTargetAddress())

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.acceptLoop(connCtx, conn)

	return session.RunHeartbeat(ctx, stream)
}

func (a *Agent) acceptLoop(ctx context.Context, conn transport.Connection) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go a.serveStream(stream)
	}
}

// serveStream dials TargetAddress on every incoming TcpConnect. The
// RemoteAddr carried in TcpConnect is the original external caller's
// address, informational only; the agent always dials its own
// registered target.
func (a *Agent) serveStream(stream transport.Stream) {
	defer stream.Finish()

	_, msg, err := stream.RecvMessage()
	if err != nil {
		return
	}
	connect, ok := msg.(wire.TCPConnect)
	if !ok {
		a.logger.Warn("agent: unexpected first message on substream", "type", fmt.Sprintf("%T", msg))
		return
	}

	backend, err := net.DialTimeout("tcp", a.cfg.AgentTargetAddress(), 5*time.Second)
	if err != nil {
		_ = stream.SendMessage(wire.TCPClose{StreamID: connect.StreamID})
		return
	}
	defer backend.Close()

	errc := make(chan error, 2)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := backend.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				if sendErr := stream.SendMessage(wire.TCPData{StreamID: connect.StreamID, Data: data}); sendErr != nil {
					errc <- sendErr
					return
				}
			}
			if err != nil {
				_ = stream.SendMessage(wire.TCPClose{StreamID: connect.StreamID})
				errc <- err
				return
			}
		}
	}()
	go func() {
		for {
			_, msg, err := stream.RecvMessage()
			if err != nil {
				errc <- err
				return
			}
			switch m := msg.(type) {
			case wire.TCPData:
				if _, err := backend.Write(m.Data); err != nil {
					errc <- err
					return
				}
			case wire.TCPClose:
				errc <- nil
				return
			}
		}
	}()
	<-errc
}
