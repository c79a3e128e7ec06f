package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/localup-dev/localup/internal/config"
	"github.com/localup-dev/localup/internal/reverse"
	"github.com/localup-dev/localup/internal/transport/quic"
	"github.com/localup-dev/localup/internal/wire"
)

// RunReverse dials the relay, opens a reverse-tunnel control stream
// against the agent named by cfg, and binds a local listener that
// proxies every accepted connection through the relay to that agent's
// target address. It blocks until ctx is cancelled or the session
// fails.
func RunReverse(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	tlsConf := &tls.Config{InsecureSkipVerify: cfg.ReverseInsecure()}
	connector := &quic.Connector{TLSConfig: tlsConf}

	conn, err := connector.Dial(ctx, cfg.ReverseRelay())
	if err != nil {
		return fmt.Errorf("reverse: dial %s: %w", cfg.ReverseRelay(), err)
	}
	defer conn.Close(0, "reverse client shutting down")

	req := wire.ReverseTunnelRequest{
		RTID:          uuid.NewString(),
		RemoteAddress: cfg.ReverseRemoteAddress(),
		AgentID:       cfg.ReverseAgentID(),
		AuthToken:     cfg.ReverseToken(),
	}

	session, err := reverse.Connect(ctx, conn, cfg.ReverseBind(), req, logger)
	if err != nil {
		return fmt.Errorf("reverse: connect: %w", err)
	}
	defer session.Close()

	logger.Info("reverse: local listener ready", "bind", session.Addr(), "agent_id", req.AgentID, "remote_address", req.RemoteAddress)

	<-ctx.Done()
	return ctx.Err()
}
