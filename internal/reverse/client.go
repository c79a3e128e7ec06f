package reverse

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/wire"
)

// Session is the client-side half of a reverse-tunnel: one bound
// local listener, feeding every accepted connection's bytes through
// a single relay control stream multiplexed by stream_id.
type Session struct {
	RTID     string
	stream   transport.Stream
	listener net.Listener
	demux    *demux
	nextID   atomic.Uint64
	logger   *slog.Logger
}

// Connect opens a reverse-tunnel control stream on conn, sends
// ReverseTunnelRequest, and on ReverseTunnelAccept binds a local
// listener. The relay-reported local_address is informational only;
// the caller chooses bindAddr, typically "127.0.0.1:0".
func Connect(ctx context.Context, conn transport.Connection, bindAddr string, req wire.ReverseTunnelRequest, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("reverse: open control stream: %w", err)
	}
	if err := stream.SendMessage(req); err != nil {
		return nil, fmt.Errorf("reverse: send ReverseTunnelRequest: %w", err)
	}

	_, msg, err := stream.RecvMessage()
	if err != nil {
		return nil, fmt.Errorf("reverse: read handshake reply: %w", err)
	}
	switch m := msg.(type) {
	case wire.ReverseTunnelReject:
		return nil, fmt.Errorf("reverse: rejected: %s", m.Reason)
	case wire.ReverseTunnelAccept:
		// fall through
	default:
		return nil, fmt.Errorf("reverse: unexpected handshake reply %T", msg)
	}

	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		stream.Finish()
		return nil, fmt.Errorf("reverse: bind local listener: %w", err)
	}

	s := &Session{
		RTID:     req.RTID,
		stream:   stream,
		listener: ln,
		demux:    newDemux(stream, req.RTID, logger),
		logger:   logger,
	}

	go func() {
		if err := s.demux.run(); err != nil {
			s.logger.Info("reverse: control stream closed", "rt_id", s.RTID, "error", err)
			ln.Close()
		}
	}()
	go s.acceptLoop(ctx)

	return s, nil
}

// Addr returns the bound local address, the value reported back to
// the caller per the connect contract.
func (s *Session) Addr() net.Addr { return s.listener.Addr() }

// Close stops accepting new connections and tears down the control
// stream.
func (s *Session) Close() error {
	s.listener.Close()
	return s.stream.Finish()
}

func (s *Session) acceptLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		streamID := s.nextID.Add(1)
		go s.pumpConn(conn, streamID)
	}
}

func (s *Session) pumpConn(conn net.Conn, streamID uint64) {
	defer conn.Close()

	ch, unregister := s.demux.register(streamID)
	defer unregister()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 32*1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				if sendErr := s.demux.sendData(streamID, data); sendErr != nil {
					return
				}
			}
			if err != nil {
				_ = s.demux.sendClose(streamID, "local connection closed")
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case wire.ReverseData:
				if _, err := conn.Write(m.Data); err != nil {
					return
				}
			case wire.ReverseClose:
				return
			}
		case <-done:
			// Local side finished; drain remaining inbound data briefly
			// before tearing down, matching the grace window pattern
			// used elsewhere for guaranteed-delivery close.
			select {
			case <-ch:
			case <-time.After(200 * time.Millisecond):
			}
			return
		}
	}
}
