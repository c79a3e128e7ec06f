package reverse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/localup-dev/localup/internal/agents"
	"github.com/localup-dev/localup/internal/auth"
	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/wire"
)

// AcceptTimeout is a 10-second reply window for a
// ReverseTunnelRequest. ServeRequest does not apply it: validation
// and agent lookup run without a deadline.
const AcceptTimeout = 10 * time.Second

// Plane is the relay-side half of the reverse-tunnel plane: it
// accepts reverse-tunnel client connections on their own control
// stream, validates and authorizes each request, and bridges traffic
// to the owning agent's connection.
type Plane struct {
	Validator *auth.Validator
	Agents    *agents.Registry
	Logger    *slog.Logger
}

func (p *Plane) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Serve runs the reverse-tunnel client's control stream lifecycle.
// The first message must be ReverseTunnelRequest.
func (p *Plane) Serve(ctx context.Context, stream transport.Stream) error {
	_, msg, err := stream.RecvMessage()
	if err != nil {
		return fmt.Errorf("reverse: read handshake: %w", err)
	}
	req, ok := msg.(wire.ReverseTunnelRequest)
	if !ok {
		return fmt.Errorf("reverse: expected ReverseTunnelRequest, got %T", msg)
	}
	return p.ServeRequest(ctx, stream, req)
}

// ServeRequest runs the reverse-tunnel client's lifecycle for a
// ReverseTunnelRequest already read off stream by a caller (the
// control handshake dispatcher, which must peek the first message to
// decide between a tunnel, an agent, and a reverse-tunnel client).
func (p *Plane) ServeRequest(ctx context.Context, stream transport.Stream, req wire.ReverseTunnelRequest) error {
	claims, err := p.Validator.Validate(req.AuthToken)
	if err != nil {
		return p.reject(stream, req.RTID, "authentication failed: "+err.Error())
	}
	if err := claims.AuthorizeReverse(req.AgentID, req.RemoteAddress); err != nil {
		return p.reject(stream, req.RTID, err.Error())
	}

	agent, ok := p.Agents.Get(req.AgentID)
	if !ok || agent.TargetAddress != req.RemoteAddress {
		return p.reject(stream, req.RTID, "not available")
	}

	if err := stream.SendMessage(wire.ReverseTunnelAccept{RTID: req.RTID, LocalAddress: req.RemoteAddress}); err != nil {
		return fmt.Errorf("reverse: send ReverseTunnelAccept: %w", err)
	}

	return p.bridge(ctx, stream, req.RTID, agent)
}

func (p *Plane) reject(stream transport.Stream, rtID, reason string) error {
	_ = stream.SendMessage(wire.ReverseTunnelReject{RTID: rtID, Reason: reason})
	return fmt.Errorf("reverse: rejected rt %s: %s", rtID, reason)
}

// bridge pumps ReverseData/ReverseClose from the client's shared
// stream to a per-connection substream opened against the agent,
// reusing TcpConnect/TcpData/TcpClose on the agent side: the agent
// already understands that exchange from C12, and the reverse plane
// only needs an outbound dial against its own registered address.
func (p *Plane) bridge(ctx context.Context, clientStream transport.Stream, rtID string, agent *agents.Agent) error {
	var mu sync.Mutex
	agentStreams := make(map[uint64]transport.Stream)
	var sendMu sync.Mutex

	sendToClient := func(msg wire.Message) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return clientStream.SendMessage(msg)
	}

	closeAll := func() {
		mu.Lock()
		defer mu.Unlock()
		for id, s := range agentStreams {
			_ = s.Finish()
			delete(agentStreams, id)
		}
	}
	defer closeAll()

	openAgentStream := func(streamID uint64, remoteAddress string) (transport.Stream, error) {
		s, err := agent.Conn.OpenStream(ctx)
		if err != nil {
			return nil, fmt.Errorf("reverse: open agent substream: %w", err)
		}
		if err := s.SendMessage(wire.TCPConnect{StreamID: streamID, RemoteAddr: remoteAddress}); err != nil {
			s.Finish()
			return nil, fmt.Errorf("reverse: send TcpConnect to agent: %w", err)
		}

		go func() {
			for {
				_, msg, err := s.RecvMessage()
				if err != nil {
					_ = sendToClient(wire.ReverseClose{RTID: rtID, StreamID: streamID, Reason: "agent stream closed"})
					mu.Lock()
					delete(agentStreams, streamID)
					mu.Unlock()
					return
				}
				switch m := msg.(type) {
				case wire.TCPData:
					if err := sendToClient(wire.ReverseData{RTID: rtID, StreamID: streamID, Data: m.Data}); err != nil {
						return
					}
				case wire.TCPClose:
					_ = sendToClient(wire.ReverseClose{RTID: rtID, StreamID: streamID, Reason: "agent closed"})
					mu.Lock()
					delete(agentStreams, streamID)
					mu.Unlock()
					return
				}
			}
		}()

		return s, nil
	}

	for {
		_, msg, err := clientStream.RecvMessage()
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case wire.ReverseData:
			mu.Lock()
			s, ok := agentStreams[m.StreamID]
			mu.Unlock()
			if !ok {
				s, err = openAgentStream(m.StreamID, agent.TargetAddress)
				if err != nil {
					_ = sendToClient(wire.ReverseClose{RTID: rtID, StreamID: m.StreamID, Reason: err.Error()})
					continue
				}
				mu.Lock()
				agentStreams[m.StreamID] = s
				mu.Unlock()
			}
			if err := s.SendMessage(wire.TCPData{StreamID: m.StreamID, Data: m.Data}); err != nil {
				s.Finish()
				mu.Lock()
				delete(agentStreams, m.StreamID)
				mu.Unlock()
			}

		case wire.ReverseClose:
			mu.Lock()
			s, ok := agentStreams[m.StreamID]
			delete(agentStreams, m.StreamID)
			mu.Unlock()
			if ok {
				_ = s.SendMessage(wire.TCPClose{StreamID: m.StreamID})
				s.Finish()
			}

		default:
			p.logger().Warn("reverse: unexpected message on client control stream", "type", fmt.Sprintf("%T", msg))
		}
	}
}
