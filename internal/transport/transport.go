// Package transport defines the uniform Connection/Stream/Listener/
// Connector contract used by every tunnel binding (QUIC, H2, WS), and
// coordinates the lifecycle of server components with an errgroup.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localup-dev/localup/internal/wire"
)

// shutdownTimeout is the maximum time allowed for gracefully stopping
// all components, one after another, after the context is cancelled.
const shutdownTimeout = 15 * time.Second

// Stats reports basic byte/packet counters for a Connection.
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
}

// Connection is a multiplexed, authenticated tunnel transport
// connection. QUIC is the reference binding; H2 and WebSocket
// bindings multiplex additional logical streams over yamux.
type Connection interface {
	// OpenStream opens a new bidirectional stream initiated by this
	// side.
	OpenStream(ctx context.Context) (Stream, error)
	// AcceptStream blocks until the peer opens a new stream, or
	// returns an error when the connection closes.
	AcceptStream(ctx context.Context) (Stream, error)
	// Close tears down the connection, delivering code/reason to the
	// peer when the binding supports it.
	Close(code uint64, reason string) error
	// RemoteAddress returns the peer's network address.
	RemoteAddress() net.Addr
	// IsClosed reports whether the connection has been closed,
	// locally or by the peer.
	IsClosed() bool
	// StatsSnapshot returns the current byte counters.
	StatsSnapshot() Stats
}

// Stream is a bidirectional byte/message stream multiplexed over a
// single Connection. Every substream is opened by one side to carry
// exactly one logical request; it is half-closed by either side to
// signal end-of-body and fully closed after both halves close.
type Stream interface {
	io.Reader
	io.Writer
	// SendMessage encodes and writes one wire.Message frame.
	SendMessage(m wire.Message) error
	// RecvMessage reads and decodes one wire.Message frame. It
	// returns io.EOF when the stream is cleanly closed.
	RecvMessage() (wire.Tag, wire.Message, error)
	// Finish half-closes the send side.
	Finish() error
	// StreamID returns the transport-assigned stream id. This is a
	// distinct id space from any application-level stream id carried
	// inside ReverseData/TcpData/TlsData/HttpStreamData payloads.
	StreamID() uint64
	// IsClosed reports whether the stream has been fully closed.
	IsClosed() bool
}

// Listener accepts inbound Connections on a bound address.
type Listener interface {
	Accept(ctx context.Context) (Connection, error)
	Addr() net.Addr
	Close() error
}

// Connector dials an outbound Connection to a remote address.
type Connector interface {
	Dial(ctx context.Context, addr string) (Connection, error)
}

// Component defines a long-running part of a process that can be
// started and stopped as a unit. Start should block until the
// component finishes or ctx is cancelled. Stop performs graceful
// shutdown within the provided context deadline.
type Component interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// Serve runs all components concurrently and coordinates graceful
// shutdown: every component is started first, then a single goroutine
// waits for the derived context to be done (parent cancellation or
// any component failing) and stops every component.
func Serve(ctx context.Context, components ...Component) error {
	eg, egCtx := errgroup.WithContext(ctx)

	for _, c := range components {
		eg.Go(func() error {
			return c.Start(egCtx)
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, c := range components {
			if err := c.Stop(stopCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return eg.Wait()
}
