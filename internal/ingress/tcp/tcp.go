// Package tcp implements the TCP proxy ingress (C12): one dedicated
// listener per TCP tunnel, forwarding raw bytes over a tunnel
// substream framed as TcpData/TcpClose.
package tcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/localup-dev/localup/internal/metrics"
	"github.com/localup-dev/localup/internal/routes"
	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/tunnelmgr"
	"github.com/localup-dev/localup/internal/wire"
)

// BindRetries and BindRetryInterval implement the TIME_WAIT-absorbing
// retry policy for a client-requested specific port.
const (
	BindRetries       = 3
	BindRetryInterval = 1 * time.Second
)

// Listener owns one tunnel's dedicated TCP port.
type Listener struct {
	TunnelID string
	Port     uint16

	ln       net.Listener
	tunnels  *tunnelmgr.Manager
	routes   *routes.Registry
	metrics  *metrics.Registry
	logger   *slog.Logger
	ipFilter []string
}

// Manager allocates and tracks per-tunnel TCP listeners.
type Manager struct {
	Host    string
	Routes  *routes.Registry
	Tunnels *tunnelmgr.Manager
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Allocate binds a listener for tunnelID. If requestedPort is
// non-zero it is attempted BindRetries times at BindRetryInterval to
// absorb TIME_WAIT from a prior listener on the same port; a
// requestedPort of zero lets the OS assign one. ipFilter, when
// non-empty, restricts the route to the listed CIDRs.
func (m *Manager) Allocate(ctx context.Context, tunnelID string, requestedPort uint16, ipFilter []string) (*Listener, error) {
	ln, err := m.bind(requestedPort)
	if err != nil {
		return nil, err
	}

	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	if err := m.Routes.Register(routes.Key{Kind: routes.TCPPort, Value: portKey(port)}, routes.Target{TunnelID: tunnelID, IPFilter: ipFilter}); err != nil {
		ln.Close()
		return nil, fmt.Errorf("tcp ingress: register port %d: %w", port, err)
	}

	l := &Listener{
		TunnelID: tunnelID,
		Port:     port,
		ln:       ln,
		tunnels:  m.Tunnels,
		routes:   m.Routes,
		metrics:  m.Metrics,
		logger:   m.logger(),
		ipFilter: ipFilter,
	}
	go l.serve(ctx)
	return l, nil
}

func (m *Manager) bind(requestedPort uint16) (net.Listener, error) {
	if requestedPort == 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:0", m.Host))
		if err != nil {
			return nil, fmt.Errorf("tcp ingress: listen on ephemeral port: %w", err)
		}
		return ln, nil
	}

	addr := fmt.Sprintf("%s:%d", m.Host, requestedPort)
	var lastErr error
	for attempt := 1; attempt <= BindRetries; attempt++ {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		if attempt < BindRetries {
			time.Sleep(BindRetryInterval)
		}
	}
	return nil, fmt.Errorf("tcp ingress: bind %s after %d attempts: %w", addr, BindRetries, lastErr)
}

func portKey(port uint16) string { return fmt.Sprintf("%d", port) }

// Close stops accepting connections and unregisters the route.
func (l *Listener) Close() error {
	l.routes.Unregister(routes.Key{Kind: routes.TCPPort, Value: portKey(l.Port)})
	return l.ln.Close()
}

func (l *Listener) serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remoteHost, remotePortStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	var remotePort uint16
	fmt.Sscanf(remotePortStr, "%d", &remotePort)

	if len(l.ipFilter) > 0 && !(routes.Target{IPFilter: l.ipFilter}).AllowsRemoteIP(net.ParseIP(remoteHost)) {
		l.logger.Warn("tcp ingress: connection rejected by IP filter", "remote", remoteHost, "tunnel_id", l.TunnelID)
		return
	}

	handle, ok := l.tunnels.Get(l.TunnelID)
	if !ok {
		return
	}
	defer handle.Release()

	stream, err := handle.Connection().OpenStream(ctx)
	if err != nil {
		return
	}
	defer stream.Finish()

	if err := stream.SendMessage(wire.TCPConnect{StreamID: stream.StreamID(), RemoteAddr: remoteHost, RemotePort: remotePort}); err != nil {
		return
	}

	pump(conn, stream)
}

func pump(conn net.Conn, stream transport.Stream) {
	errc := make(chan error, 2)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				if sendErr := stream.SendMessage(wire.TCPData{StreamID: stream.StreamID(), Data: data}); sendErr != nil {
					errc <- sendErr
					return
				}
			}
			if err != nil {
				_ = stream.SendMessage(wire.TCPClose{StreamID: stream.StreamID()})
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
				if _, err := conn.Write(m.Data); err != nil {
					errc <- err
					return
				}
			case wire.TCPClose:
				errc <- io.EOF
				return
			}
		}
	}()
	<-errc
}
