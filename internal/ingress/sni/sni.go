// Package sni implements the SNI-passthrough HTTPS ingress (C10): it
// peeks the ClientHello's server_name extension without completing a
// TLS handshake, so the relay never sees decrypted application data.
package sni

import (
	"context"
	"crypto/tls"
	"errors"
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

// MaxClientHelloBytes bounds the first TLS record read while peeking
// the SNI, matching the 16 KiB default.
const MaxClientHelloBytes = 16 * 1024

var errSNICaptured = errors.New("sni: server name captured")

// Ingress serves TLS passthrough on a TCP listener.
type Ingress struct {
	Addr    string
	Routes  *routes.Registry
	Tunnels *tunnelmgr.Manager
	Metrics *metrics.Registry
	Logger  *slog.Logger

	ln net.Listener
}

func (s *Ingress) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Start implements transport.Component.
func (s *Ingress) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("sni ingress: listen %s: %w", s.Addr, err)
	}
	s.ln = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sni ingress: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// Stop implements transport.Component.
func (s *Ingress) Stop(ctx context.Context) error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Ingress) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sniName, clientHello, err := peekServerName(conn)
	if err != nil {
		s.logger().Debug("sni ingress: could not extract SNI", "error", err, "remote", conn.RemoteAddr())
		return
	}

	target, err := s.Routes.Lookup(routes.Key{Kind: routes.TLSSNI, Value: sniName})
	if err != nil {
		return
	}
	if !target.AllowsRemoteIP(remoteIP(conn)) {
		s.logger().Warn("sni ingress: connection rejected by IP filter", "remote", conn.RemoteAddr(), "sni", sniName)
		return
	}
	if !target.IsTunnel() {
		s.proxyDirect(conn, target.Address, clientHello)
		return
	}

	handle, ok := s.Tunnels.Get(target.TunnelID)
	if !ok {
		return
	}
	defer handle.Release()

	stream, err := handle.Connection().OpenStream(ctx)
	if err != nil {
		return
	}
	defer stream.Finish()

	if err := stream.SendMessage(wire.TLSConnect{StreamID: stream.StreamID(), SNI: sniName, ClientHello: clientHello}); err != nil {
		return
	}

	pumpTLS(conn, stream)
}

// remoteIP extracts conn's remote address as a net.IP, or nil if it
// cannot be parsed (which makes AllowsRemoteIP's CIDR checks fail
// closed).
func remoteIP(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// peekServerName reads just enough of the TLS ClientHello to learn
// server_name, using tls.Server's own ClientHello parser via
// GetConfigForClient rather than hand-parsing the handshake record:
// the callback fires with the parsed hello, and returning an error
// aborts the handshake before any key material is derived. tee
// records every byte consumed so it can be replayed verbatim on the
// substream opened toward the client.
func peekServerName(conn net.Conn) (sni string, raw []byte, err error) {
	tee := &teeConn{Conn: conn, limit: MaxClientHelloBytes}

	srv := tls.Server(tee, &tls.Config{
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			sni = hello.ServerName
			return nil, errSNICaptured
		},
	})

	handshakeErr := srv.HandshakeContext(context.Background())
	if sni == "" {
		if handshakeErr != nil && !errors.Is(handshakeErr, errSNICaptured) {
			return "", nil, fmt.Errorf("sni: handshake peek: %w", handshakeErr)
		}
		return "", nil, fmt.Errorf("sni: no server_name extension present")
	}
	return sni, tee.captured, nil
}

type teeConn struct {
	net.Conn
	captured []byte
	limit    int
}

func (t *teeConn) Read(p []byte) (int, error) {
	n, err := t.Conn.Read(p)
	if n > 0 && len(t.captured) < t.limit {
		t.captured = append(t.captured, p[:n]...)
	}
	return n, err
}

// Write discards the server's half of the aborted handshake: tls.Server
// writes nothing before the ClientHello callback runs, but guard
// against future stdlib behavior changes rather than forwarding
// unexpected bytes to the peer.
func (t *teeConn) Write(p []byte) (int, error) { return len(p), nil }

func (t *teeConn) SetDeadline(time.Time) error      { return nil }
func (t *teeConn) SetReadDeadline(time.Time) error  { return nil }
func (t *teeConn) SetWriteDeadline(time.Time) error { return nil }

func pumpTLS(conn net.Conn, stream transport.Stream) {
	errc := make(chan error, 2)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				if sendErr := stream.SendMessage(wire.TLSData{StreamID: stream.StreamID(), Data: data}); sendErr != nil {
					errc <- sendErr
					return
				}
			}
			if err != nil {
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
			case wire.TLSData:
				if _, err := conn.Write(m.Data); err != nil {
					errc <- err
					return
				}
			case wire.TLSClose:
				errc <- io.EOF
				return
			}
		}
	}()
	<-errc
}

func (s *Ingress) proxyDirect(conn net.Conn, addr string, clientHello []byte) {
	backend, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return
	}
	defer backend.Close()

	if len(clientHello) > 0 {
		if _, err := backend.Write(clientHello); err != nil {
			return
		}
	}

	errc := make(chan error, 2)
	go func() { _, err := io.Copy(backend, conn); errc <- err }()
	go func() { _, err := io.Copy(conn, backend); errc <- err }()
	<-errc
	backend.Close()
	conn.Close()
	<-errc
}
