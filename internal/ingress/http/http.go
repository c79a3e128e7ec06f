// Package http implements the HTTP ingress (C9): a plain-TCP listener
// that parses one request at a time, intercepts ACME HTTP-01 lookups,
// resolves the Host header against the route registry, and either
// frames the request over a tunnel substream or streams it
// transparently when it cannot be safely reparsed.
package http

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	gohttp "net/http"
	"strings"
	"time"

	"github.com/localup-dev/localup/internal/acme"
	"github.com/localup-dev/localup/internal/capture"
	"github.com/localup-dev/localup/internal/forwarder"
	"github.com/localup-dev/localup/internal/metrics"
	"github.com/localup-dev/localup/internal/routes"
	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/tunnelmgr"
	"github.com/localup-dev/localup/internal/wire"
)

// RequestTimeout bounds the wait for a tunnel's HttpResponse.
const RequestTimeout = 30 * time.Second

// HeaderReadLimit bounds the request line plus headers read per
// request, matching the 4 KiB default.
const HeaderReadLimit = 4 * 1024

// Ingress serves plain HTTP on a TCP listener.
type Ingress struct {
	Addr    string
	Routes  *routes.Registry
	Tunnels *tunnelmgr.Manager
	ACME    *acme.Responder
	Capture capture.Sink
	Metrics *metrics.Registry
	Logger  *slog.Logger

	// Proto is reported as X-Forwarded-Proto; "http" for this ingress,
	// overridden to "https" when embedded inside httpterm.
	Proto string

	ln net.Listener
}

func (g *Ingress) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *Ingress) proto() string {
	if g.Proto != "" {
		return g.Proto
	}
	return "http"
}

// Start implements transport.Component.
func (g *Ingress) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.Addr)
	if err != nil {
		return fmt.Errorf("http ingress: listen %s: %w", g.Addr, err)
	}
	g.ln = ln

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
			return fmt.Errorf("http ingress: accept: %w", err)
		}
		go g.handleConn(ctx, conn)
	}
}

// Stop implements transport.Component.
func (g *Ingress) Stop(ctx context.Context) error {
	if g.ln != nil {
		return g.ln.Close()
	}
	return nil
}

// ServeConn handles a single accepted connection, exported so
// httpterm (C11) can reuse it after completing its own TLS handshake.
func (g *Ingress) ServeConn(ctx context.Context, conn net.Conn) {
	g.handleConn(ctx, conn)
}

func (g *Ingress) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	limited := &io.LimitedReader{R: conn, N: HeaderReadLimit}
	tee := &teeBuffer{}
	req, err := gohttp.ReadRequest(newCountingReader(limited, tee))
	if err != nil {
		g.logger().Debug("http ingress: malformed request", "error", err, "remote", conn.RemoteAddr())
		return
	}
	// The limit applies to the request line and headers only; lift it
	// so the body is read in full.
	limited.N = 1<<63 - 1

	peerIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	host := req.Host

	if token, ok := acmeChallengeToken(req.URL.Path); ok {
		if auth, found := g.ACME.Respond(ctx, host, token); found {
			writeSimple(conn, 200, []byte(auth))
			return
		}
	}

	target, err := g.Routes.Lookup(routes.Key{Kind: routes.HTTPHost, Value: host})
	if err != nil {
		writeSimple(conn, 404, []byte("not found"))
		g.count("not_found")
		return
	}

	if !target.AllowsRemoteIP(net.ParseIP(peerIP)) {
		writeSimple(conn, 403, []byte("forbidden"))
		g.count("forbidden")
		return
	}

	if !target.IsTunnel() {
		g.proxyDirect(conn, target.Address)
		return
	}

	handle, ok := g.Tunnels.Get(target.TunnelID)
	if !ok {
		writeSimple(conn, 502, []byte("bad gateway"))
		g.count("bad_gateway")
		return
	}
	defer handle.Release()

	if transparent, initial := needsTransparentMode(req, tee.Bytes()); transparent {
		g.pumpTransparent(ctx, conn, handle, host, initial)
		return
	}

	g.forwardFramed(ctx, conn, handle, target.TunnelID, host, peerIP, req)
}

func acmeChallengeToken(path string) (token string, ok bool) {
	const prefix = "/.well-known/acme-challenge/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(path, prefix), true
}

// needsTransparentMode reports whether the request cannot be safely
// reframed as a single HttpRequest/HttpResponse pair, and, if so,
// returns every byte already consumed from the connection so it can
// be replayed as the stream's initial_data.
func needsTransparentMode(req *gohttp.Request, raw []byte) (bool, []byte) {
	if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return true, raw
	}
	if req.Header.Get("Expect") != "" {
		return true, raw
	}
	if len(req.TransferEncoding) > 0 {
		return true, raw
	}
	return false, raw
}

func (g *Ingress) forwardFramed(ctx context.Context, conn net.Conn, handle *tunnelmgr.Handle, tunnelID, host, peerIP string, req *gohttp.Request) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}

	headers := make([]wire.Header, 0, len(req.Header)+3)
	for name, values := range req.Header {
		for _, v := range values {
			headers = append(headers, wire.Header{Name: name, Value: v})
		}
	}
	headers = append(headers,
		wire.Header{Name: "X-Forwarded-For", Value: peerIP},
		wire.Header{Name: "X-Forwarded-Proto", Value: g.proto()},
		wire.Header{Name: "X-Forwarded-Host", Value: host},
	)

	created := time.Now()
	stream, err := handle.Connection().OpenStream(ctx)
	if err != nil {
		writeSimple(conn, 502, []byte("bad gateway"))
		g.count("bad_gateway")
		return
	}
	defer stream.Finish()

	reqMsg := wire.HTTPRequest{
		StreamID: stream.StreamID(),
		Method:   req.Method,
		URI:      req.URL.RequestURI(),
		Headers:  headers,
		Body:     body,
	}
	if err := stream.SendMessage(reqMsg); err != nil {
		writeSimple(conn, 502, []byte("bad gateway"))
		g.count("bad_gateway")
		return
	}

	respCh := make(chan wire.HTTPResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		_, msg, err := stream.RecvMessage()
		if err != nil {
			errCh <- err
			return
		}
		resp, ok := msg.(wire.HTTPResponse)
		if !ok {
			errCh <- fmt.Errorf("http ingress: unexpected response variant")
			return
		}
		respCh <- resp
	}()

	var resp wire.HTTPResponse
	select {
	case resp = <-respCh:
	case <-errCh:
		writeSimple(conn, 502, []byte("bad gateway"))
		g.count("bad_gateway")
		return
	case <-time.After(RequestTimeout):
		writeSimple(conn, 504, []byte("gateway timeout"))
		g.count("timeout")
		return
	}

	writeFramedResponse(conn, resp)
	g.count("ok")

	capture.Send(ctx, g.Capture, capture.Record{
		TunnelID:    tunnelID,
		Method:      req.Method,
		Path:        req.URL.Path,
		Host:        host,
		Status:      resp.Status,
		CreatedAt:   created,
		RespondedAt: time.Now(),
	})
}

func writeFramedResponse(conn net.Conn, resp wire.HTTPResponse) {
	var buf bytes.Buffer
	status := resp.Status
	if status == 0 {
		status = 502
	}
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, gohttp.StatusText(status))
	for _, h := range resp.Headers {
		if strings.EqualFold(h.Name, "Content-Length") || strings.EqualFold(h.Name, "Transfer-Encoding") {
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(resp.Body))
	buf.Write(resp.Body)
	conn.Write(buf.Bytes())
}

func (g *Ingress) pumpTransparent(ctx context.Context, conn net.Conn, handle *tunnelmgr.Handle, host string, initial []byte) {
	stream, err := handle.Connection().OpenStream(ctx)
	if err != nil {
		return
	}
	defer stream.Finish()

	if err := stream.SendMessage(wire.HTTPStreamConnect{StreamID: stream.StreamID(), Host: host, InitialData: initial}); err != nil {
		return
	}

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(conn, streamDataReader{stream})
		errc <- err
	}()
	go func() {
		_, err := io.Copy(streamDataWriter{stream}, conn)
		errc <- err
	}()
	<-errc
	conn.Close()
	<-errc
}

// streamDataReader/streamDataWriter adapt the HttpStreamData message
// exchange to io.Reader/io.Writer so the transparent pump can reuse
// io.Copy exactly like the teacher's TCP bridge.
type streamDataReader struct{ stream transport.Stream }
type streamDataWriter struct{ stream transport.Stream }

func (r streamDataReader) Read(p []byte) (int, error) {
	_, msg, err := r.stream.RecvMessage()
	if err != nil {
		return 0, err
	}
	switch m := msg.(type) {
	case wire.HTTPStreamData:
		n := copy(p, m.Data)
		return n, nil
	case wire.HTTPStreamClose:
		return 0, io.EOF
	default:
		return 0, nil
	}
}

func (w streamDataWriter) Write(p []byte) (int, error) {
	data := append([]byte(nil), p...)
	if err := w.stream.SendMessage(wire.HTTPStreamData{StreamID: w.stream.StreamID(), Data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (g *Ingress) proxyDirect(conn net.Conn, addr string) {
	backend, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		writeSimple(conn, 502, []byte("bad gateway"))
		return
	}
	defer backend.Close()

	errc := make(chan error, 2)
	go func() { _, err := io.Copy(backend, conn); errc <- err }()
	go func() { _, err := io.Copy(conn, backend); errc <- err }()
	<-errc
	backend.Close()
	conn.Close()
	<-errc
}

func (g *Ingress) count(outcome string) {
	if g.Metrics != nil {
		g.Metrics.RequestsHandled.WithLabelValues("http", outcome).Inc()
	}
}

func writeSimple(conn net.Conn, status int, body []byte) {
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, gohttp.StatusText(status), len(body))
	conn.Write(body)
}

// teeBuffer records every byte read through it, so the raw bytes
// consumed while parsing a request can be replayed verbatim as
// transparent-mode initial_data.
type teeBuffer struct {
	buf bytes.Buffer
}

func (t *teeBuffer) Bytes() []byte { return t.buf.Bytes() }

type countingReader struct {
	r   io.Reader
	tee *teeBuffer
}

func newCountingReader(r io.Reader, tee *teeBuffer) *bufio.Reader {
	return bufio.NewReader(&countingReader{r: r, tee: tee})
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.tee.buf.Write(p[:n])
	}
	return n, err
}
