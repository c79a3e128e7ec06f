// Package httpterm implements the TLS-terminating HTTPS ingress
// (C11): it completes a TLS handshake using a relay-held certificate,
// then delegates to the HTTP ingress (C9) for Host-based routing —
// the only difference from SNI passthrough is that the decision point
// moves from the ClientHello to the post-handshake Host header.
package httpterm

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	httpingress "github.com/localup-dev/localup/internal/ingress/http"
)

// Ingress serves HTTPS with local termination, then reuses an
// embedded http.Ingress for everything past the handshake.
type Ingress struct {
	Addr      string
	TLSConfig *tls.Config
	HTTP      *httpingress.Ingress

	ln net.Listener
}

// Start implements transport.Component.
func (t *Ingress) Start(ctx context.Context) error {
	if t.TLSConfig == nil {
		return fmt.Errorf("httpterm: TLSConfig is required")
	}
	ln, err := tls.Listen("tcp", t.Addr, t.TLSConfig)
	if err != nil {
		return fmt.Errorf("httpterm: listen %s: %w", t.Addr, err)
	}
	t.ln = ln

	t.HTTP.Proto = "https"

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
			return fmt.Errorf("httpterm: accept: %w", err)
		}
		go t.HTTP.ServeConn(ctx, conn)
	}
}

// Stop implements transport.Component.
func (t *Ingress) Stop(ctx context.Context) error {
	if t.ln != nil {
		return t.ln.Close()
	}
	return nil
}
