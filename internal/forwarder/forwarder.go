package forwarder

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/localup-dev/localup/internal/forwarder/httpparser"
	"github.com/localup-dev/localup/internal/wire"
)

// Forwarder serializes HTTPRequest messages to a local backend and
// parses the reply back into an HTTPResponse.
type Forwarder struct {
	// IdleTimeout is passed to the httpparser.Reader for responses
	// with neither Content-Length nor chunked framing. Zero uses
	// httpparser.DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Forward dials localAddr, sends req as an HTTP/1.1 request, and
// returns the parsed response. It never returns an error: transport
// and parse failures are translated into a 502 HTTPResponse, per the
// documented client-forwarder contract.
func (f *Forwarder) Forward(localAddr string, req wire.HTTPRequest) wire.HTTPResponse {
	conn, err := net.DialTimeout("tcp", localAddr, DialTimeout)
	if err != nil {
		return errorResponse(req.StreamID, fmt.Errorf("forwarder: dial %s: %w", localAddr, err))
	}
	defer conn.Close()

	if err := writeRequest(conn, req); err != nil {
		return errorResponse(req.StreamID, err)
	}

	reader := httpparser.NewReader(conn, f.IdleTimeout)
	resp, err := reader.ReadResponse()
	if err != nil {
		return errorResponse(req.StreamID, fmt.Errorf("forwarder: read response: %w", err))
	}

	headers := make([]wire.Header, 0, len(resp.Headers))
	for _, h := range resp.Headers {
		headers = append(headers, wire.Header{Name: h.Name, Value: h.Value})
	}

	return wire.HTTPResponse{
		StreamID: req.StreamID,
		Status:   resp.Status,
		Headers:  headers,
		Body:     resp.Body,
	}
}

func writeRequest(conn net.Conn, req wire.HTTPRequest) error {
	var buf bytes.Buffer

	uri := req.URI
	if uri == "" {
		uri = "/"
	}
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, uri)

	hasHost := false
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Host") {
			hasHost = true
		}
		if strings.EqualFold(h.Name, "Content-Length") {
			continue // implicit, set below from the actual body
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	if !hasHost {
		fmt.Fprintf(&buf, "Host: %s\r\n", conn.RemoteAddr().String())
	}
	fmt.Fprintf(&buf, "Content-Length: %s\r\n\r\n", strconv.Itoa(len(req.Body)))
	buf.Write(req.Body)

	_, err := conn.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("forwarder: write request: %w", err)
	}
	return nil
}

func errorResponse(streamID uint64, err error) wire.HTTPResponse {
	return wire.HTTPResponse{
		StreamID: streamID,
		Status:   502,
		Headers:  nil,
		Body:     []byte(err.Error()),
	}
}
