// Package forwarder is the client-side data plane (C14): it turns
// relay-framed requests and byte-stream messages back into ordinary
// local TCP connections, and the other way around.
package forwarder

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DialTimeout bounds connecting to the local backend.
const DialTimeout = 5 * time.Second

// ByteSession bridges one multiplexed wire stream to one local TCP
// connection, the way Bridge.relay bridges a TCP connection to a pipe
// listener: a single connection, pumped in one direction by the
// caller's read loop and written to directly from the other.
type ByteSession struct {
	conn      net.Conn
	closeOnce sync.Once
}

// DialSession opens a local connection to addr and, if initialData is
// non-empty, writes it immediately (the ClientHello or upgrade
// preamble already buffered by the ingress side).
func DialSession(addr string, initialData []byte) (*ByteSession, error) {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("forwarder: dial %s: %w", addr, err)
	}
	if len(initialData) > 0 {
		if _, err := conn.Write(initialData); err != nil {
			conn.Close()
			return nil, fmt.Errorf("forwarder: write initial data to %s: %w", addr, err)
		}
	}
	return &ByteSession{conn: conn}, nil
}

// Write forwards relay-received data onto the local connection.
func (s *ByteSession) Write(data []byte) error {
	_, err := s.conn.Write(data)
	return err
}

// Close closes the local connection. Safe to call more than once.
func (s *ByteSession) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

// Pump reads from the local connection until it errors or is closed,
// calling send for every chunk read and onDone exactly once when the
// loop exits (mirroring Bridge.relay's single first-direction-done
// signal, generalized to a single direction since the wire protocol
// frames each direction as discrete messages rather than a raw copy).
func (s *ByteSession) Pump(send func([]byte) error, onDone func()) {
	defer onDone()
	buf := make([]byte, 32*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if sendErr := send(buf[:n]); sendErr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				_ = err // transport error; caller's onDone cleans up either way
			}
			return
		}
	}
}
