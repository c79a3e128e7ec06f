package tunnelmgr

import (
	"context"
	"net"
	"testing"

	"github.com/localup-dev/localup/internal/transport"
)

type fakeConn struct {
	closed     bool
	closeCode  uint64
	closeCause string
}

func (f *fakeConn) OpenStream(ctx context.Context) (transport.Stream, error)   { return nil, nil }
func (f *fakeConn) AcceptStream(ctx context.Context) (transport.Stream, error) { return nil, nil }
func (f *fakeConn) Close(code uint64, reason string) error {
	f.closed = true
	f.closeCode = code
	f.closeCause = reason
	return nil
}
func (f *fakeConn) RemoteAddress() net.Addr          { return nil }
func (f *fakeConn) IsClosed() bool                   { return f.closed }
func (f *fakeConn) StatsSnapshot() transport.Stats   { return transport.Stats{} }

func TestInsertGetRemove(t *testing.T) {
	m := New()
	conn := &fakeConn{}

	m.Insert("t1", conn)

	h, ok := m.Get("t1")
	if !ok {
		t.Fatal("expected tunnel t1 to be found")
	}
	if h.Connection() != conn {
		t.Error("expected Connection() to return the inserted connection")
	}
	h.Release()

	m.Remove("t1", h)

	if _, ok := m.Get("t1"); ok {
		t.Error("expected tunnel t1 to be gone after Remove")
	}
	if !conn.closed {
		t.Error("expected connection to be closed after last release")
	}
}

func TestInsert_DuplicateAbortsReplaced(t *testing.T) {
	m := New()
	first := &fakeConn{}
	second := &fakeConn{}

	m.Insert("t1", first)
	m.Insert("t1", second)

	if !first.closed {
		t.Error("expected first connection to be aborted")
	}
	if first.closeCause != "replaced" {
		t.Errorf("expected abort reason 'replaced', got %q", first.closeCause)
	}
	if second.closed {
		t.Error("second connection should remain open")
	}

	h, ok := m.Get("t1")
	if !ok || h.Connection() != second {
		t.Error("expected Get to return the replacement connection")
	}
}

func TestHandle_SharedReferenceKeepsConnectionOpen(t *testing.T) {
	m := New()
	conn := &fakeConn{}
	m.Insert("t1", conn)

	h1, _ := m.Get("t1") // ingress reference
	m.Remove("t1", h1)   // manager drops its own reference but h1 is a separate acquire

	if conn.closed {
		t.Error("connection should remain open while an ingress reference is outstanding")
	}

	h1.Release()
	if !conn.closed {
		t.Error("connection should close once the last reference is released")
	}
}
