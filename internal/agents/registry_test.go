package agents

import (
	"context"
	"net"
	"testing"

	"github.com/localup-dev/localup/internal/transport"
)

type fakeConn struct{ id string }

func (f *fakeConn) OpenStream(ctx context.Context) (transport.Stream, error)   { return nil, nil }
func (f *fakeConn) AcceptStream(ctx context.Context) (transport.Stream, error) { return nil, nil }
func (f *fakeConn) Close(code uint64, reason string) error                    { return nil }
func (f *fakeConn) RemoteAddress() net.Addr                                   { return nil }
func (f *fakeConn) IsClosed() bool                                            { return false }
func (f *fakeConn) StatsSnapshot() transport.Stats                            { return transport.Stats{} }

func TestInsertAndGet(t *testing.T) {
	r := New()
	conn := &fakeConn{id: "c1"}
	prior := r.Insert(&Agent{AgentID: "a1", TargetAddress: "192.168.1.100:8080", Conn: conn})
	if prior != nil {
		t.Errorf("expected no prior connection, got %v", prior)
	}

	a, ok := r.Get("a1")
	if !ok {
		t.Fatal("expected agent a1 to be found")
	}
	if a.TargetAddress != "192.168.1.100:8080" {
		t.Errorf("unexpected target address %q", a.TargetAddress)
	}
}

func TestInsert_ReRegistrationReplaces(t *testing.T) {
	r := New()
	conn1 := &fakeConn{id: "c1"}
	conn2 := &fakeConn{id: "c2"}

	r.Insert(&Agent{AgentID: "a1", TargetAddress: "192.168.1.100:8080", Conn: conn1})
	prior := r.Insert(&Agent{AgentID: "a1", TargetAddress: "192.168.1.100:9090", Conn: conn2})

	if prior != conn1 {
		t.Error("expected prior connection to be returned for caller cleanup")
	}

	a, ok := r.Get("a1")
	if !ok || a.Conn != conn2 || a.TargetAddress != "192.168.1.100:9090" {
		t.Errorf("expected a1 replaced with new record, got %+v", a)
	}
}

func TestFindByAddress(t *testing.T) {
	r := New()
	conn := &fakeConn{}
	r.Insert(&Agent{AgentID: "a1", TargetAddress: "192.168.1.100:8080", Conn: conn})

	a, ok := r.FindByAddress("192.168.1.100:8080")
	if !ok || a.AgentID != "a1" {
		t.Fatalf("expected to find a1, got %+v ok=%v", a, ok)
	}

	if _, ok := r.FindByAddress("192.168.1.100:9999"); ok {
		t.Error("expected no match for a different port")
	}
}

func TestRemove_OnlyIfStillCurrent(t *testing.T) {
	r := New()
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}
	r.Insert(&Agent{AgentID: "a1", TargetAddress: "x:1", Conn: conn1})
	r.Insert(&Agent{AgentID: "a1", TargetAddress: "x:1", Conn: conn2})

	// Removing with the stale conn1 reference must not evict the
	// current record (conn2).
	r.Remove("a1", conn1)
	if _, ok := r.Get("a1"); !ok {
		t.Error("expected a1 to remain registered (remove targeted a stale connection)")
	}

	r.Remove("a1", conn2)
	if _, ok := r.Get("a1"); ok {
		t.Error("expected a1 to be removed")
	}
}
