package forwarder

import (
	"bufio"
	"net"
	"testing"

	"github.com/localup-dev/localup/internal/wire"
)

func TestForward_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		br.ReadString('\n') // request line, ignored
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	}()

	f := &Forwarder{}
	resp := f.Forward(ln.Addr().String(), wire.HTTPRequest{
		StreamID: 1,
		Method:   "GET",
		URI:      "/",
		Headers:  []wire.Header{{Name: "Host", Value: "example.test"}},
	})

	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != "ok" {
		t.Fatalf("body = %q, want %q", resp.Body, "ok")
	}
}

func TestForward_DialFailureReturns502(t *testing.T) {
	f := &Forwarder{}
	resp := f.Forward("127.0.0.1:1", wire.HTTPRequest{StreamID: 7, Method: "GET", URI: "/"})
	if resp.Status != 502 {
		t.Fatalf("status = %d, want 502", resp.Status)
	}
	if len(resp.Body) == 0 {
		t.Fatal("expected non-empty error body")
	}
}
