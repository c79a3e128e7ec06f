package httpparser

import (
	"net"
	"testing"
	"time"
)

func TestReadResponse_ContentLength(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nX-Test: a\r\n\r\nhello"))
	}()

	r := NewReader(server, 0)
	resp, err := r.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("body = %q, want %q", resp.Body, "hello")
	}
}

func TestReadResponse_Chunked(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
			"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"))
	}()

	r := NewReader(server, 0)
	resp, err := r.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if string(resp.Body) != "hello world" {
		t.Errorf("body = %q, want %q", resp.Body, "hello world")
	}
}

func TestReadResponse_NoBodyStatus(t *testing.T) {
	for _, status := range []string{"204 No Content", "304 Not Modified", "100 Continue"} {
		server, client := net.Pipe()
		go func() {
			client.Write([]byte("HTTP/1.1 " + status + "\r\n\r\n"))
		}()

		r := NewReader(server, 0)
		resp, err := r.ReadResponse()
		if err != nil {
			t.Fatalf("ReadResponse(%s): %v", status, err)
		}
		if len(resp.Body) != 0 {
			t.Errorf("status %s: expected no body, got %q", status, resp.Body)
		}
		server.Close()
		client.Close()
	}
}

func TestReadResponse_UnknownLengthIdleTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("HTTP/1.1 200 OK\r\n\r\npartial body with no length"))
		// Stop sending; the reader should complete via idle timeout.
	}()

	r := NewReader(server, 20*time.Millisecond)
	resp, err := r.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if string(resp.Body) != "partial body with no length" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestReadResponse_KeepAliveRestartable(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
		client.Write([]byte("HTTP/1.1 201 Created\r\nContent-Length: 2\r\n\r\nok"))
	}()

	r := NewReader(server, 0)

	first, err := r.ReadResponse()
	if err != nil {
		t.Fatalf("first ReadResponse: %v", err)
	}
	if first.Status != 200 || string(first.Body) != "hi" {
		t.Fatalf("unexpected first response: %+v", first)
	}

	second, err := r.ReadResponse()
	if err != nil {
		t.Fatalf("second ReadResponse: %v", err)
	}
	if second.Status != 201 || string(second.Body) != "ok" {
		t.Fatalf("unexpected second response: %+v", second)
	}
}
