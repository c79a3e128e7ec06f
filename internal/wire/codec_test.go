package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Message{
		Connect{TunnelID: "t1", AuthToken: "tok", Protocols: []Protocol{{Kind: ProtocolHTTP, Subdomain: "myapp"}}},
		Connected{TunnelID: "t1", Endpoints: []Endpoint{{Protocol: Protocol{Kind: ProtocolHTTP}, PublicURL: "http://myapp.example.test"}}},
		Disconnect{Reason: "replaced"},
		Ping{Timestamp: 1},
		Pong{Timestamp: 2},
		AgentRegister{AgentID: "a1", AuthToken: "tok", TargetAddress: "192.168.1.100:8080"},
		AgentRegistered{AgentID: "a1"},
		AgentRejected{Reason: "bad auth"},
		ReverseTunnelRequest{RTID: "rt1", RemoteAddress: "192.168.1.100:8080", AgentID: "a1"},
		ReverseTunnelAccept{RTID: "rt1", LocalAddress: "127.0.0.1:9000"},
		ReverseTunnelReject{RTID: "rt1", Reason: "not available"},
		ReverseData{RTID: "rt1", StreamID: 5, Data: []byte("hello")},
		ReverseClose{RTID: "rt1", StreamID: 5},
		HTTPRequest{StreamID: 1, Method: "GET", URI: "/hello", Headers: []Header{{Name: "Host", Value: "x"}}},
		HTTPResponse{StreamID: 1, Status: 200, Body: []byte("hello")},
		HTTPStreamConnect{StreamID: 2, Host: "x", InitialData: []byte("GET / ")},
		HTTPStreamData{StreamID: 2, Data: []byte("more")},
		HTTPStreamClose{StreamID: 2},
		TCPConnect{StreamID: 3, RemoteAddr: "1.2.3.4", RemotePort: 51000},
		TCPData{StreamID: 3, Data: []byte{1, 2, 3}},
		TCPClose{StreamID: 3},
		TLSConnect{StreamID: 4, SNI: "api.example.test", ClientHello: []byte{9, 9}},
		TLSData{StreamID: 4, Data: []byte{7}},
		TLSClose{StreamID: 4},
	}

	for _, m := range cases {
		t.Run(reflect.TypeOf(m).Name(), func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteMessage(&buf, m); err != nil {
				t.Fatalf("WriteMessage: %v", err)
			}

			_, got, err := ReadMessage(&buf, 0)
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			if !reflect.DeepEqual(m, got) {
				t.Errorf("round trip mismatch:\n  sent: %#v\n  got:  %#v", m, got)
			}
		})
	}
}

func TestDecodeUnknownVariantOnDataStream(t *testing.T) {
	frame, err := Encode(Ping{Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	// Corrupt the tag byte to an unregistered value.
	frame[4] = 0xEE

	_, _, err = ReadMessage(bytes.NewReader(frame), 0)
	var uv *ErrUnknownVariant
	if !errors.As(err, &uv) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
}

func TestDecodeOversizeFrame(t *testing.T) {
	frame, err := Encode(TCPData{StreamID: 1, Data: bytes.Repeat([]byte{1}, 100)})
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = ReadMessage(bytes.NewReader(frame), 10)
	var oe *ErrOversizeFrame
	if !errors.As(err, &oe) {
		t.Fatalf("expected ErrOversizeFrame, got %v", err)
	}
}
