package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// DefaultMaxFrameSize is the default maximum payload size accepted by
// ReadMessage. Receiving a larger declared length is a fatal protocol
// error.
const DefaultMaxFrameSize = 16 * 1024 * 1024

// Message is the interface satisfied by every wire variant above. It
// exists only to make encode/decode call sites self-documenting; the
// codec dispatches on Tag, not on this interface.
type Message any

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// tagOf maps a concrete message value to its wire Tag. Returns false
// for any Go value that is not a known variant.
func tagOf(m Message) (Tag, bool) {
	switch m.(type) {
	case Connect:
		return TagConnect, true
	case Connected:
		return TagConnected, true
	case Disconnect:
		return TagDisconnect, true
	case Ping:
		return TagPing, true
	case Pong:
		return TagPong, true
	case AgentRegister:
		return TagAgentRegister, true
	case AgentRegistered:
		return TagAgentRegistered, true
	case AgentRejected:
		return TagAgentRejected, true
	case ReverseTunnelRequest:
		return TagReverseTunnelRequest, true
	case ReverseTunnelAccept:
		return TagReverseTunnelAccept, true
	case ReverseTunnelReject:
		return TagReverseTunnelReject, true
	case ReverseData:
		return TagReverseData, true
	case ReverseClose:
		return TagReverseClose, true
	case HTTPRequest:
		return TagHTTPRequest, true
	case HTTPResponse:
		return TagHTTPResponse, true
	case HTTPStreamConnect:
		return TagHTTPStreamConnect, true
	case HTTPStreamData:
		return TagHTTPStreamData, true
	case HTTPStreamClose:
		return TagHTTPStreamClose, true
	case TCPConnect:
		return TagTCPConnect, true
	case TCPData:
		return TagTCPData, true
	case TCPClose:
		return TagTCPClose, true
	case TLSConnect:
		return TagTLSConnect, true
	case TLSData:
		return TagTLSData, true
	case TLSClose:
		return TagTLSClose, true
	default:
		return 0, false
	}
}

// newForTag allocates a zero value of the Go type associated with tag,
// or (nil, false) for an unrecognized tag.
func newForTag(tag Tag) (any, bool) {
	switch tag {
	case TagConnect:
		return new(Connect), true
	case TagConnected:
		return new(Connected), true
	case TagDisconnect:
		return new(Disconnect), true
	case TagPing:
		return new(Ping), true
	case TagPong:
		return new(Pong), true
	case TagAgentRegister:
		return new(AgentRegister), true
	case TagAgentRegistered:
		return new(AgentRegistered), true
	case TagAgentRejected:
		return new(AgentRejected), true
	case TagReverseTunnelRequest:
		return new(ReverseTunnelRequest), true
	case TagReverseTunnelAccept:
		return new(ReverseTunnelAccept), true
	case TagReverseTunnelReject:
		return new(ReverseTunnelReject), true
	case TagReverseData:
		return new(ReverseData), true
	case TagReverseClose:
		return new(ReverseClose), true
	case TagHTTPRequest:
		return new(HTTPRequest), true
	case TagHTTPResponse:
		return new(HTTPResponse), true
	case TagHTTPStreamConnect:
		return new(HTTPStreamConnect), true
	case TagHTTPStreamData:
		return new(HTTPStreamData), true
	case TagHTTPStreamClose:
		return new(HTTPStreamClose), true
	case TagTCPConnect:
		return new(TCPConnect), true
	case TagTCPData:
		return new(TCPData), true
	case TagTCPClose:
		return new(TCPClose), true
	case TagTLSConnect:
		return new(TLSConnect), true
	case TagTLSData:
		return new(TLSData), true
	case TagTLSClose:
		return new(TLSClose), true
	default:
		return nil, false
	}
}

// Encode serializes m into a length-prefixed frame: <u32 be
// length><tag byte><cbor payload>.
func Encode(m Message) ([]byte, error) {
	tag, ok := tagOf(m)
	if !ok {
		return nil, fmt.Errorf("wire: encode: %T is not a registered message variant", m)
	}

	body, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %T: %w", m, err)
	}

	frame := make([]byte, 4+1+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(1+len(body)))
	frame[4] = byte(tag)
	copy(frame[5:], body)
	return frame, nil
}

// WriteMessage encodes m and writes the full frame to w.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadMessage reads one frame from r and decodes it. maxSize bounds
// the accepted payload length (use DefaultMaxFrameSize if 0).
// An unknown variant is returned as *ErrUnknownVariant; control-stream
// callers treat it as fatal, data-stream callers may log it and keep
// reading.
func ReadMessage(r io.Reader, maxSize uint32) (Tag, Message, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return 0, nil, fmt.Errorf("wire: empty frame")
	}
	if length > maxSize+1 {
		return 0, nil, &ErrOversizeFrame{Length: length, Max: maxSize}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}

	tag := Tag(payload[0])
	body := payload[1:]

	out, ok := newForTag(tag)
	if !ok {
		return tag, nil, &ErrUnknownVariant{Tag: tag}
	}

	if err := cbor.Unmarshal(body, out); err != nil {
		return tag, nil, fmt.Errorf("wire: decode tag %d: %w", tag, err)
	}

	// Dereference the pointer so callers get the value type back,
	// matching what Encode accepts.
	return tag, derefMessage(tag, out), nil
}

func derefMessage(tag Tag, p any) Message {
	switch v := p.(type) {
	case *Connect:
		return *v
	case *Connected:
		return *v
	case *Disconnect:
		return *v
	case *Ping:
		return *v
	case *Pong:
		return *v
	case *AgentRegister:
		return *v
	case *AgentRegistered:
		return *v
	case *AgentRejected:
		return *v
	case *ReverseTunnelRequest:
		return *v
	case *ReverseTunnelAccept:
		return *v
	case *ReverseTunnelReject:
		return *v
	case *ReverseData:
		return *v
	case *ReverseClose:
		return *v
	case *HTTPRequest:
		return *v
	case *HTTPResponse:
		return *v
	case *HTTPStreamConnect:
		return *v
	case *HTTPStreamData:
		return *v
	case *HTTPStreamClose:
		return *v
	case *TCPConnect:
		return *v
	case *TCPData:
		return *v
	case *TCPClose:
		return *v
	case *TLSConnect:
		return *v
	case *TLSData:
		return *v
	case *TLSClose:
		return *v
	default:
		return p
	}
}
