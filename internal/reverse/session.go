// Package reverse implements the reverse-tunnel plane (C15): a
// client-side local listener and an agent-side outbound dialer,
// bridged through the relay and multiplexed by (rt_id, stream_id)
// over a single control stream per reverse-tunnel session.
package reverse

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/localup-dev/localup/internal/transport"
	"github.com/localup-dev/localup/internal/wire"
)

// demux reads ReverseData/ReverseClose off a single shared stream and
// routes each to the goroutine handling that stream_id, since the
// wire protocol multiplexes many logical byte streams onto one
// control stream rather than opening a substream per connection.
type demux struct {
	stream transport.Stream
	rtID   string
	logger *slog.Logger

	sendMu sync.Mutex

	subsMu sync.Mutex
	subs   map[uint64]chan wire.Message
}

func newDemux(stream transport.Stream, rtID string, logger *slog.Logger) *demux {
	if logger == nil {
		logger = slog.Default()
	}
	return &demux{
		stream: stream,
		rtID:   rtID,
		logger: logger,
		subs:   make(map[uint64]chan wire.Message),
	}
}

// register subscribes streamID to receive its ReverseData/ReverseClose
// messages. The returned channel must be drained by the caller; the
// returned func unsubscribes and must always be called.
func (d *demux) register(streamID uint64) (chan wire.Message, func()) {
	ch := make(chan wire.Message, 8)
	d.subsMu.Lock()
	d.subs[streamID] = ch
	d.subsMu.Unlock()
	return ch, func() {
		d.subsMu.Lock()
		delete(d.subs, streamID)
		d.subsMu.Unlock()
	}
}

func (d *demux) sendData(streamID uint64, data []byte) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return d.stream.SendMessage(wire.ReverseData{RTID: d.rtID, StreamID: streamID, Data: data})
}

func (d *demux) sendClose(streamID uint64, reason string) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return d.stream.SendMessage(wire.ReverseClose{RTID: d.rtID, StreamID: streamID, Reason: reason})
}

// run dispatches incoming messages until the stream errors, then
// closes every still-registered subscriber channel so pump loops
// waiting on it can exit.
func (d *demux) run() error {
	for {
		_, msg, err := d.stream.RecvMessage()
		if err != nil {
			d.subsMu.Lock()
			for id, ch := range d.subs {
				close(ch)
				delete(d.subs, id)
			}
			d.subsMu.Unlock()
			return err
		}

		var streamID uint64
		switch m := msg.(type) {
		case wire.ReverseData:
			streamID = m.StreamID
		case wire.ReverseClose:
			streamID = m.StreamID
		default:
			d.logger.Warn("reverse: unexpected message on reverse control stream", "type", fmt.Sprintf("%T", msg))
			continue
		}

		d.subsMu.Lock()
		ch, ok := d.subs[streamID]
		d.subsMu.Unlock()
		if !ok {
			continue
		}
		ch <- msg
	}
}
