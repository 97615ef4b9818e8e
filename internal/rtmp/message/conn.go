// Package message implements the message layer on top of the chunk
// codec: reading complete RTMP messages off a descriptor, applying
// inbound protocol control messages (chunk size, window ack size,
// acknowledgement, abort, user control) as they arrive, and writing
// outgoing messages back out as chunks. An inbound SetPeerBandwidth is
// not applied here; RecvMessage returns it to the caller.
package message

import (
	"encoding/binary"
	"time"

	"github.com/rtmpcore/rtmp-core/internal/buffer"
	"github.com/rtmpcore/rtmp-core/internal/rlog"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/chunk"
	"github.com/rtmpcore/rtmp-core/internal/rtmp/packet"
	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
	"github.com/rtmpcore/rtmp-core/internal/sched"
)

// DefaultWindowAckSize is the window size the server advertises right
// after a successful connect, matching the 5,000,000-byte window the
// reference server always requests.
const DefaultWindowAckSize = 5_000_000

// PingInterval and PingTimeout bound how often the server pings an
// idle connection and how long it waits for the matching response
// before treating the peer as gone.
const (
	PingInterval = 60 * time.Second
	PingTimeout  = 30 * time.Second
)

// Conn is one RTMP peer's message-layer state: the chunk decoder/
// encoder pair, acknowledgement bookkeeping, and the descriptor/task
// pair chunks are read from and written to.
type Conn struct {
	task *sched.Task
	desc *sched.Descriptor

	stream *buffer.Stream

	dec *chunk.Decoder
	enc *chunk.Encoder

	windowAckSize   uint32
	bytesReceived   uint64
	lastAckReported uint64

	connectedAt time.Time

	onWindowAckSize func(uint32)
}

// New wraps a descriptor with fresh chunk codec state.
func New(t *sched.Task, d *sched.Descriptor) *Conn {
	return &Conn{
		task:        t,
		desc:        d,
		stream:      buffer.New(),
		dec:         chunk.NewDecoder(),
		enc:         chunk.NewEncoder(),
		connectedAt: sched.Now(),
	}
}

// OnWindowAckSize installs a callback fired whenever the peer sends a
// WindowAcknowledgementSize control message, letting a caller track
// requested bandwidth without polling.
func (c *Conn) OnWindowAckSize(fn func(uint32)) {
	c.onWindowAckSize = fn
}

// readFrom grows the stream by n bytes, waiting up to PingInterval for
// the peer to send something. If that expires, it proactively pings
// the idle connection and gives the peer PingTimeout more to answer
// (with a PingResponse or anything else) before giving up for good,
// the same idle-then-ping-then-timeout sequence the teacher's
// SendPings goroutine plus per-read RTMP_PING_TIMEOUT deadline
// produce together, just driven from the single task that already
// owns this connection's reads instead of a second timer goroutine.
func (c *Conn) readFrom(n int) ([]byte, error) {
	deadline := sched.Now().Add(PingInterval)
	err := c.stream.Grow(func(buf []byte) (int, error) {
		return sched.Read(c.task, c.desc, buf, deadline)
	}, n)
	if err != nil {
		if !rtmperr.Is(err, rtmperr.KindTimeout) {
			return nil, err
		}
		if pingErr := c.sendPingRequest(); pingErr != nil {
			return nil, pingErr
		}
		deadline = sched.Now().Add(PingTimeout)
		err = c.stream.Grow(func(buf []byte) (int, error) {
			return sched.Read(c.task, c.desc, buf, deadline)
		}, n)
		if err != nil {
			return nil, err
		}
	}
	return c.stream.ReadSlice(n)
}

// sendPingRequest pings an idle peer with the connection's uptime in
// milliseconds as the echoed timestamp, mirroring SendPingRequest's
// now-minus-connectTime in rtmp_session_utils.go.
func (c *Conn) sendPingRequest() error {
	ts := uint32(sched.Now().Sub(c.connectedAt).Milliseconds())
	return c.SendUserControl(packet.EventPingRequest, ts)
}

// RecvMessage reads chunks until one complete message is assembled,
// transparently handling SetChunkSize, WindowAcknowledgementSize,
// Acknowledgement, Abort and UserControl messages along the way
// (answering a PingRequest), and returns the
// first message that is not one of those (i.e. the first message a
// caller actually needs to act on).
func (c *Conn) RecvMessage() (*chunk.Message, error) {
	for {
		msg, err := c.dec.ReadMessage(c.readFrom)
		if err != nil {
			return nil, err
		}

		c.bytesReceived += uint64(len(msg.Payload))
		if err := c.maybeAck(); err != nil {
			return nil, err
		}

		if handled, err := c.handleControl(msg); err != nil {
			return nil, err
		} else if handled {
			continue
		}

		return msg, nil
	}
}

func (c *Conn) handleControl(msg *chunk.Message) (bool, error) {
	switch msg.TypeID {
	case packet.TypeSetChunkSize:
		size, ok := packet.DecodeUint32Payload(msg.Payload)
		if !ok {
			return true, rtmperr.Wrap(rtmperr.KindProtocol, "malformed SetChunkSize payload", nil)
		}
		if err := c.dec.SetChunkSize(size); err != nil {
			return true, err
		}
		rlog.Debug("applied incoming chunk size change")
		return true, nil
	case packet.TypeWindowAckSize:
		size, ok := packet.DecodeUint32Payload(msg.Payload)
		if !ok {
			return true, rtmperr.Wrap(rtmperr.KindProtocol, "malformed WindowAckSize payload", nil)
		}
		c.windowAckSize = size
		if c.onWindowAckSize != nil {
			c.onWindowAckSize(size)
		}
		return true, nil
	case packet.TypeAcknowledgement, packet.TypeAbort:
		return true, nil
	case packet.TypeUserControl:
		return true, c.handlePingRequest(msg.Payload)
	default:
		return false, nil
	}
}

// handlePingRequest answers a client's UserControl.PingRequest with
// the matching PingResponse, echoing the same timestamp, the way
// every other protocol control message in this switch is answered
// transparently at the message layer rather than bubbled up to the
// session. Any other user control event arriving from a client (the
// rest are server-to-client only) is ignored.
func (c *Conn) handlePingRequest(payload []byte) error {
	event, data, ok := packet.DecodeUserControl(payload)
	if !ok {
		return rtmperr.Wrap(rtmperr.KindProtocol, "malformed UserControl payload", nil)
	}
	if event != packet.EventPingRequest || len(data) < 4 {
		return nil
	}
	ts := binary.BigEndian.Uint32(data)
	return c.SendUserControl(packet.EventPingResponse, ts)
}

func (c *Conn) maybeAck() error {
	if c.windowAckSize == 0 {
		return nil
	}
	if c.bytesReceived-c.lastAckReported < uint64(c.windowAckSize) {
		return nil
	}
	c.lastAckReported = c.bytesReceived
	return c.SendMessage(&chunk.Message{
		ChunkStreamID: packet.ChunkStreamProtocol,
		TypeID:        packet.TypeAcknowledgement,
		Payload:       packet.EncodeAcknowledgement(uint32(c.bytesReceived)),
	})
}

// SendMessage chunk-encodes msg at the current outgoing chunk size
// and writes it to the descriptor.
func (c *Conn) SendMessage(msg *chunk.Message) error {
	wire := c.enc.Encode(nil, msg)
	deadline := sched.Now().Add(PingTimeout)
	_, err := sched.WriteFully(c.task, c.desc, wire, deadline)
	return err
}

// SetOutChunkSize changes the locally applied outgoing chunk size and
// notifies the peer with a SetChunkSize control message.
func (c *Conn) SetOutChunkSize(size uint32) error {
	if err := c.SendMessage(&chunk.Message{
		ChunkStreamID: packet.ChunkStreamProtocol,
		TypeID:        packet.TypeSetChunkSize,
		Payload:       packet.EncodeSetChunkSize(size),
	}); err != nil {
		return err
	}
	c.enc.SetChunkSize(size)
	return nil
}

// SendWindowAckSize notifies the peer of the window size this side
// wants acknowledgements reported against.
func (c *Conn) SendWindowAckSize(size uint32) error {
	return c.SendMessage(&chunk.Message{
		ChunkStreamID: packet.ChunkStreamProtocol,
		TypeID:        packet.TypeWindowAckSize,
		Payload:       packet.EncodeWindowAckSize(size),
	})
}

// SendPeerBandwidth notifies the peer of the bandwidth limit this
// side is imposing.
func (c *Conn) SendPeerBandwidth(size uint32, limitType byte) error {
	return c.SendMessage(&chunk.Message{
		ChunkStreamID: packet.ChunkStreamProtocol,
		TypeID:        packet.TypeSetPeerBandwidth,
		Payload:       packet.EncodeSetPeerBandwidth(size, limitType),
	})
}

// SendUserControl writes a user control event (stream begin/eof/dry,
// ping request/response) on the protocol control chunk stream.
func (c *Conn) SendUserControl(event uint16, data ...uint32) error {
	return c.SendMessage(&chunk.Message{
		ChunkStreamID: packet.ChunkStreamProtocol,
		TypeID:        packet.TypeUserControl,
		Payload:       packet.EncodeUserControl(event, data...),
	})
}

// BytesReceived reports the running count of payload bytes received.
// The session layer above this one does not call it.
func (c *Conn) BytesReceived() uint64 { return c.bytesReceived }

// Close closes the underlying descriptor, unblocking any task
// currently suspended on a read or write for this connection.
func (c *Conn) Close() error { return c.desc.Close() }
