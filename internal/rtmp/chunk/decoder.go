package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

// Next is supplied by the caller (the message layer) and must return
// exactly n bytes, suspending the owning task cooperatively if the
// underlying descriptor has no more buffered data yet. It is the one
// seam between this package and the scheduler/buffer layers below it.
type Next func(n int) ([]byte, error)

// streamState is the per-chunk-id context the decoder keeps so
// formats 1/2/3 can be reconstructed against the previous chunk.
type streamState struct {
	hasSeenFormat0  bool
	lastHeader      Header
	lastDelta       uint32
	extendedTS      bool
	partial         *Message
	partialReceived uint32
}

// Decoder assembles interleaved chunk streams into complete messages.
// It is not safe for concurrent use; a connection has exactly one
// Decoder reading from exactly one task.
type Decoder struct {
	chunkSize uint32
	streams   map[uint32]*streamState

	onWarning func(string)
}

// NewDecoder creates a decoder starting at the default chunk size.
func NewDecoder() *Decoder {
	return &Decoder{
		chunkSize: DefaultChunkSize,
		streams:   make(map[uint32]*streamState),
	}
}

// OnWarning installs a callback for non-fatal protocol anomalies (e.g.
// the chunk-id-reuse hard reset policy), mirroring the "logging a
// protocol warning" language in the runtime's design notes.
func (d *Decoder) OnWarning(fn func(string)) {
	d.onWarning = fn
}

func (d *Decoder) warn(msg string) {
	if d.onWarning != nil {
		d.onWarning(msg)
	}
}

// ChunkSize returns the currently negotiated incoming chunk size.
func (d *Decoder) ChunkSize() uint32 { return d.chunkSize }

// SetChunkSize applies a SetChunkSize control message to this decoder.
func (d *Decoder) SetChunkSize(n uint32) error {
	if n < MinChunkSize || n > MaxChunkSize {
		return rtmperr.Wrap(rtmperr.KindProtocol, fmt.Sprintf("chunk size %d out of bounds", n), nil)
	}
	d.chunkSize = n
	return nil
}

func (d *Decoder) stateFor(cid uint32) *streamState {
	s, ok := d.streams[cid]
	if !ok {
		s = &streamState{}
		d.streams[cid] = s
	}
	return s
}

func readUint24BE(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func readBasicHeader(next Next) (Format, uint32, error) {
	b, err := next(1)
	if err != nil {
		return 0, 0, err
	}
	fmtBits := Format(b[0] >> 6)
	low := uint32(b[0] & 0x3f)

	switch low {
	case 0:
		b2, err := next(1)
		if err != nil {
			return 0, 0, err
		}
		return fmtBits, 64 + uint32(b2[0]), nil
	case 1:
		b2, err := next(2)
		if err != nil {
			return 0, 0, err
		}
		return fmtBits, 64 + uint32(b2[0]) + uint32(b2[1])<<8, nil
	default:
		return fmtBits, low, nil
	}
}

// readOneChunk reads a single chunk (basic header, message header
// portion for its format, optional extended timestamp, and up to
// chunkSize bytes of payload), appending to the chunk stream's
// in-progress message. It returns the chunk stream id the chunk
// belonged to, and whether that stream's message is now complete.
func (d *Decoder) readOneChunk(next Next) (uint32, bool, error) {
	format, cid, err := readBasicHeader(next)
	if err != nil {
		return 0, false, rtmperr.Wrap(rtmperr.KindProtocol, "read chunk basic header", err)
	}

	state := d.stateFor(cid)

	if format == FormatFull {
		// Per the runtime's documented policy for a chunk id reused
		// before its previous message completed: a Format 0 arrival is
		// a hard reset of the chunk-stream state, discarding whatever
		// partial message was in flight.
		if state.partial != nil && state.partialReceived > 0 && state.partialReceived < state.lastHeader.MessageLength {
			d.warn(fmt.Sprintf("chunk stream %d: format 0 arrived mid-message, discarding partial message", cid))
			state.partial = nil
			state.partialReceived = 0
		}
	} else if !state.hasSeenFormat0 {
		return 0, false, rtmperr.Wrap(rtmperr.KindProtocol, fmt.Sprintf("chunk stream %d: first message must use format 0", cid), nil)
	}

	header := state.lastHeader
	header.Format = format
	header.ChunkStreamID = cid

	switch format {
	case FormatFull:
		b, err := next(11)
		if err != nil {
			return 0, false, rtmperr.Wrap(rtmperr.KindProtocol, "read format-0 message header", err)
		}
		ts := readUint24BE(b[0:3])
		header.MessageLength = readUint24BE(b[3:6])
		header.MessageTypeID = b[6]
		header.MessageStreamID = binary.LittleEndian.Uint32(b[7:11])
		header.Timestamp, state.extendedTS, err = resolveTimestamp(next, ts, false)
		if err != nil {
			return 0, false, err
		}
		state.lastDelta = 0
	case FormatSameStream:
		b, err := next(7)
		if err != nil {
			return 0, false, rtmperr.Wrap(rtmperr.KindProtocol, "read format-1 message header", err)
		}
		delta := readUint24BE(b[0:3])
		header.MessageLength = readUint24BE(b[3:6])
		header.MessageTypeID = b[6]
		resolvedDelta, extended, err := resolveTimestamp(next, delta, false)
		if err != nil {
			return 0, false, err
		}
		state.lastDelta = resolvedDelta
		state.extendedTS = extended
		header.Timestamp = state.lastHeader.Timestamp + resolvedDelta
	case FormatSameLength:
		b, err := next(3)
		if err != nil {
			return 0, false, rtmperr.Wrap(rtmperr.KindProtocol, "read format-2 message header", err)
		}
		delta := readUint24BE(b)
		resolvedDelta, extended, err := resolveTimestamp(next, delta, false)
		if err != nil {
			return 0, false, err
		}
		state.lastDelta = resolvedDelta
		state.extendedTS = extended
		header.Timestamp = state.lastHeader.Timestamp + resolvedDelta
	case FormatContinuation:
		if state.extendedTS {
			if _, err := next(4); err != nil {
				return 0, false, rtmperr.Wrap(rtmperr.KindProtocol, "read format-3 extended timestamp", err)
			}
		}
		if state.partial == nil {
			// Starting a new message purely from inherited header state.
			header.Timestamp = state.lastHeader.Timestamp + state.lastDelta
		} else {
			header.Timestamp = state.lastHeader.Timestamp
		}
	default:
		return 0, false, rtmperr.Wrap(rtmperr.KindProtocol, fmt.Sprintf("impossible chunk format %d", format), nil)
	}

	state.hasSeenFormat0 = true
	state.lastHeader = header

	if state.partial == nil {
		state.partial = &Message{
			ChunkStreamID: cid,
			TypeID:        header.MessageTypeID,
			StreamID:      header.MessageStreamID,
			Timestamp:     header.Timestamp,
			Payload:       make([]byte, 0, header.MessageLength),
		}
		state.partialReceived = 0
	}

	remaining := header.MessageLength - state.partialReceived
	toRead := d.chunkSize - (state.partialReceived % d.chunkSize)
	if toRead > remaining {
		toRead = remaining
	}

	if toRead > 0 {
		b, err := next(int(toRead))
		if err != nil {
			return 0, false, rtmperr.Wrap(rtmperr.KindProtocol, "read chunk payload", err)
		}
		state.partial.Payload = append(state.partial.Payload, b...)
		state.partialReceived += toRead
	}

	complete := state.partialReceived >= header.MessageLength
	return cid, complete, nil
}

// resolveTimestamp reads the 4-byte extended timestamp when ts hits
// the 0xFFFFFF marker, returning the true value and whether extended
// timestamps are now in force for this chunk id.
func resolveTimestamp(next Next, ts uint32, alreadyExtended bool) (uint32, bool, error) {
	if ts != extendedTimestampMarker && !alreadyExtended {
		return ts, false, nil
	}
	b, err := next(4)
	if err != nil {
		return 0, false, rtmperr.Wrap(rtmperr.KindProtocol, "read extended timestamp", err)
	}
	return binary.BigEndian.Uint32(b), true, nil
}

// ReadMessage reads chunks (possibly interleaved across several chunk
// stream ids) until one chunk stream's message is fully assembled, and
// returns it. The returned Message's Payload must not be retained
// across the next ReadMessage call without copying.
func (d *Decoder) ReadMessage(next Next) (*Message, error) {
	for {
		cid, complete, err := d.readOneChunk(next)
		if err != nil {
			return nil, err
		}
		if complete {
			state := d.streams[cid]
			msg := state.partial
			state.partial = nil
			state.partialReceived = 0
			return msg, nil
		}
	}
}
