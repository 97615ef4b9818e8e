package chunk

import (
	"encoding/binary"
)

// Encoder splits outgoing messages into chunks against a negotiated
// chunk size, writing basic header, message header and extended
// timestamp exactly like the decoder expects to read them back.
//
// An Encoder keeps no per-chunk-stream-id memory: every message is
// written as a Format 0 chunk followed by Format 3 continuations, the
// simplest encoding and the one every RTMP peer accepts regardless of
// what it last sent on that chunk stream id. This trades a few header
// bytes for not having to track a mirror of the decoder's state here.
type Encoder struct {
	chunkSize uint32
}

// NewEncoder creates an encoder starting at the default chunk size.
func NewEncoder() *Encoder {
	return &Encoder{chunkSize: DefaultChunkSize}
}

// ChunkSize returns the currently negotiated outgoing chunk size.
func (e *Encoder) ChunkSize() uint32 { return e.chunkSize }

// SetChunkSize applies a locally-initiated or peer-acknowledged
// SetChunkSize change.
func (e *Encoder) SetChunkSize(n uint32) {
	e.chunkSize = n
}

// Encode appends the wire chunks for msg to dst and returns the
// extended slice. The number of chunks written is always
// ceil(len(Payload)/chunkSize), with the first chunk in Format 0 and
// every following chunk in Format 3 carrying only a basic header.
func (e *Encoder) Encode(dst []byte, msg *Message) []byte {
	dst = appendBasicHeader(dst, FormatFull, msg.ChunkStreamID)
	dst = appendUint24BE(dst, timestampField(msg.Timestamp))
	dst = appendUint24BE(dst, uint32(len(msg.Payload)))
	dst = append(dst, msg.TypeID)
	dst = binary.LittleEndian.AppendUint32(dst, msg.StreamID)
	if msg.Timestamp >= extendedTimestampMarker {
		dst = binary.BigEndian.AppendUint32(dst, msg.Timestamp)
	}

	remaining := msg.Payload
	first := true
	for len(remaining) > 0 {
		if !first {
			dst = appendBasicHeader(dst, FormatContinuation, msg.ChunkStreamID)
			if msg.Timestamp >= extendedTimestampMarker {
				dst = binary.BigEndian.AppendUint32(dst, msg.Timestamp)
			}
		}
		n := e.chunkSize
		if n > uint32(len(remaining)) {
			n = uint32(len(remaining))
		}
		dst = append(dst, remaining[:n]...)
		remaining = remaining[n:]
		first = false
	}
	return dst
}

// timestampField returns the value carried in the 3-byte timestamp
// field: the real timestamp, or the extended-timestamp marker when it
// does not fit, in which case the real value follows as 4 big-endian
// bytes immediately after the message header.
func timestampField(ts uint32) uint32 {
	if ts >= extendedTimestampMarker {
		return extendedTimestampMarker
	}
	return ts
}

func appendUint24BE(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>16), byte(v>>8), byte(v))
}

// appendBasicHeader writes the 1, 2 or 3-byte basic header form
// depending on how large the chunk stream id is, mirroring the three
// encodings readBasicHeader accepts.
func appendBasicHeader(dst []byte, format Format, cid uint32) []byte {
	switch {
	case cid < 64:
		return append(dst, byte(format)<<6|byte(cid))
	case cid < 64+256:
		return append(dst, byte(format)<<6, byte(cid-64))
	default:
		rel := cid - 64
		return append(dst, byte(format)<<6|0x01, byte(rel), byte(rel>>8))
	}
}

// ChunkCount reports how many chunks Encode will split payloadLen
// bytes into at the given chunk size, i.e. ceil(payloadLen/chunkSize).
func ChunkCount(payloadLen int, chunkSize uint32) int {
	if payloadLen == 0 {
		return 1
	}
	return (payloadLen + int(chunkSize) - 1) / int(chunkSize)
}
