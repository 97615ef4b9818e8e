// Package packet names the RTMP message type ids and the protocol's
// fixed channel assignments, and encodes/decodes the small set of
// protocol control messages (chunk size, window ack size, peer
// bandwidth, acknowledgement, user control events).
package packet

import "encoding/binary"

// Message type ids, carried in the chunk message header's type byte.
const (
	TypeSetChunkSize     = 1
	TypeAbort            = 2
	TypeAcknowledgement  = 3
	TypeUserControl      = 4
	TypeWindowAckSize    = 5
	TypeSetPeerBandwidth = 6
	TypeAudio            = 8
	TypeVideo            = 9
	TypeFlexStream       = 15 // AMF3 data
	TypeFlexObject       = 16 // AMF3 shared object
	TypeFlexMessage      = 17 // AMF3 command
	TypeDataAMF0         = 18
	TypeSharedObjectAMF0 = 19
	TypeCommandAMF0      = 20
	TypeAggregate        = 22
)

// Chunk stream ids the protocol reserves for specific message classes.
// A session is free to use other ids for additional media streams,
// but these five are the ones every RTMP peer expects.
const (
	ChunkStreamProtocol = 2
	ChunkStreamInvoke   = 3
	ChunkStreamAudio    = 4
	ChunkStreamVideo    = 5
	ChunkStreamData     = 6
)

// User control event types (payload of a TypeUserControl message).
const (
	EventStreamBegin = 0x00
	EventStreamEOF   = 0x01
	EventStreamDry   = 0x02
	EventStreamEmpty  = 0x1f
	EventStreamReady  = 0x20
	EventPingRequest  = 0x06
	EventPingResponse = 0x07
)

// Limit types for SetPeerBandwidth.
const (
	LimitHard    = 0
	LimitSoft    = 1
	LimitDynamic = 2
)

// EncodeSetChunkSize builds the 4-byte payload of a SetChunkSize
// message.
func EncodeSetChunkSize(size uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, size)
	return b
}

// DecodeUint32Payload reads the single big-endian uint32 carried by
// SetChunkSize, WindowAckSize and Acknowledgement messages.
func DecodeUint32Payload(payload []byte) (uint32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(payload), true
}

// EncodeWindowAckSize builds the payload of a WindowAcknowledgementSize
// message.
func EncodeWindowAckSize(size uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, size)
	return b
}

// EncodeSetPeerBandwidth builds the 5-byte payload of a
// SetPeerBandwidth message.
func EncodeSetPeerBandwidth(size uint32, limitType byte) []byte {
	b := make([]byte, 5)
	binary.BigEndian.PutUint32(b, size)
	b[4] = limitType
	return b
}

// EncodeAcknowledgement builds the payload of an Acknowledgement
// message reporting bytesRead.
func EncodeAcknowledgement(bytesRead uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, bytesRead)
	return b
}

// EncodeUserControl builds a user control event payload: a 2-byte
// event type followed by up to two 4-byte event data fields.
func EncodeUserControl(event uint16, data ...uint32) []byte {
	b := make([]byte, 2+4*len(data))
	binary.BigEndian.PutUint16(b, event)
	for i, d := range data {
		binary.BigEndian.PutUint32(b[2+4*i:], d)
	}
	return b
}

// DecodeUserControl splits a user control payload into its event type
// and raw event-data bytes.
func DecodeUserControl(payload []byte) (event uint16, data []byte, ok bool) {
	if len(payload) < 2 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint16(payload), payload[2:], true
}
