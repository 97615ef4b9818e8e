package chunk

import (
	"bytes"
	"testing"
)

// feeder turns a flat byte slice into a Next function, the same shape
// the message layer supplies when reading off a real descriptor.
func feeder(data []byte) Next {
	pos := 0
	return func(n int) ([]byte, error) {
		if pos+n > len(data) {
			return nil, bytes.ErrTooLarge
		}
		b := data[pos : pos+n]
		pos += n
		return b, nil
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := &Message{
		ChunkStreamID: 3,
		TypeID:        20,
		StreamID:      1,
		Timestamp:     1000,
		Payload:       bytes.Repeat([]byte{0xAB}, 300),
	}

	enc := NewEncoder()
	wire := enc.Encode(nil, msg)

	dec := NewDecoder()
	got, err := dec.ReadMessage(feeder(wire))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.ChunkStreamID != msg.ChunkStreamID || got.TypeID != msg.TypeID ||
		got.StreamID != msg.StreamID || got.Timestamp != msg.Timestamp {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, msg.Payload) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(got.Payload), len(msg.Payload))
	}
}

func TestChunkCountMatchesSplitting(t *testing.T) {
	cases := []struct {
		payloadLen int
		chunkSize  uint32
		want       int
	}{
		{0, 128, 1},
		{128, 128, 1},
		{129, 128, 2},
		{256, 128, 2},
		{257, 128, 3},
	}
	for _, c := range cases {
		if got := ChunkCount(c.payloadLen, c.chunkSize); got != c.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", c.payloadLen, c.chunkSize, got, c.want)
		}
	}

	msg := &Message{ChunkStreamID: 4, TypeID: 8, StreamID: 1, Payload: bytes.Repeat([]byte{1}, 257)}
	enc := NewEncoder()
	wire := enc.Encode(nil, msg)

	chunks := 0
	pos := 0
	for pos < len(wire) {
		format := Format(wire[pos] >> 6)
		pos++ // basic header (chunk id 4 fits in one byte)
		if format == FormatFull {
			pos += 11
		}
		chunks++
		remaining := len(msg.Payload) - (chunks-1)*int(enc.ChunkSize())
		take := int(enc.ChunkSize())
		if take > remaining {
			take = remaining
		}
		pos += take
	}
	if chunks != ChunkCount(len(msg.Payload), enc.ChunkSize()) {
		t.Fatalf("observed %d chunks on the wire, want %d", chunks, ChunkCount(len(msg.Payload), enc.ChunkSize()))
	}
}

func TestChunkSizeRenegotiationAppliesToLaterMessages(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	first := &Message{ChunkStreamID: 5, TypeID: 1, StreamID: 0, Payload: bytes.Repeat([]byte{1}, 10)}
	wire := enc.Encode(nil, first)
	if _, err := dec.ReadMessage(feeder(wire)); err != nil {
		t.Fatalf("first message: %v", err)
	}

	enc.SetChunkSize(64)
	if err := dec.SetChunkSize(64); err != nil {
		t.Fatalf("SetChunkSize: %v", err)
	}

	second := &Message{ChunkStreamID: 5, TypeID: 1, StreamID: 0, Payload: bytes.Repeat([]byte{2}, 200)}
	wire2 := enc.Encode(nil, second)
	got, err := dec.ReadMessage(feeder(wire2))
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if !bytes.Equal(got.Payload, second.Payload) {
		t.Fatalf("payload mismatch after renegotiation")
	}
}

func TestFormat0MidMessageHardResetsPartial(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	var warnings []string
	dec.OnWarning(func(s string) { warnings = append(warnings, s) })

	// Hand-build: a Format 0 header announcing a 200-byte message, only
	// its first 128-byte chunk of which is sent, followed immediately by a second
	// Format 0 header on the same chunk stream id for a fresh, smaller
	// message. The decoder must discard the first message's partial
	// state rather than trying to keep assembling it.
	var wire []byte
	wire = appendBasicHeader(wire, FormatFull, 3)
	wire = appendUint24BE(wire, 0)
	wire = appendUint24BE(wire, 200)
	wire = append(wire, 8)
	wire = append(wire, 0, 0, 0, 0)
	wire = append(wire, bytes.Repeat([]byte{0xFF}, DefaultChunkSize)...)

	second := &Message{ChunkStreamID: 3, TypeID: 8, StreamID: 0, Payload: []byte("ok")}
	wire = enc.Encode(wire, second)

	got, err := dec.ReadMessage(feeder(wire))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(got.Payload, second.Payload) {
		t.Fatalf("expected fresh message payload %q, got %q", second.Payload, got.Payload)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a hard-reset warning to be emitted")
	}
}

func TestNonFormat0FirstChunkOnUnseenStreamIsProtocolError(t *testing.T) {
	var wire []byte
	wire = appendBasicHeader(wire, FormatContinuation, 7)

	dec := NewDecoder()
	if _, err := dec.ReadMessage(feeder(wire)); err == nil {
		t.Fatal("expected protocol error for format-3 chunk with no prior format-0")
	}
}
