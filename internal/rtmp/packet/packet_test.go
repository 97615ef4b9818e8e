package packet

import (
	"bytes"
	"testing"
)

func TestSetChunkSizeRoundTrip(t *testing.T) {
	payload := EncodeSetChunkSize(4096)
	got, ok := DecodeUint32Payload(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	if got != 4096 {
		t.Fatalf("got %d, want 4096", got)
	}
}

func TestWindowAckSizeRoundTrip(t *testing.T) {
	payload := EncodeWindowAckSize(5_000_000)
	got, ok := DecodeUint32Payload(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	if got != 5_000_000 {
		t.Fatalf("got %d, want 5000000", got)
	}
}

func TestAcknowledgementRoundTrip(t *testing.T) {
	payload := EncodeAcknowledgement(123456)
	got, ok := DecodeUint32Payload(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	if got != 123456 {
		t.Fatalf("got %d, want 123456", got)
	}
}

func TestDecodeUint32PayloadTooShort(t *testing.T) {
	if _, ok := DecodeUint32Payload([]byte{1, 2, 3}); ok {
		t.Fatal("expected decode failure for short payload")
	}
}

func TestSetPeerBandwidthEncoding(t *testing.T) {
	payload := EncodeSetPeerBandwidth(2_500_000, LimitDynamic)
	if len(payload) != 5 {
		t.Fatalf("expected 5-byte payload, got %d", len(payload))
	}
	size, ok := DecodeUint32Payload(payload[:4])
	if !ok || size != 2_500_000 {
		t.Fatalf("got size %d ok=%v, want 2500000", size, ok)
	}
	if payload[4] != LimitDynamic {
		t.Fatalf("got limit type %d, want %d", payload[4], LimitDynamic)
	}
}

func TestUserControlRoundTripNoData(t *testing.T) {
	payload := EncodeUserControl(EventStreamBegin)
	event, data, ok := DecodeUserControl(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	if event != EventStreamBegin {
		t.Fatalf("got event %d, want %d", event, EventStreamBegin)
	}
	if len(data) != 0 {
		t.Fatalf("expected no event data, got %d bytes", len(data))
	}
}

func TestUserControlRoundTripOneField(t *testing.T) {
	payload := EncodeUserControl(EventStreamEOF, 7)
	event, data, ok := DecodeUserControl(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	if event != EventStreamEOF {
		t.Fatalf("got event %d, want %d", event, EventStreamEOF)
	}
	want := []byte{0, 0, 0, 7}
	if !bytes.Equal(data, want) {
		t.Fatalf("got data %v, want %v", data, want)
	}
}

func TestPingRequestResponseRoundTrip(t *testing.T) {
	payload := EncodeUserControl(EventPingRequest, 987654)
	event, data, ok := DecodeUserControl(payload)
	if !ok {
		t.Fatal("decode failed")
	}
	if event != EventPingRequest {
		t.Fatalf("got event %d, want EventPingRequest", event)
	}
	if len(data) != 4 {
		t.Fatalf("expected 4 bytes of event data, got %d", len(data))
	}
	reply := EncodeUserControl(EventPingResponse, 987654)
	replyEvent, replyData, ok := DecodeUserControl(reply)
	if !ok {
		t.Fatal("decode of reply failed")
	}
	if replyEvent != EventPingResponse {
		t.Fatalf("got event %d, want EventPingResponse", replyEvent)
	}
	if !bytes.Equal(replyData, data) {
		t.Fatalf("ping response echoed %v, want %v", replyData, data)
	}
}

func TestDecodeUserControlTooShort(t *testing.T) {
	if _, _, ok := DecodeUserControl([]byte{0x00}); ok {
		t.Fatal("expected decode failure for payload shorter than event id")
	}
}
