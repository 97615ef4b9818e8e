package command

import (
	"testing"

	"github.com/rtmpcore/rtmp-core/internal/amf0"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	obj := amf0.Obj()
	obj.Set("app", amf0.Str("live"))
	obj.Set("objectEncoding", amf0.Num(0))

	payload := Encode("connect", 1, obj)
	cmd, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Name != "connect" {
		t.Fatalf("got name %q, want connect", cmd.Name)
	}
	if cmd.TxnID != 1 {
		t.Fatalf("got txnID %v, want 1", cmd.TxnID)
	}
	if len(cmd.Args) != 1 {
		t.Fatalf("got %d args, want 1", len(cmd.Args))
	}
	if !amf0.Equal(cmd.Args[0], obj) {
		t.Fatal("command object round trip mismatch")
	}
}

func TestEncodeDecodeNoArgs(t *testing.T) {
	payload := Encode("closeStream", 0)
	cmd, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Name != "closeStream" || cmd.TxnID != 0 {
		t.Fatalf("got %q/%v, want closeStream/0", cmd.Name, cmd.TxnID)
	}
	if len(cmd.Args) != 0 {
		t.Fatalf("expected no args, got %d", len(cmd.Args))
	}
}

func TestArgOutOfRangeReturnsUndefined(t *testing.T) {
	cmd := &Command{Name: "play", TxnID: 2}
	v := cmd.Arg(0)
	if v.Marker != amf0.MarkerUndefined {
		t.Fatalf("expected undefined for missing arg, got marker %v", v.Marker)
	}
	if cmd.Arg(-1).Marker != amf0.MarkerUndefined {
		t.Fatal("expected undefined for negative index")
	}
}

func TestConnectResultRoundTrip(t *testing.T) {
	payload := ConnectResult(1, 0)
	cmd, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Name != "_result" || cmd.TxnID != 1 {
		t.Fatalf("got %q/%v, want _result/1", cmd.Name, cmd.TxnID)
	}
	if len(cmd.Args) != 2 {
		t.Fatalf("got %d args, want 2 (properties, info)", len(cmd.Args))
	}
	info := cmd.Args[1]
	code, _ := info.Properties.Get("code")
	if code.AsString() != "NetConnection.Connect.Success" {
		t.Fatalf("got code %q", code.AsString())
	}
}

func TestCreateStreamResultRoundTrip(t *testing.T) {
	payload := CreateStreamResult(4, 1)
	cmd, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Name != "_result" || cmd.TxnID != 4 {
		t.Fatalf("got %q/%v, want _result/4", cmd.Name, cmd.TxnID)
	}
	if len(cmd.Args) != 2 {
		t.Fatalf("got %d args, want 2 (null, stream id)", len(cmd.Args))
	}
	if cmd.Args[1].AsNumber() != 1 {
		t.Fatalf("got stream id %v, want 1", cmd.Args[1].AsNumber())
	}
}

func TestStatusMessageRoundTrip(t *testing.T) {
	payload := StatusMessage("status", "NetStream.Publish.Start", "live/key is now published.")
	cmd, err := Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Name != "onStatus" {
		t.Fatalf("got name %q, want onStatus", cmd.Name)
	}
	if len(cmd.Args) != 2 {
		t.Fatalf("got %d args, want 2 (null, info)", len(cmd.Args))
	}
	info := cmd.Args[1]
	level, _ := info.Properties.Get("level")
	code, _ := info.Properties.Get("code")
	desc, _ := info.Properties.Get("description")
	if level.AsString() != "status" {
		t.Fatalf("got level %q, want status", level.AsString())
	}
	if code.AsString() != "NetStream.Publish.Start" {
		t.Fatalf("got code %q", code.AsString())
	}
	if desc.AsString() != "live/key is now published." {
		t.Fatalf("got description %q", desc.AsString())
	}
}

func TestStreamNameAndQuery(t *testing.T) {
	cases := []struct {
		in        string
		wantKey   string
		wantQuery map[string]string
	}{
		{"mykey", "mykey", nil},
		{"mykey?token=abc", "mykey", map[string]string{"token": "abc"}},
		{"mykey?token=abc&vhost=x", "mykey", map[string]string{"token": "abc", "vhost": "x"}},
	}
	for _, c := range cases {
		key, query := StreamNameAndQuery(c.in)
		if key != c.wantKey {
			t.Fatalf("StreamNameAndQuery(%q) key = %q, want %q", c.in, key, c.wantKey)
		}
		if len(query) != len(c.wantQuery) {
			t.Fatalf("StreamNameAndQuery(%q) query = %v, want %v", c.in, query, c.wantQuery)
		}
		for k, v := range c.wantQuery {
			if query[k] != v {
				t.Fatalf("StreamNameAndQuery(%q) query[%q] = %q, want %q", c.in, k, query[k], v)
			}
		}
	}
}
