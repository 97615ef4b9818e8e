package amf0

import "testing"

func roundTrip(t *testing.T, v *Value) {
	t.Helper()
	buf := Encode(nil, v)
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("decode consumed %d of %d bytes", n, len(buf))
	}
	if !Equal(v, got) {
		t.Fatalf("round trip mismatch: %v != %v", v, got)
	}
}

func TestRoundTripScalars(t *testing.T) {
	roundTrip(t, Num(3.5))
	roundTrip(t, Num(-1))
	roundTrip(t, Bool(true))
	roundTrip(t, Bool(false))
	roundTrip(t, Str("connect"))
	roundTrip(t, Null())
	roundTrip(t, Undefined())
	roundTrip(t, DateVal(1700000000000))
}

func TestRoundTripObject(t *testing.T) {
	obj := Obj()
	obj.Set("app", Str("live"))
	obj.Set("tcUrl", Str("rtmp://example/live"))
	obj.Set("objectEncoding", Num(0))
	roundTrip(t, obj)
}

func TestRoundTripEcmaArray(t *testing.T) {
	arr := EcmaArr()
	arr.Set("duration", Num(0))
	arr.Set("width", Num(1920))
	roundTrip(t, arr)
}

func TestRoundTripStrictArray(t *testing.T) {
	roundTrip(t, StrictArr([]*Value{Num(1), Str("x"), Bool(true)}))
}

func TestDuplicateKeyKeepsFirstPosition(t *testing.T) {
	buf := []byte{}
	buf = append(buf, byte(MarkerObject))
	// "a" = 1
	buf = encodeShortString(buf, "a")
	buf = Encode(buf, Num(1))
	// "b" = 2
	buf = encodeShortString(buf, "b")
	buf = Encode(buf, Num(2))
	// "a" = 3 (duplicate, should overwrite value but keep position 0)
	buf = encodeShortString(buf, "a")
	buf = Encode(buf, Num(3))
	buf = encodeShortString(buf, "")
	buf = append(buf, byte(MarkerObjectEnd))

	v, _, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	keys := v.Properties.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected key order: %v", keys)
	}
	av, _ := v.Properties.Get("a")
	if av.AsNumber() != 3 {
		t.Fatalf("expected overwritten value 3, got %v", av.AsNumber())
	}
}

func TestMissingObjectEndIsDecodeError(t *testing.T) {
	buf := []byte{byte(MarkerObject)}
	buf = encodeShortString(buf, "a")
	buf = Encode(buf, Num(1))
	// no terminator
	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected decode error for missing ObjectEnd")
	}
}

func TestUnknownMarkerIsDecodeError(t *testing.T) {
	if _, _, err := Decode([]byte{0xEE}); err == nil {
		t.Fatal("expected decode error for unknown marker")
	}
}
