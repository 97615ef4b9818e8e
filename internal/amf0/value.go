// Package amf0 implements the AMF0 tagged-value codec used by every
// RTMP command and metadata message: connect, createStream, publish,
// onStatus, onMetaData and friends are all AMF0 object graphs under
// the hood. Objects and arrays are order-preserving because several
// handshake and status messages rely on key ordering on the wire.
package amf0

import "fmt"

// Marker is the one-byte AMF0 type tag.
type Marker byte

const (
	MarkerNumber      Marker = 0x00
	MarkerBoolean     Marker = 0x01
	MarkerString      Marker = 0x02
	MarkerObject      Marker = 0x03
	MarkerMovieClip   Marker = 0x04 // unused, reserved
	MarkerNull        Marker = 0x05
	MarkerUndefined   Marker = 0x06
	MarkerReference   Marker = 0x07
	MarkerEcmaArray   Marker = 0x08
	MarkerObjectEnd   Marker = 0x09
	MarkerStrictArray Marker = 0x0A
	MarkerDate        Marker = 0x0B
	MarkerLongString  Marker = 0x0C
	MarkerUnsupported Marker = 0x0D
	MarkerXMLDocument Marker = 0x0F
	MarkerTypedObject Marker = 0x10
)

// Value is the tagged union over every AMF0 type this codec
// round-trips. Only the fields relevant to Marker are meaningful.
type Value struct {
	Marker Marker

	Number  float64 // MarkerNumber, MarkerDate (milliseconds since epoch)
	Boolean bool    // MarkerBoolean
	Str     string  // MarkerString, MarkerLongString, MarkerXMLDocument
	TZ      int16   // MarkerDate timezone offset, minutes; written as given

	ClassName  string       // MarkerTypedObject
	Properties *Object      // MarkerObject, MarkerEcmaArray, MarkerTypedObject
	Elements   []*Value     // MarkerStrictArray
	Reference  uint16       // MarkerReference
}

// Num builds a MarkerNumber value.
func Num(v float64) *Value { return &Value{Marker: MarkerNumber, Number: v} }

// Bool builds a MarkerBoolean value.
func Bool(v bool) *Value { return &Value{Marker: MarkerBoolean, Boolean: v} }

// Str builds a MarkerString value, upgrading to MarkerLongString on
// encode automatically if it doesn't fit a 16-bit length prefix.
func Str(v string) *Value { return &Value{Marker: MarkerString, Str: v} }

// LongStr forces the MarkerLongString encoding even for a short value.
func LongStr(v string) *Value { return &Value{Marker: MarkerLongString, Str: v} }

// Null builds a MarkerNull value.
func Null() *Value { return &Value{Marker: MarkerNull} }

// Undefined builds a MarkerUndefined value.
func Undefined() *Value { return &Value{Marker: MarkerUndefined} }

// Obj builds an empty MarkerObject value ready for Properties.Set.
func Obj() *Value { return &Value{Marker: MarkerObject, Properties: NewObject()} }

// EcmaArr builds an empty MarkerEcmaArray value.
func EcmaArr() *Value { return &Value{Marker: MarkerEcmaArray, Properties: NewObject()} }

// StrictArr builds a MarkerStrictArray value from elements.
func StrictArr(elements []*Value) *Value {
	return &Value{Marker: MarkerStrictArray, Elements: elements}
}

// DateVal builds a MarkerDate value (milliseconds since epoch, UTC).
func DateVal(millis float64) *Value { return &Value{Marker: MarkerDate, Number: millis} }

// IsUndefined reports whether v is nil or the AMF0 undefined marker,
// the convention GetProperty's callers rely on for optional fields.
func (v *Value) IsUndefined() bool {
	return v == nil || v.Marker == MarkerUndefined
}

// IsNull reports whether v is the AMF0 null marker.
func (v *Value) IsNull() bool {
	return v != nil && v.Marker == MarkerNull
}

// AsBool coerces a value to bool the way Flash's AMF0 decoders do:
// booleans as themselves, numbers as nonzero, everything else false.
func (v *Value) AsBool() bool {
	if v == nil {
		return false
	}
	switch v.Marker {
	case MarkerBoolean:
		return v.Boolean
	case MarkerNumber:
		return v.Number != 0
	default:
		return false
	}
}

// AsNumber returns the numeric value, or 0 if v isn't numeric.
func (v *Value) AsNumber() float64 {
	if v == nil {
		return 0
	}
	switch v.Marker {
	case MarkerNumber, MarkerDate:
		return v.Number
	default:
		return 0
	}
}

// AsInt truncates AsNumber to an int64, the common case for transaction
// ids and stream ids which are always integer-valued AMF0 numbers.
func (v *Value) AsInt() int64 {
	return int64(v.AsNumber())
}

// AsString returns the string payload, or "" if v isn't a string type.
func (v *Value) AsString() string {
	if v == nil {
		return ""
	}
	switch v.Marker {
	case MarkerString, MarkerLongString, MarkerXMLDocument:
		return v.Str
	default:
		return ""
	}
}

// Get looks up a property on an Object/EcmaArray/TypedObject value,
// returning an Undefined value (never nil) if the value isn't an
// object or the key is absent, so callers can chain v.Get("a").Get("b")
// without nil checks.
func (v *Value) Get(key string) *Value {
	if v == nil || v.Properties == nil {
		return Undefined()
	}
	if p, ok := v.Properties.Get(key); ok {
		return p
	}
	return Undefined()
}

// Set is a convenience wrapper around Properties.Set for object-typed
// values built with Obj()/EcmaArr().
func (v *Value) Set(key string, val *Value) *Value {
	if v.Properties == nil {
		v.Properties = NewObject()
	}
	v.Properties.Set(key, val)
	return v
}

// Object is an order-preserving string-keyed map: AMF0 relies on key
// ordering surviving a round trip in several status/handshake
// messages, which a plain Go map cannot guarantee.
type Object struct {
	keys   []string
	index  map[string]int
	values []*Value
}

// NewObject creates an empty ordered object.
func NewObject() *Object {
	return &Object{index: make(map[string]int)}
}

// Set inserts or updates a key. A duplicate key retains its original
// insertion position and only has its value overwritten, matching the
// decode edge-case policy: "duplicate keys on read retain the
// first-seen insertion position but overwrite the value."
func (o *Object) Set(key string, v *Value) {
	if i, ok := o.index[key]; ok {
		o.values[i] = v
		return
	}
	o.index[key] = len(o.keys)
	o.keys = append(o.keys, key)
	o.values = append(o.values, v)
}

// Get returns the value for key and whether it was present.
func (o *Object) Get(key string) (*Value, bool) {
	i, ok := o.index[key]
	if !ok {
		return nil, false
	}
	return o.values[i], true
}

// Len returns the number of properties.
func (o *Object) Len() int {
	return len(o.keys)
}

// Keys returns the property keys in insertion order. The slice must
// not be mutated by the caller.
func (o *Object) Keys() []string {
	return o.keys
}

// Each calls fn for every property in insertion order.
func (o *Object) Each(fn func(key string, v *Value)) {
	for i, k := range o.keys {
		fn(k, o.values[i])
	}
}

func (v *Value) String() string {
	if v == nil {
		return "undefined"
	}
	switch v.Marker {
	case MarkerNull:
		return "null"
	case MarkerUndefined:
		return "undefined"
	case MarkerBoolean:
		return fmt.Sprintf("%v", v.Boolean)
	case MarkerNumber:
		return fmt.Sprintf("%g", v.Number)
	case MarkerString, MarkerLongString:
		return fmt.Sprintf("%q", v.Str)
	case MarkerObject, MarkerEcmaArray, MarkerTypedObject:
		return fmt.Sprintf("object(%d props)", v.Properties.Len())
	case MarkerStrictArray:
		return fmt.Sprintf("array(%d)", len(v.Elements))
	case MarkerDate:
		return fmt.Sprintf("date(%g)", v.Number)
	default:
		return fmt.Sprintf("amf0(marker=%d)", v.Marker)
	}
}
