package amf0

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/rtmpcore/rtmp-core/internal/rtmperr"
)

// Encode appends the wire encoding of v to dst and returns the
// extended slice, mirroring the append-builder style the rest of this
// module's wire codecs use so a caller can build a whole command
// message with repeated Encode calls into one growing buffer.
func Encode(dst []byte, v *Value) []byte {
	dst = append(dst, byte(v.Marker))
	switch v.Marker {
	case MarkerNumber:
		dst = encodeNumber(dst, v.Number)
	case MarkerBoolean:
		if v.Boolean {
			dst = append(dst, 0x01)
		} else {
			dst = append(dst, 0x00)
		}
	case MarkerString:
		if len(v.Str) > math.MaxUint16 {
			dst[len(dst)-1] = byte(MarkerLongString)
			dst = encodeLongString(dst, v.Str)
		} else {
			dst = encodeShortString(dst, v.Str)
		}
	case MarkerLongString, MarkerXMLDocument:
		dst = encodeLongString(dst, v.Str)
	case MarkerNull, MarkerUndefined:
		// no payload
	case MarkerReference:
		dst = binary.BigEndian.AppendUint16(dst, v.Reference)
	case MarkerObject:
		dst = encodeObject(dst, v.Properties)
	case MarkerEcmaArray:
		dst = binary.BigEndian.AppendUint32(dst, uint32(propLen(v.Properties)))
		dst = encodeObject(dst, v.Properties)
	case MarkerStrictArray:
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.Elements)))
		for _, e := range v.Elements {
			dst = Encode(dst, e)
		}
	case MarkerDate:
		dst = encodeNumber(dst, v.Number)
		dst = binary.BigEndian.AppendUint16(dst, uint16(v.TZ))
	case MarkerTypedObject:
		dst = encodeShortString(dst, v.ClassName)
		dst = encodeObject(dst, v.Properties)
	default:
		// Unknown/unsupported markers encode as a bare tag with no
		// payload; nothing in this codec's Value constructors produces
		// one, so this only fires for a hand-built Value.
	}
	return dst
}

func propLen(o *Object) int {
	if o == nil {
		return 0
	}
	return o.Len()
}

func encodeNumber(dst []byte, f float64) []byte {
	return binary.BigEndian.AppendUint64(dst, math.Float64bits(f))
}

func encodeShortString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func encodeLongString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func encodeObject(dst []byte, o *Object) []byte {
	if o != nil {
		o.Each(func(key string, v *Value) {
			dst = encodeShortString(dst, key)
			dst = Encode(dst, v)
		})
	}
	dst = encodeShortString(dst, "")
	dst = append(dst, byte(MarkerObjectEnd))
	return dst
}

// Decoder walks an AMF0 byte stream one value at a time.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for sequential decoding.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Pos returns the current read offset, useful for callers that decode
// several consecutive command arguments out of one message payload.
func (d *Decoder) Pos() int { return d.pos }

// Remaining reports whether any bytes are left to decode.
func (d *Decoder) Remaining() bool { return d.pos < len(d.buf) }

func (d *Decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return rtmperr.Wrap(rtmperr.KindProtocol, "amf0: truncated value", nil)
	}
	return nil
}

func (d *Decoder) readByte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) peekByte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	return d.buf[d.pos], nil
}

func (d *Decoder) readN(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) readUint16() (uint16, error) {
	b, err := d.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *Decoder) readUint32() (uint32, error) {
	b, err := d.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) readNumber() (float64, error) {
	b, err := d.readN(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (d *Decoder) readShortString() (string, error) {
	l, err := d.readUint16()
	if err != nil {
		return "", err
	}
	b, err := d.readN(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) readLongString() (string, error) {
	l, err := d.readUint32()
	if err != nil {
		return "", err
	}
	b, err := d.readN(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readObjectBody decodes key/value pairs until the ObjectEnd marker
// (an empty key followed by marker 0x09), returning a decode error if
// the stream runs out before that terminator appears.
func (d *Decoder) readObjectBody() (*Object, error) {
	o := NewObject()
	for {
		key, err := d.readShortString()
		if err != nil {
			return nil, rtmperr.Wrap(rtmperr.KindProtocol, "amf0: object missing terminator", err)
		}
		marker, err := d.peekByte()
		if err != nil {
			return nil, rtmperr.Wrap(rtmperr.KindProtocol, "amf0: object missing terminator", err)
		}
		if key == "" && Marker(marker) == MarkerObjectEnd {
			d.pos++
			return o, nil
		}
		val, err := d.DecodeValue()
		if err != nil {
			return nil, err
		}
		o.Set(key, val)
	}
}

// DecodeValue decodes one tagged value from the current position.
func (d *Decoder) DecodeValue() (*Value, error) {
	markerByte, err := d.readByte()
	if err != nil {
		return nil, err
	}
	marker := Marker(markerByte)

	switch marker {
	case MarkerNumber:
		n, err := d.readNumber()
		if err != nil {
			return nil, err
		}
		return Num(n), nil
	case MarkerBoolean:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return Bool(b != 0), nil
	case MarkerString:
		s, err := d.readShortString()
		if err != nil {
			return nil, err
		}
		return Str(s), nil
	case MarkerLongString:
		s, err := d.readLongString()
		if err != nil {
			return nil, err
		}
		return LongStr(s), nil
	case MarkerXMLDocument:
		s, err := d.readLongString()
		if err != nil {
			return nil, err
		}
		return &Value{Marker: MarkerXMLDocument, Str: s}, nil
	case MarkerNull:
		return Null(), nil
	case MarkerUndefined:
		return Undefined(), nil
	case MarkerReference:
		ref, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return &Value{Marker: MarkerReference, Reference: ref}, nil
	case MarkerObject:
		body, err := d.readObjectBody()
		if err != nil {
			return nil, err
		}
		return &Value{Marker: MarkerObject, Properties: body}, nil
	case MarkerEcmaArray:
		if _, err := d.readUint32(); err != nil { // associative-count hint, ignored on read
			return nil, err
		}
		body, err := d.readObjectBody()
		if err != nil {
			return nil, err
		}
		return &Value{Marker: MarkerEcmaArray, Properties: body}, nil
	case MarkerStrictArray:
		count, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		elems := make([]*Value, 0, count)
		for i := uint32(0); i < count; i++ {
			e, err := d.DecodeValue()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
		}
		return StrictArr(elems), nil
	case MarkerDate:
		n, err := d.readNumber()
		if err != nil {
			return nil, err
		}
		tz, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		return &Value{Marker: MarkerDate, Number: n, TZ: int16(tz)}, nil
	case MarkerTypedObject:
		className, err := d.readShortString()
		if err != nil {
			return nil, err
		}
		body, err := d.readObjectBody()
		if err != nil {
			return nil, err
		}
		return &Value{Marker: MarkerTypedObject, ClassName: className, Properties: body}, nil
	default:
		return nil, rtmperr.Wrap(rtmperr.KindProtocol, fmt.Sprintf("amf0: unknown marker 0x%02x", markerByte), nil)
	}
}

// Decode decodes a single value from buf and reports how many bytes it
// consumed.
func Decode(buf []byte) (*Value, int, error) {
	d := NewDecoder(buf)
	v, err := d.DecodeValue()
	if err != nil {
		return nil, d.pos, err
	}
	return v, d.pos, nil
}

// DecodeAll decodes every value back-to-back in buf, the shape a full
// AMF0 command message payload takes (command name, transaction id,
// command object, optional extra arguments).
func DecodeAll(buf []byte) ([]*Value, error) {
	d := NewDecoder(buf)
	var values []*Value
	for d.Remaining() {
		v, err := d.DecodeValue()
		if err != nil {
			return values, err
		}
		values = append(values, v)
	}
	return values, nil
}
