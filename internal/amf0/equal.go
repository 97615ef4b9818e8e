package amf0

// Equal reports deep value equality, used by round-trip tests. Two
// objects are equal when their keys (in order) and values match;
// Reference/TypedObject class names participate the same way.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Marker != b.Marker {
		return false
	}
	switch a.Marker {
	case MarkerNumber, MarkerDate:
		return a.Number == b.Number && a.TZ == b.TZ
	case MarkerBoolean:
		return a.Boolean == b.Boolean
	case MarkerString, MarkerLongString, MarkerXMLDocument:
		return a.Str == b.Str
	case MarkerNull, MarkerUndefined:
		return true
	case MarkerReference:
		return a.Reference == b.Reference
	case MarkerObject, MarkerEcmaArray:
		return objectsEqual(a.Properties, b.Properties)
	case MarkerTypedObject:
		return a.ClassName == b.ClassName && objectsEqual(a.Properties, b.Properties)
	case MarkerStrictArray:
		if len(a.Elements) != len(b.Elements) {
			return false
		}
		for i := range a.Elements {
			if !Equal(a.Elements[i], b.Elements[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func objectsEqual(a, b *Object) bool {
	if a == nil || b == nil {
		return (a == nil || a.Len() == 0) && (b == nil || b.Len() == 0)
	}
	if a.Len() != b.Len() {
		return false
	}
	for i, k := range a.Keys() {
		if k != b.Keys()[i] {
			return false
		}
		av, _ := a.Get(k)
		bv, _ := b.Get(k)
		if !Equal(av, bv) {
			return false
		}
	}
	return true
}
