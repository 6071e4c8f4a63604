package atomix

// FieldKind is the tagged variant a schema assigns to each field. It is
// resolved once at registration time and selects which wrapper type a
// document instantiates for the field.
type FieldKind int

const (
	KindInvalid FieldKind = iota
	// KindInt is a 64-bit integer stored as a JSON number.
	KindInt
	// KindFloat is a float64 stored as a JSON number.
	KindFloat
	// KindString is a UTF-8 string.
	KindString
	// KindBytes is an opaque byte blob, stored base64-encoded.
	KindBytes
	// KindTime is a timestamp stored as an RFC 3339 string.
	KindTime
	// KindTimestamp is a timestamp stored as a numeric epoch value, which
	// makes duration arithmetic expressible as a native increment.
	KindTimestamp
	// KindList is an ordered list with a scalar element kind.
	KindList
	// KindMap is a string-keyed map with a scalar element kind.
	KindMap
	// KindQueue is a priority queue held in a derived sorted-set key rather
	// than inside the JSON document.
	KindQueue
	// KindDoc is a nested document stored at a sub-path of its parent.
	KindDoc
	// KindAny is a free-form JSON value; usable as a list/map element kind.
	KindAny
)

var kindNames = map[FieldKind]string{
	KindInvalid:   "invalid",
	KindInt:       "int",
	KindFloat:     "float",
	KindString:    "string",
	KindBytes:     "bytes",
	KindTime:      "time",
	KindTimestamp: "timestamp",
	KindList:      "list",
	KindMap:       "map",
	KindQueue:     "queue",
	KindDoc:       "doc",
	KindAny:       "any",
}

func (k FieldKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "invalid"
}

// indexable reports whether the kind can be represented in the secondary
// index layer.
func (k FieldKind) indexable() bool {
	switch k {
	case KindInt, KindFloat, KindString, KindTime, KindTimestamp:
		return true
	}
	return false
}

// scalar reports whether the kind is usable as a list or map element.
func (k FieldKind) scalar() bool {
	switch k {
	case KindInt, KindFloat, KindString, KindBytes, KindTime, KindTimestamp, KindAny:
		return true
	}
	return false
}
