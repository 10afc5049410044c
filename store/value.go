package store

import (
	"strconv"
	"time"
)

// ValueKind enumerates the scalar types a property value can carry.
type ValueKind int

const (
	// KindString is a UTF-8 text value.
	KindString ValueKind = iota
	// KindBinary is an opaque byte sequence.
	KindBinary
	// KindDate is a point in time.
	KindDate
	// KindLong is a 64-bit signed integer.
	KindLong
	// KindDouble is a 64-bit float.
	KindDouble
	// KindBool is a boolean.
	KindBool
	// KindReference is the identifier of another node. A weak reference
	// does not pin the target; dereferencing a removed target fails with
	// ErrNodeNotFound either way.
	KindReference
)

// String returns the kind name used in diagnostics and codecs.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindDate:
		return "date"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

// Value is one typed scalar, the unit properties are made of. The zero Value
// is an empty string value. Only the payload field matching Kind is
// meaningful; the rest stay zero.
type Value struct {
	Kind ValueKind

	// Str carries KindString payloads and the target identifier for
	// KindReference.
	Str   string
	Data  []byte
	Time  time.Time
	Int   int64
	Float float64
	Bool  bool

	// Weak marks a KindReference value as non-pinning.
	Weak bool
}

// StringValue returns a KindString value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BinaryValue returns a KindBinary value. The byte slice is not copied.
func BinaryValue(b []byte) Value { return Value{Kind: KindBinary, Data: b} }

// DateValue returns a KindDate value.
func DateValue(t time.Time) Value { return Value{Kind: KindDate, Time: t} }

// LongValue returns a KindLong value.
func LongValue(i int64) Value { return Value{Kind: KindLong, Int: i} }

// DoubleValue returns a KindDouble value.
func DoubleValue(f float64) Value { return Value{Kind: KindDouble, Float: f} }

// BoolValue returns a KindBool value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ReferenceValue returns a strong KindReference value pointing at the node
// with the given identifier.
func ReferenceValue(id string) Value { return Value{Kind: KindReference, Str: id} }

// WeakReferenceValue returns a weak KindReference value.
func WeakReferenceValue(id string) Value {
	return Value{Kind: KindReference, Str: id, Weak: true}
}

// String renders the value as text: the payload itself for strings and
// references, RFC 3339 for dates, decimal for numbers, "true"/"false" for
// booleans and the raw bytes for binaries.
func (v Value) String() string {
	switch v.Kind {
	case KindString, KindReference:
		return v.Str
	case KindBinary:
		return string(v.Data)
	case KindDate:
		return v.Time.Format(time.RFC3339Nano)
	case KindLong:
		return strconv.FormatInt(v.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// Equal reports payload equality. Binary payloads compare byte-wise, dates
// by instant.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindReference:
		return v.Str == o.Str && v.Weak == o.Weak
	case KindBinary:
		if len(v.Data) != len(o.Data) {
			return false
		}
		for i := range v.Data {
			if v.Data[i] != o.Data[i] {
				return false
			}
		}
		return true
	case KindDate:
		return v.Time.Equal(o.Time)
	case KindLong:
		return v.Int == o.Int
	case KindDouble:
		return v.Float == o.Float
	case KindBool:
		return v.Bool == o.Bool
	default:
		return false
	}
}
