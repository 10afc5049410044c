package arbor

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"golang.org/x/text/language"

	"github.com/arbormap/arbor/store"
)

// Converter is a caller-supplied bidirectional transform between a field
// value and a value in the mappable scalar set. Converters are registered on
// the Mapper under a name and selected per field with the `converter=<name>`
// tag option.
//
// ToProperty receives the field value and must return one of the scalar
// types (string, bool, int, int32, int64, float32, float64, time.Time,
// []byte, language.Tag). FromProperty receives the stored value in its
// natural Go form (string, int64, float64, bool, time.Time or []byte) and
// must return a value assignable to the field.
//
// Example:
//
//	type rgb struct{ R, G, B uint8 }
//
//	type rgbConverter struct{}
//
//	func (rgbConverter) ToProperty(v any) (any, error) {
//		c := v.(rgb)
//		return fmt.Sprintf("%d:%d:%d", c.R, c.G, c.B), nil
//	}
//
//	func (rgbConverter) FromProperty(v any) (any, error) {
//		var c rgb
//		_, err := fmt.Sscanf(v.(string), "%d:%d:%d", &c.R, &c.G, &c.B)
//		return c, err
//	}
type Converter interface {
	ToProperty(v any) (any, error)
	FromProperty(v any) (any, error)
}

var (
	timeType        = reflect.TypeOf(time.Time{})
	languageTagType = reflect.TypeOf(language.Tag{})
	byteSliceType   = reflect.TypeOf([]byte(nil))
	anyType         = reflect.TypeOf((*any)(nil)).Elem()
)

// isScalarType reports whether t converts directly to a store scalar.
func isScalarType(t reflect.Type) bool {
	if t == timeType || t == languageTagType || t == byteSliceType {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int32, reflect.Int64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// toValue converts one scalar Go value into a store value.
func toValue(v reflect.Value) (store.Value, error) {
	switch t := v.Type(); {
	case t == timeType:
		return store.DateValue(v.Interface().(time.Time)), nil
	case t == languageTagType:
		return store.StringValue(v.Interface().(language.Tag).String()), nil
	case t == byteSliceType:
		return store.BinaryValue(v.Bytes()), nil
	}
	switch v.Kind() {
	case reflect.String:
		return store.StringValue(v.String()), nil
	case reflect.Bool:
		return store.BoolValue(v.Bool()), nil
	case reflect.Int, reflect.Int32, reflect.Int64:
		return store.LongValue(v.Int()), nil
	case reflect.Float32, reflect.Float64:
		return store.DoubleValue(v.Float()), nil
	}
	return store.Value{}, fmt.Errorf("cannot store %s: %w", v.Type(), ErrUnsupportedType)
}

// fromValue converts a store value into the target scalar type. Kinds are
// coerced where a lossless interpretation exists, so a converter or a
// protected property can read a long into a string field and so on.
func fromValue(t reflect.Type, v store.Value) (reflect.Value, error) {
	switch {
	case t == timeType:
		if v.Kind == store.KindDate {
			return reflect.ValueOf(v.Time), nil
		}
		tm, err := time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("failed to parse %q as time: %w", v.String(), err)
		}
		return reflect.ValueOf(tm), nil
	case t == languageTagType:
		tag, err := language.Parse(v.String())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("failed to parse %q as language tag: %w", v.String(), err)
		}
		return reflect.ValueOf(tag), nil
	case t == byteSliceType:
		if v.Kind == store.KindBinary {
			return reflect.ValueOf(v.Data), nil
		}
		return reflect.ValueOf([]byte(v.String())), nil
	case t == anyType:
		return reflect.ValueOf(naturalValue(v)), nil
	}

	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(v.String()).Convert(t), nil
	case reflect.Bool:
		if v.Kind == store.KindBool {
			return reflect.ValueOf(v.Bool).Convert(t), nil
		}
		b, err := strconv.ParseBool(v.String())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("failed to parse %q as bool: %w", v.String(), err)
		}
		return reflect.ValueOf(b).Convert(t), nil
	case reflect.Int, reflect.Int32, reflect.Int64:
		var i int64
		switch v.Kind {
		case store.KindLong:
			i = v.Int
		case store.KindDouble:
			i = int64(v.Float)
		default:
			parsed, err := strconv.ParseInt(v.String(), 10, 64)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("failed to parse %q as integer: %w", v.String(), err)
			}
			i = parsed
		}
		return reflect.ValueOf(i).Convert(t), nil
	case reflect.Float32, reflect.Float64:
		var f float64
		switch v.Kind {
		case store.KindDouble:
			f = v.Float
		case store.KindLong:
			f = float64(v.Int)
		default:
			parsed, err := strconv.ParseFloat(v.String(), 64)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("failed to parse %q as float: %w", v.String(), err)
			}
			f = parsed
		}
		return reflect.ValueOf(f).Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot read %s value into %s: %w", v.Kind, t, ErrUnsupportedType)
}

// naturalValue returns the store value in its natural Go form. Used for
// map[string]any dynamic maps and as converter input.
func naturalValue(v store.Value) any {
	switch v.Kind {
	case store.KindBinary:
		return v.Data
	case store.KindDate:
		return v.Time
	case store.KindLong:
		return v.Int
	case store.KindDouble:
		return v.Float
	case store.KindBool:
		return v.Bool
	default:
		return v.Str
	}
}

// serializeValue gob-encodes a field value for a serialized property.
func serializeValue(v reflect.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).EncodeValue(v); err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", v.Type(), err)
	}
	return buf.Bytes(), nil
}

// deserializeValue gob-decodes a serialized property payload into a fresh
// value of type t.
func deserializeValue(t reflect.Type, data []byte) (reflect.Value, error) {
	out := reflect.New(t)
	if err := gob.NewDecoder(bytes.NewReader(data)).DecodeValue(out.Elem()); err != nil {
		return reflect.Value{}, fmt.Errorf("failed to deserialize %s: %w", t, err)
	}
	return out.Elem(), nil
}
