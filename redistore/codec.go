package redistore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbormap/arbor/store"
)

// wireValue is the JSON form of one store.Value inside a node hash. The
// kind is carried by name so payloads stay readable in redis-cli.
type wireValue struct {
	Kind  string    `json:"kind"`
	Str   string    `json:"str,omitempty"`
	Data  []byte    `json:"data,omitempty"`
	Time  time.Time `json:"time,omitempty"`
	Int   int64     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
	Weak  bool      `json:"weak,omitempty"`
}

// wireProp is the JSON form of one property: the multiplicity flag plus the
// encoded values.
type wireProp struct {
	Multiple bool        `json:"multiple"`
	Values   []wireValue `json:"values"`
}

func encodeValue(v store.Value) wireValue {
	out := wireValue{Kind: v.Kind.String()}
	switch v.Kind {
	case store.KindString:
		out.Str = v.Str
	case store.KindBinary:
		out.Data = v.Data
	case store.KindDate:
		out.Time = v.Time
	case store.KindLong:
		out.Int = v.Int
	case store.KindDouble:
		out.Float = v.Float
	case store.KindBool:
		out.Bool = v.Bool
	case store.KindReference:
		out.Str = v.Str
		out.Weak = v.Weak
	}
	return out
}

func decodeValue(w wireValue) (store.Value, error) {
	switch w.Kind {
	case "string":
		return store.StringValue(w.Str), nil
	case "binary":
		return store.BinaryValue(w.Data), nil
	case "date":
		return store.DateValue(w.Time), nil
	case "long":
		return store.LongValue(w.Int), nil
	case "double":
		return store.DoubleValue(w.Float), nil
	case "bool":
		return store.BoolValue(w.Bool), nil
	case "reference":
		if w.Weak {
			return store.WeakReferenceValue(w.Str), nil
		}
		return store.ReferenceValue(w.Str), nil
	}
	return store.Value{}, fmt.Errorf("redistore: unknown value kind %q", w.Kind)
}

// encodeProperty renders a property into its hash field payload.
func encodeProperty(multiple bool, values []store.Value) (string, error) {
	w := wireProp{Multiple: multiple, Values: make([]wireValue, len(values))}
	for i, v := range values {
		w.Values[i] = encodeValue(v)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("redistore: failed to encode property: %w", err)
	}
	return string(data), nil
}

// decodeProperty parses a hash field payload back into a property.
func decodeProperty(name, payload string) (*store.Property, error) {
	var w wireProp
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, fmt.Errorf("redistore: failed to decode property %q: %w", name, err)
	}
	p := &store.Property{Name: name, Multiple: w.Multiple, Values: make([]store.Value, len(w.Values))}
	for i, wv := range w.Values {
		v, err := decodeValue(wv)
		if err != nil {
			return nil, err
		}
		p.Values[i] = v
	}
	return p, nil
}
