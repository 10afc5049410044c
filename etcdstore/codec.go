package etcdstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbormap/arbor/store"
)

// nodeDoc is the JSON document stored per node. Child order is part of the
// document, so listing children never needs a range scan.
type nodeDoc struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Mixins   []string           `json:"mixins,omitempty"`
	Children []string           `json:"children,omitempty"`
	Props    map[string]propDoc `json:"props,omitempty"`
}

type propDoc struct {
	Multiple bool       `json:"multiple"`
	Values   []valueDoc `json:"values"`
}

// valueDoc is the JSON form of one store.Value. The kind is carried by name
// so documents stay readable in etcdctl output.
type valueDoc struct {
	Kind  string    `json:"kind"`
	Str   string    `json:"str,omitempty"`
	Data  []byte    `json:"data,omitempty"`
	Time  time.Time `json:"time,omitempty"`
	Int   int64     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Bool  bool      `json:"bool,omitempty"`
	Weak  bool      `json:"weak,omitempty"`
}

func encodeValue(v store.Value) valueDoc {
	out := valueDoc{Kind: v.Kind.String()}
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

func decodeValue(d valueDoc) (store.Value, error) {
	switch d.Kind {
	case "string":
		return store.StringValue(d.Str), nil
	case "binary":
		return store.BinaryValue(d.Data), nil
	case "date":
		return store.DateValue(d.Time), nil
	case "long":
		return store.LongValue(d.Int), nil
	case "double":
		return store.DoubleValue(d.Float), nil
	case "bool":
		return store.BoolValue(d.Bool), nil
	case "reference":
		if d.Weak {
			return store.WeakReferenceValue(d.Str), nil
		}
		return store.ReferenceValue(d.Str), nil
	}
	return store.Value{}, fmt.Errorf("etcdstore: unknown value kind %q", d.Kind)
}

func encodeProp(multiple bool, values []store.Value) propDoc {
	d := propDoc{Multiple: multiple, Values: make([]valueDoc, len(values))}
	for i, v := range values {
		d.Values[i] = encodeValue(v)
	}
	return d
}

func decodeProp(name string, d propDoc) (*store.Property, error) {
	p := &store.Property{Name: name, Multiple: d.Multiple, Values: make([]store.Value, len(d.Values))}
	for i, dv := range d.Values {
		v, err := decodeValue(dv)
		if err != nil {
			return nil, err
		}
		p.Values[i] = v
	}
	return p, nil
}

func marshalDoc(doc *nodeDoc) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("etcdstore: failed to encode node: %w", err)
	}
	return string(data), nil
}

func unmarshalDoc(path string, data []byte) (*nodeDoc, error) {
	var doc nodeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("etcdstore: failed to decode node at %s: %w", path, err)
	}
	return &doc, nil
}

// removeName drops one occurrence of name from an ordered child list.
func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i:i], names[i+1:]...)
		}
	}
	return names
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
