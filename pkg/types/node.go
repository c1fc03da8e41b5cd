package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Kind identifies which variant a Node holds
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Node is a single value in the tree. The zero value is null.
//
// Arrays are leaves: the store never descends into them for partial
// updates. Objects map non-empty, slash-free keys to child nodes.
type Node struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Node
	obj  map[string]Node
}

// Null returns the null node
func Null() Node { return Node{} }

// Bool returns a boolean node
func Bool(v bool) Node { return Node{kind: KindBool, b: v} }

// Number returns a numeric node
func Number(v float64) Node { return Node{kind: KindNumber, n: v} }

// String returns a string node
func String(v string) Node { return Node{kind: KindString, s: v} }

// Array returns an array node holding copies of items
func Array(items ...Node) Node {
	arr := make([]Node, len(items))
	for i, it := range items {
		arr[i] = it.Clone()
	}
	return Node{kind: KindArray, arr: arr}
}

// Object returns an object node holding copies of fields
func Object(fields map[string]Node) Node {
	obj := make(map[string]Node, len(fields))
	for k, v := range fields {
		obj[k] = v.Clone()
	}
	return Node{kind: KindObject, obj: obj}
}

// EmptyObject returns an object with no children
func EmptyObject() Node {
	return Node{kind: KindObject, obj: map[string]Node{}}
}

// Kind reports the variant held by n
func (n Node) Kind() Kind { return n.kind }

func (n Node) IsNull() bool   { return n.kind == KindNull }
func (n Node) IsObject() bool { return n.kind == KindObject }
func (n Node) IsArray() bool  { return n.kind == KindArray }

// AsBool returns the boolean value and whether n is a bool
func (n Node) AsBool() (bool, bool) { return n.b, n.kind == KindBool }

// AsNumber returns the numeric value and whether n is a number
func (n Node) AsNumber() (float64, bool) { return n.n, n.kind == KindNumber }

// AsString returns the string value and whether n is a string
func (n Node) AsString() (string, bool) { return n.s, n.kind == KindString }

// Len returns the number of children of an object or items of an array
func (n Node) Len() int {
	switch n.kind {
	case KindObject:
		return len(n.obj)
	case KindArray:
		return len(n.arr)
	}
	return 0
}

// Items returns a copy of the array items, or nil for non-arrays
func (n Node) Items() []Node {
	if n.kind != KindArray {
		return nil
	}
	out := make([]Node, len(n.arr))
	for i, it := range n.arr {
		out[i] = it.Clone()
	}
	return out
}

// Child returns the child stored under key. The second result is false
// when n is not an object or has no such key.
func (n Node) Child(key string) (Node, bool) {
	if n.kind != KindObject {
		return Node{}, false
	}
	c, ok := n.obj[key]
	return c, ok
}

// Keys returns the object's keys in ascending byte order
func (n Node) Keys() []string {
	if n.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(n.obj))
	for k := range n.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep, independent copy of n
func (n Node) Clone() Node {
	switch n.kind {
	case KindArray:
		arr := make([]Node, len(n.arr))
		for i, it := range n.arr {
			arr[i] = it.Clone()
		}
		return Node{kind: KindArray, arr: arr}
	case KindObject:
		obj := make(map[string]Node, len(n.obj))
		for k, v := range n.obj {
			obj[k] = v.Clone()
		}
		return Node{kind: KindObject, obj: obj}
	default:
		return n
	}
}

// Equal reports deep equality
func (n Node) Equal(o Node) bool {
	if n.kind != o.kind {
		return false
	}
	switch n.kind {
	case KindNull:
		return true
	case KindBool:
		return n.b == o.b
	case KindNumber:
		return n.n == o.n || (math.IsNaN(n.n) && math.IsNaN(o.n))
	case KindString:
		return n.s == o.s
	case KindArray:
		if len(n.arr) != len(o.arr) {
			return false
		}
		for i := range n.arr {
			if !n.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(n.obj) != len(o.obj) {
			return false
		}
		for k, v := range n.obj {
			ov, ok := o.obj[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts n to plain Go values: nil, bool, float64, string,
// []interface{} and map[string]interface{}.
func (n Node) Interface() interface{} {
	switch n.kind {
	case KindBool:
		return n.b
	case KindNumber:
		return n.n
	case KindString:
		return n.s
	case KindArray:
		out := make([]interface{}, len(n.arr))
		for i, it := range n.arr {
			out[i] = it.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(n.obj))
		for k, v := range n.obj {
			out[k] = v.Interface()
		}
		return out
	}
	return nil
}

// FromInterface converts decoded JSON/YAML-shaped Go values into a Node.
// Integer types and json.Number are accepted as numbers; maps with
// non-string keys are rejected.
func FromInterface(v interface{}) (Node, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Node:
		return t.Clone(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Node{}, fmt.Errorf("%w: bad number %q", ErrInvalidPayload, t.String())
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []interface{}:
		arr := make([]Node, len(t))
		for i, it := range t {
			c, err := FromInterface(it)
			if err != nil {
				return Node{}, err
			}
			arr[i] = c
		}
		return Node{kind: KindArray, arr: arr}, nil
	case map[string]interface{}:
		obj := make(map[string]Node, len(t))
		for k, it := range t {
			c, err := FromInterface(it)
			if err != nil {
				return Node{}, err
			}
			obj[k] = c
		}
		return Node{kind: KindObject, obj: obj}, nil
	case map[interface{}]interface{}:
		obj := make(map[string]Node, len(t))
		for k, it := range t {
			ks, ok := k.(string)
			if !ok {
				return Node{}, fmt.Errorf("%w: non-string key %v", ErrInvalidPayload, k)
			}
			c, err := FromInterface(it)
			if err != nil {
				return Node{}, err
			}
			obj[ks] = c
		}
		return Node{kind: KindObject, obj: obj}, nil
	default:
		// Fall back to a JSON round trip for structs and typed maps.
		raw, err := json.Marshal(v)
		if err != nil {
			return Node{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		var out Node
		if err := out.UnmarshalJSON(raw); err != nil {
			return Node{}, err
		}
		return out, nil
	}
}

// MustFromInterface is FromInterface for literals known to be valid
func MustFromInterface(v interface{}) Node {
	n, err := FromInterface(v)
	if err != nil {
		panic(err)
	}
	return n
}

// MarshalJSON implements json.Marshaler. Object keys are emitted in
// sorted order so serialized snapshots are stable.
func (n Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n Node) writeJSON(buf *bytes.Buffer) error {
	switch n.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if n.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if math.IsNaN(n.n) || math.IsInf(n.n, 0) {
			return fmt.Errorf("unsupported number %v", n.n)
		}
		raw, err := json.Marshal(n.n)
		if err != nil {
			return err
		}
		buf.Write(raw)
	case KindString:
		raw, err := json.Marshal(n.s)
		if err != nil {
			return err
		}
		buf.Write(raw)
	case KindArray:
		buf.WriteByte('[')
		for i, it := range n.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range n.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			raw, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(raw)
			buf.WriteByte(':')
			if err := n.obj[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	v, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// String renders n as compact JSON, for logs and CLI output
func (n Node) String() string {
	raw, err := n.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", n.kind, err)
	}
	return string(raw)
}

// SetChild stores child under key in place, converting n into an empty
// object first when it holds anything else. Objects share their backing
// map between copies of the same Node, so callers outside the tree should
// Clone before mutating.
func (n *Node) SetChild(key string, child Node) {
	if n.kind != KindObject || n.obj == nil {
		*n = EmptyObject()
	}
	n.obj[key] = child
}

// DeleteChild removes key from an object node in place
func (n *Node) DeleteChild(key string) bool {
	if n.kind != KindObject {
		return false
	}
	if _, ok := n.obj[key]; !ok {
		return false
	}
	delete(n.obj, key)
	return true
}
