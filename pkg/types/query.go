package types

import (
	"fmt"
	"sort"
)

// OrderByKey is the only ordering the store understands
const OrderByKey = "key"

// Query is a declarative filter applied to object-valued nodes. Arrays and
// scalars pass through unfiltered.
type Query struct {
	OrderBy     string  `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	LimitToLast int     `json:"limitToLast,omitempty" yaml:"limitToLast,omitempty"`
	StartAt     *string `json:"startAt,omitempty" yaml:"startAt,omitempty"`
	EndAt       *string `json:"endAt,omitempty" yaml:"endAt,omitempty"`
	EqualTo     *string `json:"equalTo,omitempty" yaml:"equalTo,omitempty"`
}

// IsZero reports whether q filters nothing
func (q Query) IsZero() bool {
	return q.OrderBy == "" && q.LimitToLast <= 0 && q.StartAt == nil && q.EndAt == nil && q.EqualTo == nil
}

// Bound renders a query bound the way keys are compared: as a string
func Bound(v interface{}) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case Node:
		if str, ok := t.AsString(); ok {
			s = str
		} else {
			s = t.String()
		}
	default:
		s = fmt.Sprint(v)
	}
	return &s
}

// Apply filters the children of an object node. Entries are always
// ordered by key before the limit is taken because objects carry no
// insertion order.
func (q Query) Apply(n Node) Node {
	if n.kind != KindObject || q.IsZero() {
		return n
	}
	keys := make([]string, 0, len(n.obj))
	for k := range n.obj {
		if q.StartAt != nil && k < *q.StartAt {
			continue
		}
		if q.EndAt != nil && k > *q.EndAt {
			continue
		}
		if q.EqualTo != nil && k != *q.EqualTo {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if q.LimitToLast > 0 && len(keys) > q.LimitToLast {
		keys = keys[len(keys)-q.LimitToLast:]
	}
	obj := make(map[string]Node, len(keys))
	for _, k := range keys {
		obj[k] = n.obj[k]
	}
	return Node{kind: KindObject, obj: obj}
}

// Key identifies a query for matching listeners on Off
func (q Query) Key() string {
	s := q.OrderBy + "|" + fmt.Sprint(q.LimitToLast)
	for _, b := range []*string{q.StartAt, q.EndAt, q.EqualTo} {
		if b == nil {
			s += "|-"
		} else {
			s += "|=" + *b
		}
	}
	return s
}
