package types

import (
	"fmt"
	"time"
)

// ServerTimestamp returns the write-time placeholder that the store
// replaces with its wall clock, in epoch milliseconds.
func ServerTimestamp() Node {
	return Object(map[string]Node{"$op": String("now")})
}

// IsServerTimestamp reports whether n is a server-value sentinel. Both
// {"$op":"now"} and the legacy {".sv":"timestamp"} spellings are accepted.
func IsServerTimestamp(n Node) bool {
	if n.kind != KindObject || len(n.obj) != 1 {
		return false
	}
	if v, ok := n.obj["$op"]; ok {
		s, isStr := v.AsString()
		return isStr && s == "now"
	}
	if v, ok := n.obj[".sv"]; ok {
		s, isStr := v.AsString()
		return isStr && s == "timestamp"
	}
	return false
}

// ResolveServerValues returns a copy of n with every sentinel, at any
// depth including inside arrays, replaced by now in epoch milliseconds.
func ResolveServerValues(n Node, now time.Time) Node {
	ms := Number(float64(now.UnixMilli()))
	return resolve(n, ms)
}

func resolve(n Node, ms Node) Node {
	if IsServerTimestamp(n) {
		return ms
	}
	switch n.kind {
	case KindArray:
		arr := make([]Node, len(n.arr))
		for i, it := range n.arr {
			arr[i] = resolve(it, ms)
		}
		return Node{kind: KindArray, arr: arr}
	case KindObject:
		obj := make(map[string]Node, len(n.obj))
		for k, v := range n.obj {
			obj[k] = resolve(v, ms)
		}
		return Node{kind: KindObject, obj: obj}
	}
	return n
}

// Validate checks that every object key below n is non-empty and free of
// slashes.
func Validate(n Node) error {
	switch n.kind {
	case KindArray:
		for _, it := range n.arr {
			if err := Validate(it); err != nil {
				return err
			}
		}
	case KindObject:
		for k, v := range n.obj {
			if !ValidKey(k) {
				return fmt.Errorf("%w: invalid key %q", ErrInvalidPayload, k)
			}
			if err := Validate(v); err != nil {
				return err
			}
		}
	}
	return nil
}
