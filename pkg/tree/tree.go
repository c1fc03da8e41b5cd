package tree

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/cord/pkg/types"
)

// Tree is the authoritative in-memory document. Mutations are serialized
// by a write lock; reads share a read lock and always return deep copies.
type Tree struct {
	mu   sync.RWMutex
	root types.Node
	now  func() time.Time
}

// New returns a tree seeded with root. A null or non-object root becomes
// an empty object.
func New(root types.Node) *Tree {
	if !root.IsObject() {
		root = types.EmptyObject()
	}
	return &Tree{root: root.Clone(), now: time.Now}
}

// SetClock replaces the wall clock used to resolve server values
func (t *Tree) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Get returns a copy of the node at path. found is false when any
// segment is missing, which is distinct from an explicitly stored null.
func (t *Tree) Get(path string) (value types.Node, found bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.lookup(types.SplitPath(path))
	if !ok {
		return types.Null(), false
	}
	return n.Clone(), true
}

// Snapshot returns a deep copy of the whole tree
func (t *Tree) Snapshot() types.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.Clone()
}

// Set replaces the node at path after resolving server values, creating
// intermediate objects and overwriting non-object intermediates. Setting
// the root requires an object (null clears the tree).
func (t *Tree) Set(path string, value types.Node) error {
	if err := types.Validate(value); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set(types.SplitPath(path), types.ResolveServerValues(value, t.now()))
}

// Update shallow-merges the top-level keys of patch into the object at
// path. A null patch value removes that key. Nested children of keys not
// named in patch are untouched; named keys are replaced wholesale.
func (t *Tree) Update(path string, patch types.Node) error {
	if !patch.IsObject() {
		return fmt.Errorf("%w: merge value must be an object, got %s", types.ErrInvalidPayload, patch.Kind())
	}
	if err := types.Validate(patch); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parts := types.SplitPath(path)
	merged := types.EmptyObject()
	if cur, ok := t.lookup(parts); ok && cur.IsObject() {
		merged = cur.Clone()
	}
	resolved := types.ResolveServerValues(patch, t.now())
	for _, k := range resolved.Keys() {
		v, _ := resolved.Child(k)
		if v.IsNull() {
			merged.DeleteChild(k)
			continue
		}
		merged.SetChild(k, v)
	}
	return t.set(parts, merged)
}

// Remove deletes the node at path. Removing the root clears the tree.
// It reports whether anything was deleted.
func (t *Tree) Remove(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(types.SplitPath(path))
}

// BatchUpdate applies every entry under one write lock: null values are
// removals, anything else is a set. Entries are applied in path order so
// that a parent and its descendants in the same batch resolve
// deterministically.
func (t *Tree) BatchUpdate(updates map[string]types.Node) error {
	paths := make([]string, 0, len(updates))
	for p, v := range updates {
		if err := types.Validate(v); err != nil {
			return fmt.Errorf("batch entry %q: %w", p, err)
		}
		if types.NormalizePath(p) == types.RootPath && !v.IsNull() && !v.IsObject() {
			return fmt.Errorf("%w: root value must be an object", types.ErrInvalidPayload)
		}
		paths = append(paths, p)
	}
	sortPaths(paths)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, p := range paths {
		v := updates[p]
		parts := types.SplitPath(p)
		if v.IsNull() {
			t.remove(parts)
			continue
		}
		if err := t.set(parts, types.ResolveServerValues(v, now)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) lookup(parts []string) (types.Node, bool) {
	n := t.root
	for _, seg := range parts {
		c, ok := n.Child(seg)
		if !ok {
			return types.Node{}, false
		}
		n = c
	}
	return n, true
}

func (t *Tree) set(parts []string, value types.Node) error {
	if len(parts) == 0 {
		switch {
		case value.IsNull():
			t.root = types.EmptyObject()
		case value.IsObject():
			t.root = value
		default:
			return fmt.Errorf("%w: root value must be an object, got %s", types.ErrInvalidPayload, value.Kind())
		}
		return nil
	}

	if !t.root.IsObject() {
		t.root = types.EmptyObject()
	}
	parent := t.root
	for _, seg := range parts[:len(parts)-1] {
		c, ok := parent.Child(seg)
		if !ok || !c.IsObject() {
			c = types.EmptyObject()
			parent.SetChild(seg, c)
		}
		parent = c
	}
	parent.SetChild(parts[len(parts)-1], value)
	return nil
}

func (t *Tree) remove(parts []string) bool {
	if len(parts) == 0 {
		t.root = types.EmptyObject()
		return true
	}
	parent, ok := t.lookup(parts[:len(parts)-1])
	if !ok || !parent.IsObject() {
		return false
	}
	return parent.DeleteChild(parts[len(parts)-1])
}

// sortPaths orders by depth first so ancestors are written before
// descendants, then lexically for determinism.
func sortPaths(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := len(types.SplitPath(paths[i])), len(types.SplitPath(paths[j]))
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
}
