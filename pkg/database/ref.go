package database

import (
	"context"
	"fmt"

	"github.com/cuemby/cord/pkg/protocol"
	"github.com/cuemby/cord/pkg/reconciler"
	"github.com/cuemby/cord/pkg/types"
)

// Ref addresses a path, optionally narrowed by a query. Refs are immutable;
// builder methods return new refs.
type Ref struct {
	db    *Database
	path  string
	query types.Query
}

// Path returns the normalized path
func (r *Ref) Path() string { return r.path }

// Key returns the last path segment, empty at the root
func (r *Ref) Key() string { return types.LastSegment(r.path) }

// Query returns the ref's query
func (r *Ref) Query() types.Query { return r.query }

// Child returns a reference to a descendant. The query is not inherited.
func (r *Ref) Child(path string) *Ref {
	return &Ref{db: r.db, path: types.JoinPath(r.path, path)}
}

// Parent returns the parent reference, or nil at the root
func (r *Ref) Parent() *Ref {
	if r.path == types.RootPath {
		return nil
	}
	return &Ref{db: r.db, path: types.ParentPath(r.path)}
}

// Root returns a reference to the root
func (r *Ref) Root() *Ref {
	return &Ref{db: r.db}
}

func (r *Ref) withQuery(fn func(q *types.Query)) *Ref {
	next := &Ref{db: r.db, path: r.path, query: r.query}
	fn(&next.query)
	return next
}

// OrderByKey orders children by key
func (r *Ref) OrderByKey() *Ref {
	return r.withQuery(func(q *types.Query) { q.OrderBy = types.OrderByKey })
}

// LimitToLast keeps the last n children in key order
func (r *Ref) LimitToLast(n int) *Ref {
	return r.withQuery(func(q *types.Query) { q.LimitToLast = n })
}

// StartAt keeps children whose key sorts at or after v
func (r *Ref) StartAt(v interface{}) *Ref {
	return r.withQuery(func(q *types.Query) { q.StartAt = types.Bound(v) })
}

// EndAt keeps children whose key sorts at or before v
func (r *Ref) EndAt(v interface{}) *Ref {
	return r.withQuery(func(q *types.Query) { q.EndAt = types.Bound(v) })
}

// EqualTo keeps the child whose key equals v
func (r *Ref) EqualTo(v interface{}) *Ref {
	return r.withQuery(func(q *types.Query) { q.EqualTo = types.Bound(v) })
}

// Get reads the current value. A missing path is not an error; the
// snapshot reports Exists() == false.
func (r *Ref) Get(ctx context.Context) (types.Snapshot, error) {
	value, found, err := r.db.read(ctx, r.path, r.query)
	if err != nil {
		return types.Snapshot{}, err
	}
	return types.NewSnapshot(r.path, r.query.Apply(value), found), nil
}

// Set replaces the value at the path. value may be a types.Node or plain
// Go data; server timestamp sentinels are resolved by the server.
func (r *Ref) Set(ctx context.Context, value interface{}) error {
	n, err := toNode(value)
	if err != nil {
		return err
	}
	return r.db.mutate(ctx, protocol.OpWrite, r.path, protocol.WritePayload{Value: n})
}

// Update shallow-merges an object into the value at the path. At the root
// each key is taken as a path and the whole update is applied as one
// batch, with null values removing their path.
func (r *Ref) Update(ctx context.Context, value interface{}) error {
	n, err := toNode(value)
	if err != nil {
		return err
	}
	if r.path != types.RootPath {
		return r.db.mutate(ctx, protocol.OpMerge, r.path, protocol.WritePayload{Value: n})
	}

	if !n.IsObject() {
		return fmt.Errorf("%w: root update requires an object", types.ErrInvalidPayload)
	}
	updates := make(map[string]types.Node, n.Len())
	for _, k := range n.Keys() {
		updates[k], _ = n.Child(k)
	}
	return r.db.mutate(ctx, protocol.OpBatch, types.RootPath, protocol.BatchPayload{Updates: updates})
}

// Remove deletes the value at the path
func (r *Ref) Remove(ctx context.Context) error {
	return r.db.mutate(ctx, protocol.OpDelete, r.path, nil)
}

// Push creates a child under a fresh chronologically ordered key. With a
// nil value the key is reserved locally and nothing is written.
func (r *Ref) Push(ctx context.Context, value interface{}) (*Ref, error) {
	child := r.Child(r.db.keys.Next())
	if value == nil {
		return child, nil
	}
	if err := child.Set(ctx, value); err != nil {
		return nil, err
	}
	return child, nil
}

// TransactionFunc computes a new value from the current one. Returning
// false aborts without writing.
type TransactionFunc func(current types.Node) (types.Node, bool)

// Transaction reads the value, applies fn and writes the result. There is
// no compare-and-swap: a concurrent writer between the read and the write
// is overwritten.
func (r *Ref) Transaction(ctx context.Context, fn TransactionFunc) (committed bool, snap types.Snapshot, err error) {
	current, err := r.Get(ctx)
	if err != nil {
		return false, types.Snapshot{}, err
	}
	next, ok := fn(current.Value())
	if !ok {
		return false, current, nil
	}
	if err := r.Set(ctx, next); err != nil {
		return false, current, err
	}
	return true, types.NewSnapshot(r.path, next, true), nil
}

// On registers a listener. The initial pass runs in the background: value
// listeners fire once with the current value, child_added listeners once
// per existing child.
func (r *Ref) On(event reconciler.EventClass, handler reconciler.Handler) *reconciler.Subscription {
	sub := r.db.rec.Subscribe(r.path, r.query, event, handler)
	r.db.addListener(r.listenerKey(), sub)
	return sub
}

// Off removes the given listeners of this ref, or all of them when none
// are given
func (r *Ref) Off(subs ...*reconciler.Subscription) {
	r.db.removeListeners(r.listenerKey(), subs)
}

func (r *Ref) listenerKey() string {
	return r.path + "#" + r.query.Key()
}

func (r *Ref) String() string {
	return "/" + r.path
}

func toNode(v interface{}) (types.Node, error) {
	switch t := v.(type) {
	case types.Node:
		return t, nil
	case *types.Node:
		if t == nil {
			return types.Null(), nil
		}
		return *t, nil
	}
	n, err := types.FromInterface(v)
	if err != nil {
		return types.Null(), fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	return n, nil
}
