package types

// Snapshot is an immutable view of the value at a path, as delivered to
// readers and listeners.
type Snapshot struct {
	Key    string
	Path   string
	value  Node
	exists bool
}

// NewSnapshot wraps value read from path. A missing value and an explicit
// null are both reported by Exists() == false.
func NewSnapshot(path string, value Node, found bool) Snapshot {
	return Snapshot{
		Key:    LastSegment(path),
		Path:   NormalizePath(path),
		value:  value.Clone(),
		exists: found && !value.IsNull(),
	}
}

// Exists reports whether a non-null value was present
func (s Snapshot) Exists() bool { return s.exists }

// Value returns a copy of the node
func (s Snapshot) Value() Node { return s.value.Clone() }

// Val returns the value as plain Go data (see Node.Interface)
func (s Snapshot) Val() interface{} { return s.value.Interface() }

// Child returns the snapshot of a descendant
func (s Snapshot) Child(p string) Snapshot {
	n := s.value
	found := s.exists
	for _, seg := range SplitPath(p) {
		n, found = n.Child(seg)
		if !found {
			break
		}
	}
	return NewSnapshot(JoinPath(s.Path, p), n, found)
}

// ForEach calls fn for each child in key order until fn returns true.
// It reports whether iteration was stopped early.
func (s Snapshot) ForEach(fn func(Snapshot) bool) bool {
	for _, k := range s.value.Keys() {
		c, _ := s.value.Child(k)
		if fn(NewSnapshot(JoinPath(s.Path, k), c, true)) {
			return true
		}
	}
	return false
}
