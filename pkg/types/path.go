package types

import "strings"

// RootPath is the canonical path of the tree root
const RootPath = ""

// NormalizePath strips leading, trailing and repeated slashes.
// NormalizePath(NormalizePath(p)) == NormalizePath(p) for every p.
func NormalizePath(p string) string {
	return strings.Join(SplitPath(p), "/")
}

// SplitPath returns the non-empty segments of p
func SplitPath(p string) []string {
	raw := strings.Split(p, "/")
	parts := raw[:0]
	for _, seg := range raw {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}

// JoinPath joins segments and normalizes the result
func JoinPath(parts ...string) string {
	return NormalizePath(strings.Join(parts, "/"))
}

// LastSegment returns the final segment of p, or "" for the root
func LastSegment(p string) string {
	parts := SplitPath(p)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// ParentPath returns the path of p's parent. The root is its own parent.
func ParentPath(p string) string {
	parts := SplitPath(p)
	if len(parts) == 0 {
		return RootPath
	}
	return strings.Join(parts[:len(parts)-1], "/")
}

// PathsOverlap reports whether a and b are equal or one is an ancestor of
// the other. The comparison is a prefix test on slash-terminated forms so
// "room" does not overlap "rooms".
func PathsOverlap(a, b string) bool {
	na := NormalizePath(a) + "/"
	nb := NormalizePath(b) + "/"
	if na == "/" || nb == "/" {
		return true
	}
	return strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na)
}

// ValidKey reports whether k can name an object child
func ValidKey(k string) bool {
	return k != "" && !strings.Contains(k, "/")
}
