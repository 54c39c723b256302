// Package objectutil implements the object-identity primitives the cache
// uses in place of a fixed schema: structural equality, identity-key
// derivation (id, falling back to url), and the list-splicing helpers the
// query and propagation layers build on.
package objectutil

import "fmt"

// IdentityKey returns the string obj is matched by across lists: its "id"
// field if present and non-nil, else its "url" field, else "".
func IdentityKey(obj map[string]any) string {
	if obj == nil {
		return ""
	}
	if id, ok := obj["id"]; ok && id != nil {
		return fmt.Sprintf("id:%v", id)
	}
	if u, ok := obj["url"]; ok && u != nil {
		return fmt.Sprintf("url:%v", u)
	}
	return ""
}

// FindIndex returns the index of the element in list sharing obj's identity
// key, or -1 if obj has no identity key or no match is found.
func FindIndex(list []map[string]any, obj map[string]any) int {
	key := IdentityKey(obj)
	if key == "" {
		return -1
	}
	for i, o := range list {
		if IdentityKey(o) == key {
			return i
		}
	}
	return -1
}

// Equal reports whether a and b are structurally equal: same keys, and
// recursively equal values over the map[string]any/[]any/scalar shapes that
// result from decoding JSON.
func Equal(a, b map[string]any) bool {
	return equalValue(a, b)
}

func equalValue(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, present := bv[k]
			if !present || !equalValue(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Dedupe removes later duplicates by identity key, keeping the first
// occurrence. Objects with no identity key are never treated as duplicates
// of one another.
func Dedupe(list []map[string]any) []map[string]any {
	seen := make(map[string]bool, len(list))
	out := make([]map[string]any, 0, len(list))
	for _, o := range list {
		k := IdentityKey(o)
		if k != "" {
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		out = append(out, o)
	}
	return out
}

// ReplaceIdentical returns the subset of newList that is genuinely fresh:
// entries with no counterpart in oldList, or whose counterpart differs
// structurally.
func ReplaceIdentical(newList, oldList []map[string]any) []map[string]any {
	var fresh []map[string]any
	for _, n := range newList {
		idx := FindIndex(oldList, n)
		if idx < 0 || !Equal(oldList[idx], n) {
			fresh = append(fresh, n)
		}
	}
	return fresh
}

// MergeReplaced builds the list newList describes, but with entries that
// are structurally unchanged from oldList kept as the old reference rather
// than the freshly decoded one.
func MergeReplaced(newList, oldList []map[string]any) []map[string]any {
	merged := make([]map[string]any, len(newList))
	for i, n := range newList {
		if idx := FindIndex(oldList, n); idx >= 0 && Equal(oldList[idx], n) {
			merged[i] = oldList[idx]
		} else {
			merged[i] = n
		}
	}
	return merged
}

// JoinLists concatenates newList with the largest trailing run of oldList
// that shares no identity with any element of newList. This is what lets a
// re-walked list prefix be stitched back onto the previously known tail
// instead of truncating it.
func JoinLists(newList, oldList []map[string]any) []map[string]any {
	inNew := make(map[string]bool, len(newList))
	for _, n := range newList {
		if k := IdentityKey(n); k != "" {
			inNew[k] = true
		}
	}
	start := len(oldList)
	for start > 0 {
		k := IdentityKey(oldList[start-1])
		if k != "" && inNew[k] {
			break
		}
		start--
	}
	result := make([]map[string]any, 0, len(newList)+(len(oldList)-start))
	result = append(result, newList...)
	result = append(result, oldList[start:]...)
	return result
}

// Clone deep-copies a decoded JSON value (map[string]any, []any, or a
// scalar, which is returned as-is since scalars are already immutable).
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return t
	}
}
