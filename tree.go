package stattree

import (
	"slices"
	"sort"
	"strings"
)

// Tree is an ordered mapping from key to value. Values are scalars,
// producers, nested *Tree values or slices of those. Trees returned by
// Snapshot are private copies and may be modified freely.
type Tree struct {
	keys      []string
	values    map[string]any
	collapsed bool
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{values: make(map[string]any)}
}

// Set stores v under key, keeping the key's position if it already exists.
func (t *Tree) Set(key string, v any) {
	if t.values == nil {
		t.values = make(map[string]any)
	}
	if _, ok := t.values[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.values[key] = v
}

// Get returns the value stored under key.
func (t *Tree) Get(key string) (any, bool) {
	if t == nil {
		return nil, false
	}
	v, ok := t.values[key]
	return v, ok
}

// Delete removes key.
func (t *Tree) Delete(key string) {
	if _, ok := t.values[key]; !ok {
		return
	}
	delete(t.values, key)
	if i := slices.Index(t.keys, key); i >= 0 {
		t.keys = slices.Delete(t.keys, i, i+1)
	}
}

// Keys returns the keys in insertion order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	return slices.Clone(t.keys)
}

// Len returns the number of keys.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Collapsed reports whether the tree is marked collapsed for display.
func (t *Tree) Collapsed() bool {
	return t != nil && t.collapsed
}

// SetCollapsed marks the tree collapsed for display.
func (t *Tree) SetCollapsed(collapsed bool) {
	t.collapsed = collapsed
}

// Range calls fn for each entry in order until fn returns false.
func (t *Tree) Range(fn func(key string, v any) bool) {
	if t == nil {
		return
	}
	for _, k := range t.keys {
		if !fn(k, t.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy of the tree structure. Leaf values and
// producers are shared.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	c := &Tree{
		keys:      slices.Clone(t.keys),
		values:    make(map[string]any, len(t.values)),
		collapsed: t.collapsed,
	}
	for k, v := range t.values {
		if sub, ok := v.(*Tree); ok {
			v = sub.Clone()
		}
		c.values[k] = v
	}
	return c
}

// Map converts the tree into plain nested maps, invoking producers.
// Collapsed subtrees are included.
func (t *Tree) Map() map[string]any {
	if t == nil {
		return nil
	}
	m := make(map[string]any, len(t.keys))
	for _, k := range t.keys {
		m[k] = plain(Evaluate(t.values[k]))
	}
	return m
}

func plain(v any) any {
	switch x := v.(type) {
	case *Tree:
		return x.Map()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(Evaluate(e))
		}
		return out
	}
	return v
}

// TreeFromMap builds a tree from nested maps. Keys are sorted since map
// order is undefined.
func TreeFromMap(m map[string]any) *Tree {
	t := NewTree()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.Set(k, fromPlain(m[k]))
	}
	return t
}

func fromPlain(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return TreeFromMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = fromPlain(e)
		}
		return out
	}
	return v
}

// SplitPath splits a slash separated path into its non-empty segments.
func SplitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// Resolve walks t one segment at a time. It reports false on any miss;
// there are no partial results. Producers met along the way are invoked.
func Resolve(t *Tree, segments ...string) (any, bool) {
	var cur any = t
	for _, seg := range segments {
		sub, ok := Evaluate(cur).(*Tree)
		if !ok {
			return nil, false
		}
		if cur, ok = sub.Get(seg); !ok {
			return nil, false
		}
	}
	return cur, true
}

// Lookup is Resolve for generic decoded data: each key indexes a
// *Tree, a map[string]any or, when it is an int, a []any.
func Lookup(data any, keys ...any) (any, bool) {
	cur := data
	for _, key := range keys {
		switch src := Evaluate(cur).(type) {
		case *Tree:
			k, ok := key.(string)
			if !ok {
				return nil, false
			}
			if cur, ok = src.Get(k); !ok {
				return nil, false
			}
		case map[string]any:
			k, ok := key.(string)
			if !ok {
				return nil, false
			}
			if cur, ok = src[k]; !ok {
				return nil, false
			}
		case []any:
			i, ok := key.(int)
			if !ok || i < 0 || i >= len(src) {
				return nil, false
			}
			cur = src[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
