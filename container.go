package stattree

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// Container is a live node of the stat tree. It holds child containers and
// the state of every stat exposed by the owners bound to it.
//
// A stat write holds the writing owner's container lock while ancestor
// aggregators lock their own containers, so container locks are only ever
// acquired from the leaves towards the root.
type Container struct {
	mu        sync.RWMutex
	path      string
	entries   *Tree
	collapsed atomic.Bool
}

func newContainer(path string) *Container {
	return &Container{path: path, entries: NewTree()}
}

// Path returns the slash separated path of the container from the root.
func (c *Container) Path() string {
	return c.path
}

// Collapsed reports whether the container is hidden from rendered output.
func (c *Container) Collapsed() bool {
	return c.collapsed.Load()
}

// SetCollapsed marks the container collapsed. It is a display hint only.
func (c *Container) SetCollapsed(collapsed bool) {
	c.collapsed.Store(collapsed)
}

// child returns the child container called name, creating it if needed.
func (c *Container) child(name string) (*Container, error) {
	c.mu.RLock()
	v, exists := c.entries.Get(name)
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		if v, exists = c.entries.Get(name); !exists {
			v = newContainer(joinPath(c.path, name))
			c.entries.Set(name, v)
		}
		c.mu.Unlock()
	}

	sub, ok := v.(*Container)
	if !ok {
		return nil, fmt.Errorf("%s holds a stat: %w", joinPath(c.path, name), ErrPathConflict)
	}
	return sub, nil
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "/" + name
}

func (c *Container) lookupChild(name string) (*Container, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, _ := c.entries.Get(name)
	sub, ok := v.(*Container)
	return sub, ok
}

// initialize stores v under name unless something is already there.
func (c *Container) initialize(name string, newState func() any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries.Get(name); exists {
		return
	}
	if v := newState(); v != nil {
		c.entries.Set(name, v)
	}
}

// Snapshot copies the subtree rooted at c. Only one container is locked at
// a time, so the copy is not a single point in time.
func (c *Container) Snapshot() *Tree {
	type pending struct {
		key string
		c   *Container
	}

	t := NewTree()
	t.SetCollapsed(c.Collapsed())

	var children []pending
	c.mu.RLock()
	c.entries.Range(func(key string, v any) bool {
		if sub, ok := v.(*Container); ok {
			// Reserve the slot so ordering survives the unlocked recursion.
			t.Set(key, nil)
			children = append(children, pending{key, sub})
			return true
		}
		t.Set(key, snapshotValue(v))
		return true
	})
	c.mu.RUnlock()

	for _, p := range children {
		t.Set(p.key, p.c.Snapshot())
	}
	return t
}

// snapshotter is implemented by stat state with internal structure.
type snapshotter interface {
	snapshot() any
}

func snapshotValue(v any) any {
	switch x := v.(type) {
	case snapshotter:
		return x.snapshot()
	case *Tree:
		out := NewTree()
		out.SetCollapsed(x.Collapsed())
		x.Range(func(key string, sub any) bool {
			out.Set(key, snapshotValue(sub))
			return true
		})
		return out
	}
	return v
}
