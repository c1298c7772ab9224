package stattree

// Collection is an anonymous owner exposing a fixed set of stats at a path.
// Use it with the stat descriptors it was created with:
//
//	requests := stattree.NewIntStat("requests")
//	c, _ := stattree.NewCollection("/server", requests)
//	requests.Inc(c)
type Collection struct {
	path string
}

// Path returns the path the collection was registered at.
func (c *Collection) Path() string {
	return c.path
}

// Collection registers a new anonymous owner at path exposing stats.
// Collections created at the same path share a container.
func (r *Registry) Collection(path string, stats ...Descriptor) (*Collection, error) {
	c := &Collection{path: path}
	if _, err := r.Register(c, path, stats...); err != nil {
		return nil, err
	}
	return c, nil
}
