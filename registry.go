package stattree

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/coder/quartz"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ObjectID identifies a stat owner within a Registry. Zero is never assigned.
type ObjectID uint64

// Registry binds owner objects to containers of a stat tree and records
// which owner is the parent of which. Owners must be comparable, and are
// normally pointers; the registry keeps them reachable until Reset.
// Long-lived processes that create short-lived owners should expose their
// stats through a Collection or reuse pooled owners, since every owner and
// meter stays referenced, and every meter stays ticked, until Reset.
//
// The registry lock is only held for table lookups and never while a
// container lock is being acquired.
type Registry struct {
	cfg    Config
	logger *zap.Logger
	clock  quartz.Clock

	mu         sync.RWMutex
	root       *Container
	ids        map[any]ObjectID
	owners     map[ObjectID]any
	containers map[ObjectID]*Container
	parents    map[ObjectID]ObjectID
	exposed    map[ObjectID]map[string]Descriptor
	bindings   map[string]map[ObjectID]binding
	nextID     ObjectID
	subID      atomic.Int64

	ticker ticker
}

// binding is the memoized result of an aggregator lookup.
type binding struct {
	owner any
	desc  Descriptor
	found bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:    cfg,
		logger: cfg.Logger,
		clock:  cfg.Clock,
	}
	r.resetLocked()
	return r
}

func (r *Registry) resetLocked() {
	r.root = newContainer("")
	r.ids = make(map[any]ObjectID)
	r.owners = make(map[ObjectID]any)
	r.containers = make(map[ObjectID]*Container)
	r.parents = make(map[ObjectID]ObjectID)
	r.exposed = make(map[ObjectID]map[string]Descriptor)
	r.bindings = make(map[string]map[ObjectID]binding)
	r.nextID = 0
	r.subID.Store(0)
}

// Reset drops every owner, container and cached aggregator binding. Meters
// created before the reset are no longer ticked.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.resetLocked()
	r.mu.Unlock()
	r.ticker.clear()
}

// Config returns the registry configuration with defaults applied.
func (r *Registry) Config() Config {
	return r.cfg
}

func checkOwner(owner any) error {
	if owner == nil {
		return ErrNilOwner
	}
	if !isComparable(owner) {
		return ErrUncomparableOwner
	}
	return nil
}

// ID returns the identifier of owner, assigning one on first use. It
// returns zero for nil or uncomparable owners.
func (r *Registry) ID(owner any) ObjectID {
	if checkOwner(owner) != nil {
		return 0
	}
	r.mu.RLock()
	id, ok := r.ids[owner]
	r.mu.RUnlock()
	if ok {
		return id
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idLocked(owner)
}

func (r *Registry) idLocked(owner any) ObjectID {
	if id, ok := r.ids[owner]; ok {
		return id
	}
	r.nextID++
	r.ids[owner] = r.nextID
	r.owners[r.nextID] = owner
	return r.nextID
}

// Register binds owner to the container at path, creating it if needed,
// and exposes stats on it. Registering an owner twice returns its
// existing container; the path is then ignored.
func (r *Registry) Register(owner any, path string, stats ...Descriptor) (*Container, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if c, ok := r.Container(owner); ok {
		r.declare(owner, c, stats)
		return c, nil
	}

	r.mu.RLock()
	root := r.root
	r.mu.RUnlock()

	c, err := containerAt(root, SplitPath(path))
	if err != nil {
		return nil, fmt.Errorf("register at %q: %w", path, err)
	}
	c = r.bind(owner, c, 0)
	r.declare(owner, c, stats)
	return c, nil
}

// RegisterChild binds owner to a container called name nested under the
// parent's container.
func (r *Registry) RegisterChild(owner, parent any, name string, stats ...Descriptor) (*Container, error) {
	return r.registerChild(owner, parent, name, "", false, stats)
}

// RegisterNumberedChild binds owner to name/N under the parent's container,
// where N is a registry-wide sequence number.
func (r *Registry) RegisterNumberedChild(owner, parent any, name string, stats ...Descriptor) (*Container, error) {
	return r.registerChild(owner, parent, name, "", true, stats)
}

// RegisterChildPath binds owner to name/subpath under the parent's
// container. An empty subpath behaves like RegisterChild.
func (r *Registry) RegisterChildPath(owner, parent any, name, subpath string, stats ...Descriptor) (*Container, error) {
	return r.registerChild(owner, parent, name, subpath, false, stats)
}

func (r *Registry) registerChild(owner, parent any, name, subpath string, numbered bool, stats []Descriptor) (*Container, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, ErrNilParent
	}
	segments := SplitPath(name)
	if len(segments) == 0 {
		return nil, ErrEmptyPath
	}
	if c, ok := r.Container(owner); ok {
		r.declare(owner, c, stats)
		return c, nil
	}

	pid, pc, ok := r.lookup(parent)
	if !ok {
		return nil, fmt.Errorf("register child %q of %T: %w", name, parent, ErrParentNotRegistered)
	}

	if numbered {
		subpath = strconv.FormatInt(r.subID.Inc(), 10)
	}
	segments = append(segments, SplitPath(subpath)...)

	c, err := containerAt(pc, segments)
	if err != nil {
		return nil, fmt.Errorf("register child %q: %w", name, err)
	}
	c = r.bind(owner, c, pid)
	r.declare(owner, c, stats)
	return c, nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(owner any, path string, stats ...Descriptor) *Container {
	c, err := r.Register(owner, path, stats...)
	if err != nil {
		panic(err)
	}
	return c
}

// MustRegisterChild is like RegisterChild but panics on error.
func (r *Registry) MustRegisterChild(owner, parent any, name string, stats ...Descriptor) *Container {
	c, err := r.RegisterChild(owner, parent, name, stats...)
	if err != nil {
		panic(err)
	}
	return c
}

func containerAt(base *Container, segments []string) (*Container, error) {
	c := base
	for _, seg := range segments {
		var err error
		if c, err = c.child(seg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// bind records c as the container of owner. A non-zero parent is recorded
// as the owner's parent. If owner raced another registration, the first
// container wins.
func (r *Registry) bind(owner any, c *Container, parent ObjectID) *Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.idLocked(owner)
	if existing, ok := r.containers[id]; ok {
		return existing
	}
	r.containers[id] = c
	if parent != 0 {
		r.parents[id] = parent
	}
	r.forgetLocked(id)
	return c
}

// forgetLocked drops cached bindings for id, which may have been resolved
// before id had a parent.
func (r *Registry) forgetLocked(id ObjectID) {
	for _, byID := range r.bindings {
		delete(byID, id)
	}
}

// Declare exposes stats on owner. Descendants of owner that write a stat
// with the same name feed it if it is an aggregator.
func (r *Registry) Declare(owner any, stats ...Descriptor) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	c, _ := r.Container(owner)
	r.declare(owner, c, stats)
	return nil
}

func (r *Registry) declare(owner any, c *Container, stats []Descriptor) {
	if len(stats) == 0 {
		return
	}
	r.mu.Lock()
	id := r.idLocked(owner)
	exposed, ok := r.exposed[id]
	if !ok {
		exposed = make(map[string]Descriptor, len(stats))
		r.exposed[id] = exposed
	}
	for _, d := range stats {
		exposed[d.Name()] = d
		delete(r.bindings, d.Name())
	}
	r.mu.Unlock()

	if c == nil {
		return
	}
	for _, d := range stats {
		c.initialize(d.Name(), func() any { return d.newState(r) })
	}
}

// Container returns the container bound to owner.
func (r *Registry) Container(owner any) (*Container, bool) {
	_, c, ok := r.lookup(owner)
	return c, ok
}

// Parent returns the owner registered as the parent of owner.
func (r *Registry) Parent(owner any) (any, bool) {
	if checkOwner(owner) != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[owner]
	if !ok {
		return nil, false
	}
	pid, ok := r.parents[id]
	if !ok {
		return nil, false
	}
	return r.owners[pid], true
}

func (r *Registry) lookup(owner any) (ObjectID, *Container, bool) {
	if checkOwner(owner) != nil {
		return 0, nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[owner]
	if !ok {
		return 0, nil, false
	}
	c, ok := r.containers[id]
	return id, c, ok
}

// findAggregator walks parent links from id and returns the first ancestor
// exposing a stat called name. Results are cached per name until that name
// is declared again or the registry is reset.
func (r *Registry) findAggregator(id ObjectID, name string) binding {
	r.mu.RLock()
	b, ok := r.bindings[name][id]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[name][id]; ok {
		return b
	}
	for p, ok := r.parents[id]; ok; p, ok = r.parents[p] {
		if d, found := r.exposed[p][name]; found {
			b = binding{owner: r.owners[p], desc: d, found: true}
			break
		}
	}
	byID, ok := r.bindings[name]
	if !ok {
		byID = make(map[ObjectID]binding)
		r.bindings[name] = byID
	}
	byID[id] = b
	return b
}

// update replaces the value of name in owner's container with fn(old).
// An ancestor aggregator for name sees the old and new values before the
// new value is stored, under the owner's container lock.
func (r *Registry) update(owner any, name string, fn func(old any) any) {
	id, c, ok := r.lookup(owner)
	if !ok {
		r.logger.Debug("dropping write for unregistered owner",
			zap.String("stat", name), zap.String("owner", fmt.Sprintf("%T", owner)))
		return
	}
	agg := r.findAggregator(id, name)

	c.mu.Lock()
	defer c.mu.Unlock()

	old, _ := c.entries.Get(name)
	if isContainerValue(old) {
		r.logger.Debug("stat name collides with a child container",
			zap.String("stat", name), zap.String("path", c.path))
		return
	}
	if _, lazy := old.(Producer); lazy {
		old = nil
	}
	v := fn(old)
	if agg.found {
		if a, ok := agg.desc.(valueAggregator); ok {
			a.aggregate(r, agg.owner, old, v)
		}
	}
	c.entries.Set(name, v)
}

// store writes v without consulting aggregators.
func (r *Registry) store(owner any, name string, v any) {
	_, c, ok := r.lookup(owner)
	if !ok {
		r.logger.Debug("dropping write for unregistered owner",
			zap.String("stat", name), zap.String("owner", fmt.Sprintf("%T", owner)))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, _ := c.entries.Get(name); isContainerValue(old) {
		return
	}
	c.entries.Set(name, v)
}

// load returns the raw value of name in owner's container.
func (r *Registry) load(owner any, name string) (any, bool) {
	_, c, ok := r.lookup(owner)
	if !ok {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Get(name)
}

func isContainerValue(v any) bool {
	_, ok := v.(*Container)
	return ok
}

// withState runs fn on the state of d in owner's container, creating it
// on first use, while holding the container lock. It reports false if the
// owner is unregistered or the slot holds a different kind of value.
func withState[T any](r *Registry, owner any, d Descriptor, fn func(id ObjectID, st T)) bool {
	id, c, ok := r.lookup(owner)
	if !ok {
		r.logger.Debug("dropping write for unregistered owner",
			zap.String("stat", d.Name()), zap.String("owner", fmt.Sprintf("%T", owner)))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	v, exists := c.entries.Get(d.Name())
	if !exists {
		v = d.newState(r)
		c.entries.Set(d.Name(), v)
	}
	st, ok := v.(T)
	if !ok {
		r.logger.Debug("stat holds a value of another kind",
			zap.String("stat", d.Name()), zap.String("path", c.path), zap.String("kind", fmt.Sprintf("%T", v)))
		return false
	}
	fn(id, st)
	return true
}

// viewState runs fn on existing state of name under a read lock.
func viewState[T any](r *Registry, owner any, name string, fn func(st T)) bool {
	_, c, ok := r.lookup(owner)
	if !ok {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, _ := c.entries.Get(name)
	st, ok := v.(T)
	if !ok {
		return false
	}
	fn(st)
	return true
}

// Snapshot copies the subtree at path. It reports false if no container
// exists there.
func (r *Registry) Snapshot(path string) (*Tree, bool) {
	r.mu.RLock()
	c := r.root
	r.mu.RUnlock()
	for _, seg := range SplitPath(path) {
		var ok bool
		if c, ok = c.lookupChild(seg); !ok {
			return nil, false
		}
	}
	return c.Snapshot(), true
}

// SetCollapsed marks the container at path collapsed, creating it if needed.
func (r *Registry) SetCollapsed(path string) error {
	r.mu.RLock()
	root := r.root
	r.mu.RUnlock()
	c, err := containerAt(root, SplitPath(path))
	if err != nil {
		return fmt.Errorf("collapse %q: %w", path, err)
	}
	c.SetCollapsed(true)
	return nil
}
