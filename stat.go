package stattree

// Descriptor is a named stat shared by every owner that exposes it. It
// holds no per-owner state: values live in each owner's container.
type Descriptor interface {
	// Name returns the key the stat is stored under.
	Name() string

	// newState returns the value stored when the stat is first exposed or
	// used on an owner, or nil to store nothing.
	newState(r *Registry) any
}

// valueAggregator is implemented by stats that fold the values of a
// same-named descendant stat.
type valueAggregator interface {
	aggregate(r *Registry, owner any, old, v any)
}

// keyedAggregator is implemented by stats that fold individual keys of a
// same-named descendant dictionary stat.
type keyedAggregator interface {
	aggregateKey(r *Registry, owner any, key string, old, v any)
}

type stat struct {
	name string
	reg  *Registry
}

// Name returns the stat name.
func (s stat) Name() string {
	return s.name
}

func (s stat) registry() *Registry {
	if s.reg != nil {
		return s.reg
	}
	return Default()
}

// Stat holds an arbitrary value.
type Stat struct {
	stat
	def any
}

// NewStat returns a stat reading def until set.
func NewStat(name string, def any) Stat {
	return Stat{stat: stat{name: name}, def: def}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s Stat) In(r *Registry) Stat {
	s.reg = r
	return s
}

func (s Stat) newState(*Registry) any { return s.def }

// Get returns the value for owner, invoking it if it is a producer.
func (s Stat) Get(owner any) any {
	if v, ok := s.registry().load(owner, s.name); ok {
		return Evaluate(v)
	}
	return s.def
}

// Set stores v for owner.
func (s Stat) Set(owner any, v any) {
	s.registry().update(owner, s.name, func(any) any { return v })
}

// SetFunc makes the stat evaluate fn whenever it is read or rendered.
// Producers do not feed aggregators.
func (s Stat) SetFunc(owner any, fn func() any) {
	s.registry().store(owner, s.name, Producer(fn))
}

// IntStat holds an int64, zero until set.
type IntStat struct {
	stat
}

// NewIntStat returns an integer stat.
func NewIntStat(name string) IntStat {
	return IntStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s IntStat) In(r *Registry) IntStat {
	s.reg = r
	return s
}

func (s IntStat) newState(*Registry) any { return int64(0) }

// Get returns the value for owner.
func (s IntStat) Get(owner any) int64 {
	v, _ := s.registry().load(owner, s.name)
	n, _ := toInt64(Evaluate(v))
	return n
}

// Set stores v for owner.
func (s IntStat) Set(owner any, v int64) {
	s.registry().update(owner, s.name, func(any) any { return v })
}

// Add adds delta to the value for owner.
func (s IntStat) Add(owner any, delta int64) {
	s.registry().update(owner, s.name, func(old any) any {
		n, _ := toInt64(old)
		return n + delta
	})
}

// Inc adds one to the value for owner.
func (s IntStat) Inc(owner any) { s.Add(owner, 1) }

// Dec subtracts one from the value for owner.
func (s IntStat) Dec(owner any) { s.Add(owner, -1) }

// SetFunc makes the stat evaluate fn whenever it is read or rendered.
func (s IntStat) SetFunc(owner any, fn func() int64) {
	s.registry().store(owner, s.name, Producer(func() any { return fn() }))
}

// FloatStat holds a float64, zero until set.
type FloatStat struct {
	stat
}

// NewFloatStat returns a floating point stat.
func NewFloatStat(name string) FloatStat {
	return FloatStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s FloatStat) In(r *Registry) FloatStat {
	s.reg = r
	return s
}

func (s FloatStat) newState(*Registry) any { return float64(0) }

// Get returns the value for owner.
func (s FloatStat) Get(owner any) float64 {
	v, _ := s.registry().load(owner, s.name)
	f, _ := toFloat64(Evaluate(v))
	return f
}

// Set stores v for owner.
func (s FloatStat) Set(owner any, v float64) {
	s.registry().update(owner, s.name, func(any) any { return v })
}

// Add adds delta to the value for owner.
func (s FloatStat) Add(owner any, delta float64) {
	s.registry().update(owner, s.name, func(old any) any {
		f, _ := toFloat64(old)
		return f + delta
	})
}

// SetFunc makes the stat evaluate fn whenever it is read or rendered.
func (s FloatStat) SetFunc(owner any, fn func() float64) {
	s.registry().store(owner, s.name, Producer(func() any { return fn() }))
}
