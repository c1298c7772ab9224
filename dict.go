package stattree

// IntDictStat holds a dictionary of int64 values. Missing keys read as zero.
type IntDictStat struct {
	stat
	autoDelete bool
}

// NewIntDictStat returns an integer dictionary stat. With autoDelete, a key
// set to zero is removed instead of stored.
func NewIntDictStat(name string, autoDelete bool) IntDictStat {
	return IntDictStat{stat: stat{name: name}, autoDelete: autoDelete}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s IntDictStat) In(r *Registry) IntDictStat {
	s.reg = r
	return s
}

func (s IntDictStat) newState(*Registry) any { return NewTree() }

// Get returns the value of key for owner.
func (s IntDictStat) Get(owner any, key string) int64 {
	var n int64
	viewState(s.registry(), owner, s.name, func(d *Tree) {
		v, _ := d.Get(key)
		n, _ = toInt64(v)
	})
	return n
}

// Map returns a copy of the dictionary for owner.
func (s IntDictStat) Map(owner any) map[string]int64 {
	m := make(map[string]int64)
	viewState(s.registry(), owner, s.name, func(d *Tree) {
		d.Range(func(k string, v any) bool {
			m[k], _ = toInt64(v)
			return true
		})
	})
	return m
}

// Set stores v under key for owner.
func (s IntDictStat) Set(owner any, key string, v int64) {
	s.apply(owner, key, func(int64) int64 { return v })
}

// Add adds delta to the value under key for owner.
func (s IntDictStat) Add(owner any, key string, delta int64) {
	s.apply(owner, key, func(old int64) int64 { return old + delta })
}

func (s IntDictStat) apply(owner any, key string, fn func(old int64) int64) {
	r := s.registry()
	withState(r, owner, s, func(id ObjectID, d *Tree) {
		raw, _ := d.Get(key)
		old, _ := toInt64(raw)
		v := fn(old)
		aggregateKey(r, id, s.name, key, old, v)
		if v != 0 || !s.autoDelete {
			d.Set(key, v)
		} else {
			d.Delete(key)
		}
	})
}

// StringDictStat holds a dictionary of strings. Missing keys read as "".
type StringDictStat struct {
	stat
}

// NewStringDictStat returns a string dictionary stat.
func NewStringDictStat(name string) StringDictStat {
	return StringDictStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s StringDictStat) In(r *Registry) StringDictStat {
	s.reg = r
	return s
}

func (s StringDictStat) newState(*Registry) any { return NewTree() }

// Get returns the value of key for owner.
func (s StringDictStat) Get(owner any, key string) string {
	var out string
	viewState(s.registry(), owner, s.name, func(d *Tree) {
		v, _ := d.Get(key)
		out, _ = v.(string)
	})
	return out
}

// Map returns a copy of the dictionary for owner.
func (s StringDictStat) Map(owner any) map[string]string {
	m := make(map[string]string)
	viewState(s.registry(), owner, s.name, func(d *Tree) {
		d.Range(func(k string, v any) bool {
			m[k], _ = v.(string)
			return true
		})
	})
	return m
}

// Set stores v under key for owner.
func (s StringDictStat) Set(owner any, key, v string) {
	r := s.registry()
	withState(r, owner, s, func(id ObjectID, d *Tree) {
		raw, _ := d.Get(key)
		old, _ := raw.(string)
		aggregateKey(r, id, s.name, key, old, v)
		d.Set(key, v)
	})
}

// aggregateKey feeds a keyed change to the nearest ancestor exposing name,
// if that stat aggregates keys.
func aggregateKey(r *Registry, id ObjectID, name, key string, old, v any) {
	agg := r.findAggregator(id, name)
	if !agg.found {
		return
	}
	if a, ok := agg.desc.(keyedAggregator); ok {
		a.aggregateKey(r, agg.owner, key, old, v)
	}
}
