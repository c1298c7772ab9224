package stattree

// SumAggregationStat totals a same-named stat across every descendant.
// The total is itself a stat write, so a same-named sum further up the
// tree sees it too.
type SumAggregationStat struct {
	stat
}

// NewSumAggregationStat returns a sum aggregator.
func NewSumAggregationStat(name string) SumAggregationStat {
	return SumAggregationStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s SumAggregationStat) In(r *Registry) SumAggregationStat {
	s.reg = r
	return s
}

func (s SumAggregationStat) newState(*Registry) any { return int64(0) }

// Get returns the current total for owner.
func (s SumAggregationStat) Get(owner any) float64 {
	v, _ := s.registry().load(owner, s.name)
	f, _ := toFloat64(v)
	return f
}

func (s SumAggregationStat) aggregate(r *Registry, owner any, old, v any) {
	delta := subNumbers(v, old)
	r.update(owner, s.name, func(total any) any {
		return addNumbers(total, delta)
	})
}

// HistogramAggregationStat counts how many descendants currently hold each
// distinct non-zero value of a same-named stat.
type HistogramAggregationStat struct {
	stat
	autoDelete bool
}

// NewHistogramAggregationStat returns a histogram aggregator. With
// autoDelete, buckets whose count drops to zero are removed.
func NewHistogramAggregationStat(name string, autoDelete bool) HistogramAggregationStat {
	return HistogramAggregationStat{stat: stat{name: name}, autoDelete: autoDelete}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s HistogramAggregationStat) In(r *Registry) HistogramAggregationStat {
	s.reg = r
	return s
}

func (s HistogramAggregationStat) newState(*Registry) any { return NewTree() }

// Get returns a copy of the bucket counts for owner.
func (s HistogramAggregationStat) Get(owner any) map[string]int64 {
	return treeInts(s.registry(), owner, s.name)
}

func (s HistogramAggregationStat) aggregate(r *Registry, owner any, old, v any) {
	withState(r, owner, s, func(_ ObjectID, h *Tree) {
		if !isZero(old) {
			key := keyOf(old)
			raw, _ := h.Get(key)
			n, _ := toInt64(raw)
			n--
			if n == 0 && s.autoDelete {
				h.Delete(key)
			} else {
				h.Set(key, n)
			}
		}
		if !isZero(v) {
			key := keyOf(v)
			raw, _ := h.Get(key)
			n, _ := toInt64(raw)
			h.Set(key, n+1)
		}
	})
}

// IntDictSumAggregationStat sums each key of a same-named IntDictStat
// across every descendant.
type IntDictSumAggregationStat struct {
	stat
}

// NewIntDictSumAggregationStat returns a keyed sum aggregator.
func NewIntDictSumAggregationStat(name string) IntDictSumAggregationStat {
	return IntDictSumAggregationStat{stat{name: name}}
}

// In returns a copy of the stat bound to r instead of the default registry.
func (s IntDictSumAggregationStat) In(r *Registry) IntDictSumAggregationStat {
	s.reg = r
	return s
}

func (s IntDictSumAggregationStat) newState(*Registry) any { return NewTree() }

// Get returns the total under key for owner.
func (s IntDictSumAggregationStat) Get(owner any, key string) int64 {
	return treeInts(s.registry(), owner, s.name)[key]
}

// Map returns a copy of every total for owner.
func (s IntDictSumAggregationStat) Map(owner any) map[string]int64 {
	return treeInts(s.registry(), owner, s.name)
}

func (s IntDictSumAggregationStat) aggregateKey(r *Registry, owner any, key string, old, v any) {
	withState(r, owner, s, func(id ObjectID, totals *Tree) {
		raw, _ := totals.Get(key)
		total := addNumbers(raw, subNumbers(v, old))
		aggregateKey(r, id, s.name, key, raw, total)
		totals.Set(key, total)
	})
}

func treeInts(r *Registry, owner any, name string) map[string]int64 {
	m := make(map[string]int64)
	viewState(r, owner, name, func(t *Tree) {
		t.Range(func(k string, v any) bool {
			m[k], _ = toInt64(v)
			return true
		})
	})
	return m
}
