package aggregation

import (
	"fmt"
	"slices"

	"github.com/facette/natsort"

	"github.com/nikiz24/stattree"
)

// Aggregator accumulates the values of one leaf across sources. Each result
// slot holds its own clone of the aggregators named in the spec.
type Aggregator interface {
	// Name is the key the result is rendered under.
	Name() string

	// Add feeds the datum reported by source.
	Add(source string, data any)

	// Result renders the accumulated state.
	Result() any

	// Clone returns an empty aggregator with the same configuration.
	Clone() Aggregator
}

// Rename returns agg rendered under name instead of its default name.
func Rename(agg Aggregator, name string) Aggregator {
	return named{Aggregator: agg, name: name}
}

type named struct {
	Aggregator
	name string
}

func (n named) Name() string { return n.name }

func (n named) Clone() Aggregator {
	return named{Aggregator: n.Aggregator.Clone(), name: n.name}
}

// AverageAggregator weighs each source's value by its count.
type AverageAggregator struct {
	format Format
	count  total
	total  total
}

// Average returns an aggregator rendering count, total and average. A datum
// the format cannot read is counted once if it is itself a number.
func Average(format Format) *AverageAggregator {
	return &AverageAggregator{format: formatOrDefault(format)}
}

func (a *AverageAggregator) Name() string { return "average" }

func (a *AverageAggregator) Add(_ string, data any) {
	if data == nil {
		return
	}
	count, okCount := a.format.Count(data)
	value, okValue := a.format.Value(data)
	if okCount && okValue {
		if weighted, ok := product(value, count); ok {
			a.count.add(count)
			a.total.add(weighted)
			return
		}
	}
	if _, _, ok := number(data); ok {
		a.count.add(int64(1))
		a.total.add(data)
	}
}

func (a *AverageAggregator) Result() any {
	t := stattree.NewTree()
	t.Set("count", a.count.value())
	t.Set("total", a.total.value())
	avg := 0.0
	if a.count.f != 0 {
		avg = a.total.f / a.count.f
	}
	t.Set("average", avg)
	return t
}

func (a *AverageAggregator) Clone() Aggregator { return Average(a.format) }

// SumAggregator totals values across sources.
type SumAggregator struct {
	format Format
	total  total
}

// Sum returns a summing aggregator.
func Sum(format Format) *SumAggregator {
	return &SumAggregator{format: formatOrDefault(format)}
}

func (s *SumAggregator) Name() string { return "sum" }

func (s *SumAggregator) Add(_ string, data any) {
	if v, ok := s.format.Value(data); ok {
		s.total.add(v)
	}
}

func (s *SumAggregator) Result() any { return s.total.value() }

func (s *SumAggregator) Clone() Aggregator { return Sum(s.format) }

// InverseAggregator maps each distinct value to the sources reporting it.
type InverseAggregator struct {
	format  Format
	keys    []string
	sources map[string][]string
}

// KeyedInverse returns an aggregator rendering, per distinct value, the
// sources that reported it in natural order ("a9" before "a10").
func KeyedInverse(format Format) *InverseAggregator {
	return &InverseAggregator{format: formatOrDefault(format), sources: make(map[string][]string)}
}

func (a *InverseAggregator) Name() string { return "inverse" }

func (a *InverseAggregator) Add(source string, data any) {
	v, ok := a.format.Value(data)
	if !ok {
		return
	}
	key := fmt.Sprint(v)
	if _, seen := a.sources[key]; !seen {
		a.keys = append(a.keys, key)
	}
	a.sources[key] = append(a.sources[key], source)
}

func (a *InverseAggregator) Result() any {
	keys := slices.Clone(a.keys)
	natsort.Sort(keys)
	t := stattree.NewTree()
	for _, key := range keys {
		sources := slices.Clone(a.sources[key])
		natsort.Sort(sources)
		list := make([]any, len(sources))
		for i, s := range sources {
			list[i] = s
		}
		t.Set(key, list)
	}
	return t
}

func (a *InverseAggregator) Clone() Aggregator { return KeyedInverse(a.format) }

// Pair is one source's value as collected by a SortedAggregator.
type Pair struct {
	Source string
	Value  any
}

// SortOption configures a SortedAggregator.
type SortOption func(*SortedAggregator)

// CompareBy orders pairs with cmp, which returns a negative number when a
// sorts before b.
func CompareBy(cmp func(a, b Pair) int) SortOption {
	return func(s *SortedAggregator) { s.cmp = cmp }
}

// ByValue orders pairs by value, then source.
func ByValue() SortOption {
	return CompareBy(func(a, b Pair) int {
		if c := compareValues(a.Value, b.Value); c != 0 {
			return c
		}
		return compareNatural(a.Source, b.Source)
	})
}

// KeyBy orders pairs by key(pair), compared like values.
func KeyBy(key func(Pair) any) SortOption {
	return CompareBy(func(a, b Pair) int {
		return compareValues(key(a), key(b))
	})
}

// Reverse inverts the order.
func Reverse() SortOption {
	return func(s *SortedAggregator) { s.reverse = true }
}

// SortedAggregator collects every (source, value) pair and renders them
// sorted, by default by source and then value.
type SortedAggregator struct {
	format  Format
	opts    []SortOption
	cmp     func(a, b Pair) int
	reverse bool
	pairs   []Pair
}

// Sorted returns a collecting aggregator.
func Sorted(format Format, opts ...SortOption) *SortedAggregator {
	s := &SortedAggregator{format: formatOrDefault(format), opts: opts, cmp: bySource}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func bySource(a, b Pair) int {
	if c := compareNatural(a.Source, b.Source); c != 0 {
		return c
	}
	return compareValues(a.Value, b.Value)
}

func (s *SortedAggregator) Name() string { return "sorted" }

func (s *SortedAggregator) Add(source string, data any) {
	if v, ok := s.format.Value(data); ok {
		s.pairs = append(s.pairs, Pair{Source: source, Value: v})
	}
}

// Pairs returns the collected pairs in result order.
func (s *SortedAggregator) Pairs() []Pair {
	pairs := slices.Clone(s.pairs)
	slices.SortStableFunc(pairs, func(a, b Pair) int {
		if s.reverse {
			return s.cmp(b, a)
		}
		return s.cmp(a, b)
	})
	return pairs
}

// Result renders the pairs as [source, value] lists.
func (s *SortedAggregator) Result() any {
	pairs := s.Pairs()
	out := make([]any, len(pairs))
	for i, p := range pairs {
		out[i] = []any{p.Source, p.Value}
	}
	return out
}

func (s *SortedAggregator) Clone() Aggregator { return Sorted(s.format, s.opts...) }

// HighlightAggregator keeps the single value a predicate prefers.
type HighlightAggregator struct {
	name   string
	format Format
	better func(best, candidate any) bool

	seen   bool
	source string
	value  any
}

// Highlight returns an aggregator that keeps the first value it sees and
// then replaces it whenever better(best, candidate) holds.
func Highlight(name string, format Format, better func(best, candidate any) bool) *HighlightAggregator {
	return &HighlightAggregator{name: name, format: formatOrDefault(format), better: better}
}

// Max prefers the larger value.
func Max(best, candidate any) bool { return compareValues(candidate, best) > 0 }

// Min prefers the smaller value.
func Min(best, candidate any) bool { return compareValues(candidate, best) < 0 }

func (h *HighlightAggregator) Name() string { return h.name }

func (h *HighlightAggregator) Add(source string, data any) {
	v, ok := h.format.Value(data)
	if !ok {
		return
	}
	if !h.seen || h.better(h.value, v) {
		h.seen = true
		h.source = source
		h.value = v
	}
}

func (h *HighlightAggregator) Result() any {
	t := stattree.NewTree()
	if h.seen {
		t.Set("source", h.source)
	} else {
		t.Set("source", nil)
	}
	t.Set("value", h.value)
	return t
}

func (h *HighlightAggregator) Clone() Aggregator {
	return Highlight(h.name, h.format, h.better)
}
