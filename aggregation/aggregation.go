// Package aggregation merges stat snapshots exported by many processes
// into one view, as directed by a spec tree.
//
// A spec node maps data keys to sub-specs; a leaf lists the aggregators
// fed with the data found there:
//
//	spec := aggregation.Node(
//		aggregation.Key("http_hits", aggregation.Node(
//			aggregation.Group("ok", `[1-3]\d\d`, aggregation.Leaf(aggregation.Sum(aggregation.Direct))),
//			aggregation.Group("err", `[4-5]\d\d`, aggregation.Leaf(aggregation.Sum(aggregation.Direct))),
//		)),
//	)
//	agg := aggregation.New(spec)
//	agg.AddSource("web1", snapshot)
//	stattree.WriteJSON(os.Stdout, agg.Result(), true)
package aggregation

import (
	"sort"
	"sync"

	"github.com/coder/quartz"
	"github.com/grafana/regexp"
	"go.uber.org/zap"

	"github.com/nikiz24/stattree"
)

// Spec is a node of an aggregation spec: a Node or a Leaf.
type Spec interface {
	spec()
}

// LeafSpec lists the aggregators fed at a leaf.
type LeafSpec struct {
	Aggregators []Aggregator
}

func (*LeafSpec) spec() {}

// Leaf returns a spec feeding every datum found at its position into aggs.
func Leaf(aggs ...Aggregator) *LeafSpec {
	return &LeafSpec{Aggregators: aggs}
}

// NodeSpec maps data keys to child specs through its branches, which are
// applied in order.
type NodeSpec struct {
	Branches []Branch
}

func (*NodeSpec) spec() {}

// Node returns an internal spec node.
func Node(branches ...Branch) *NodeSpec {
	return &NodeSpec{Branches: branches}
}

// Branch selects data keys at a node and names the result slot each
// selected key is aggregated into.
type Branch struct {
	key      string
	label    string
	pattern  *regexp.Regexp
	wildcard bool
	next     Spec
}

// Key selects the data key name, aggregated under the same name.
func Key(name string, next Spec) Branch {
	return Branch{key: name, next: next}
}

// Wildcard selects every data key, each aggregated under its own name.
func Wildcard(next Spec) Branch {
	return Branch{wildcard: true, next: next}
}

// Group selects every data key matching pattern, all aggregated together
// under label. The pattern is anchored at the start of the key. Group
// panics if the pattern does not compile.
func Group(label, pattern string, next Spec) Branch {
	return Branch{label: label, pattern: regexp.MustCompile(`^(?:` + pattern + `)`), next: next}
}

// match returns the result key that dataKey aggregates into.
func (b Branch) match(dataKey string) (string, bool) {
	switch {
	case b.wildcard:
		return dataKey, true
	case b.pattern != nil:
		return b.label, b.pattern.MatchString(dataKey)
	}
	return dataKey, dataKey == b.key
}

// Option configures an Aggregation.
type Option func(*Aggregation)

// WithLogger sets the logger for skipped sources and files.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregation) { a.logger = logger }
}

// WithClock sets the clock file ages are measured against.
func WithClock(clock quartz.Clock) Option {
	return func(a *Aggregation) { a.clock = clock }
}

// Aggregation accumulates sources against a spec. It is safe for
// concurrent use.
type Aggregation struct {
	spec   Spec
	logger *zap.Logger
	clock  quartz.Clock

	mu     sync.Mutex
	result *stattree.Tree
}

// New returns an empty aggregation over spec.
func New(spec Spec, opts ...Option) *Aggregation {
	a := &Aggregation{
		spec:   spec,
		logger: zap.NewNop(),
		clock:  quartz.NewReal(),
		result: stattree.NewTree(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddSource feeds one source's data, a *stattree.Tree or nested
// map[string]any as decoded from a snapshot.
func (a *Aggregation) AddSource(source string, data any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.walk(source, a.spec, data, a.result)
}

// AddTree feeds one source's snapshot tree.
func (a *Aggregation) AddTree(source string, t *stattree.Tree) {
	a.AddSource(source, t)
}

func (a *Aggregation) walk(source string, spec Spec, data any, out *stattree.Tree) {
	data = stattree.Evaluate(data)
	if data == nil {
		return
	}
	switch s := spec.(type) {
	case *LeafSpec:
		for _, agg := range s.Aggregators {
			slot, ok := out.Get(agg.Name())
			if !ok {
				slot = agg.Clone()
				out.Set(agg.Name(), slot)
			}
			if acc, ok := slot.(Aggregator); ok {
				acc.Add(source, data)
			}
		}
	case *NodeSpec:
		for _, b := range s.Branches {
			if b.wildcard || b.pattern != nil {
				rangeData(data, func(key string, v any) {
					if resultKey, ok := b.match(key); ok {
						a.descend(source, b.next, v, out, resultKey)
					}
				})
				continue
			}
			if v, ok := stattree.Lookup(data, b.key); ok {
				a.descend(source, b.next, v, out, b.key)
			}
		}
	}
}

func (a *Aggregation) descend(source string, spec Spec, data any, out *stattree.Tree, key string) {
	existing, ok := out.Get(key)
	if !ok {
		existing = stattree.NewTree()
		out.Set(key, existing)
	}
	sub, ok := existing.(*stattree.Tree)
	if !ok {
		a.logger.Debug("result key holds an aggregator", zap.String("key", key), zap.String("source", source))
		return
	}
	a.walk(source, spec, data, sub)
}

// rangeData calls fn for each entry of a mapping, in key order for trees
// and sorted order for maps.
func rangeData(data any, fn func(key string, v any)) {
	switch d := data.(type) {
	case *stattree.Tree:
		d.Range(func(key string, v any) bool {
			fn(key, v)
			return true
		})
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fn(k, d[k])
		}
	}
}

// Result renders the accumulated tree. Branches that received no data
// are omitted.
func (a *Aggregation) Result() *stattree.Tree {
	a.mu.Lock()
	defer a.mu.Unlock()
	return render(a.result)
}

func render(t *stattree.Tree) *stattree.Tree {
	out := stattree.NewTree()
	t.Range(func(key string, v any) bool {
		switch x := v.(type) {
		case Aggregator:
			out.Set(key, x.Result())
		case *stattree.Tree:
			if sub := render(x); sub.Len() > 0 {
				out.Set(key, sub)
			}
		}
		return true
	})
	return out
}
