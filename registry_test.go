package stattree

import (
	"sync"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type owner struct {
	name string
}

func newTestRegistry(t *testing.T) (*Registry, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	r := NewRegistry(Config{
		Logger: zaptest.NewLogger(t),
		Clock:  clock,
	})
	return r, clock
}

func snapshotMap(t *testing.T, r *Registry, path string) map[string]any {
	t.Helper()
	tree, ok := r.Snapshot(path)
	require.True(t, ok, "no container at %q", path)
	return tree.Map()
}

func TestNumberedChildStats(t *testing.T) {
	r, _ := newTestRegistry(t)
	state := NewStat("state", "").In(r)
	count := NewIntStat("count").In(r)

	a := &owner{"a"}
	_, err := r.Register(a, "path/to/A", state)
	require.NoError(t, err)
	state.Set(a, "abc")

	c := &owner{"c"}
	_, err = r.RegisterNumberedChild(c, a, "C", count)
	require.NoError(t, err)
	count.Inc(c)

	b := &owner{"b"}
	_, err = r.Register(b, "B")
	require.NoError(t, err)
	d := &owner{"d"}
	_, err = r.RegisterNumberedChild(d, b, "C", count)
	require.NoError(t, err)
	count.Add(d, 2)

	assert.Equal(t, map[string]any{
		"path": map[string]any{
			"to": map[string]any{
				"A": map[string]any{
					"state": "abc",
					"C": map[string]any{
						"1": map[string]any{"count": int64(1)},
					},
				},
			},
		},
		"B": map[string]any{
			"C": map[string]any{
				"2": map[string]any{"count": int64(2)},
			},
		},
	}, snapshotMap(t, r, ""))
}

func TestChildStats(t *testing.T) {
	r, _ := newTestRegistry(t)
	count := NewIntStat("count").In(r)

	a := &owner{"a"}
	r.MustRegister(a, "path/to/A")
	c := &owner{"c"}
	r.MustRegisterChild(c, a, "C", count)
	count.Inc(c)

	b := &owner{"b"}
	r.MustRegister(b, "/B")
	d := &owner{"d"}
	r.MustRegisterChild(d, b, "C", count)
	count.Add(d, 2)

	assert.Equal(t, map[string]any{
		"path": map[string]any{"to": map[string]any{"A": map[string]any{
			"C": map[string]any{"count": int64(1)},
		}}},
		"B": map[string]any{"C": map[string]any{"count": int64(2)}},
	}, snapshotMap(t, r, ""))

	parent, ok := r.Parent(d)
	require.True(t, ok)
	assert.Same(t, b, parent)
	_, ok = r.Parent(b)
	assert.False(t, ok)
}

func TestMultilevelChild(t *testing.T) {
	r, _ := newTestRegistry(t)
	count := NewIntStat("count").In(r)

	a := &owner{"a"}
	r.MustRegister(a, "path/to/A")
	c := &owner{"c"}
	_, err := r.RegisterChildPath(c, a, "sub", "path", count)
	require.NoError(t, err)
	count.Inc(c)

	assert.Equal(t, map[string]any{
		"sub": map[string]any{"path": map[string]any{"count": int64(1)}},
	}, snapshotMap(t, r, "path/to/A"))
}

func TestRegisterIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	a := &owner{"a"}

	c1 := r.MustRegister(a, "first")
	c2 := r.MustRegister(a, "second")
	assert.Same(t, c1, c2)
	assert.Equal(t, "first", c2.Path())

	id := r.ID(a)
	assert.NotZero(t, id)
	assert.Equal(t, id, r.ID(a))
	assert.NotEqual(t, id, r.ID(&owner{"b"}))

	_, ok := r.Snapshot("second")
	assert.False(t, ok)
}

func TestRegistrationErrors(t *testing.T) {
	r, _ := newTestRegistry(t)
	parent := &owner{"parent"}
	r.MustRegister(parent, "P", NewIntStat("taken").In(r))

	_, err := r.Register(nil, "x")
	assert.ErrorIs(t, err, ErrNilOwner)

	_, err = r.Register(map[string]int{}, "x")
	assert.ErrorIs(t, err, ErrUncomparableOwner)

	_, err = r.RegisterChild(&owner{}, nil, "x")
	assert.ErrorIs(t, err, ErrNilParent)

	_, err = r.RegisterChild(&owner{}, &owner{"stranger"}, "x")
	assert.ErrorIs(t, err, ErrParentNotRegistered)

	_, err = r.RegisterChild(&owner{}, parent, "/")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = r.RegisterChild(&owner{}, parent, "taken")
	assert.ErrorIs(t, err, ErrPathConflict)

	assert.Panics(t, func() { r.MustRegisterChild(&owner{}, nil, "x") })
}

type boxedOwner struct {
	v any
}

func TestOwnersHoldingUncomparableValues(t *testing.T) {
	r, _ := newTestRegistry(t)
	count := NewIntStat("count").In(r)
	boxed := boxedOwner{v: []int{1}}

	assert.NotPanics(t, func() {
		_, err := r.Register(boxed, "x", count)
		assert.ErrorIs(t, err, ErrUncomparableOwner)

		count.Inc(boxed)
		assert.Zero(t, count.Get(boxed))
		assert.Zero(t, r.ID(boxed))
		_, ok := r.Container(boxed)
		assert.False(t, ok)
		_, ok = r.Parent(boxed)
		assert.False(t, ok)

		_, err = r.RegisterChild(&owner{}, boxed, "child")
		assert.Error(t, err)
	})

	comparable := boxedOwner{v: "name"}
	c, err := r.Register(comparable, "y", count)
	require.NoError(t, err)
	count.Inc(comparable)
	assert.Equal(t, int64(1), count.Get(comparable))
	assert.Equal(t, "y", c.Path())
}

func TestUnregisteredOwnerReadsDefaults(t *testing.T) {
	r, _ := newTestRegistry(t)
	count := NewIntStat("count").In(r)
	name := NewStat("name", "none").In(r)
	errs := NewIntDictStat("errors", false).In(r)

	stranger := &owner{"stranger"}
	count.Add(stranger, 5)
	name.Set(stranger, "x")
	errs.Set(stranger, "500", 1)

	assert.Zero(t, count.Get(stranger))
	assert.Equal(t, "none", name.Get(stranger))
	assert.Zero(t, errs.Get(stranger, "500"))
	assert.Empty(t, errs.Map(stranger))

	tree, ok := r.Snapshot("")
	require.True(t, ok)
	assert.Zero(t, tree.Len())
}

func TestSumAggregation(t *testing.T) {
	r, _ := newTestRegistry(t)
	total := NewSumAggregationStat("count").In(r)
	count := NewIntStat("count").In(r)

	root := &owner{"root"}
	r.MustRegister(root, "Root", total)
	c := &owner{"c"}
	r.MustRegisterChild(c, root, "C", count)

	assert.Equal(t, map[string]any{
		"count": int64(0),
		"C":     map[string]any{"count": int64(0)},
	}, snapshotMap(t, r, "Root"))

	count.Add(c, 2)
	assert.Equal(t, 2.0, total.Get(root))

	d := &owner{"d"}
	r.MustRegisterChild(d, root, "D", count)
	count.Set(d, 5)
	assert.Equal(t, 7.0, total.Get(root))

	count.Add(c, -1)
	assert.Equal(t, 6.0, total.Get(root))

	assert.Equal(t, map[string]any{
		"count": int64(6),
		"C":     map[string]any{"count": int64(1)},
		"D":     map[string]any{"count": int64(5)},
	}, snapshotMap(t, r, "Root"))
}

func TestSumAggregationCascades(t *testing.T) {
	r, _ := newTestRegistry(t)
	total := NewSumAggregationStat("bytes").In(r)
	bytes := NewFloatStat("bytes").In(r)

	grand := &owner{"grand"}
	r.MustRegister(grand, "grand", total)
	mid := &owner{"mid"}
	r.MustRegisterChild(mid, grand, "mid", total)
	leaf1, leaf2 := &owner{"leaf1"}, &owner{"leaf2"}
	r.MustRegisterChild(leaf1, mid, "leaf1", bytes)
	r.MustRegisterChild(leaf2, mid, "leaf2", bytes)

	bytes.Set(leaf1, 1.5)
	bytes.Set(leaf2, 2)
	bytes.Add(leaf1, 1)

	assert.Equal(t, 4.5, total.Get(mid))
	assert.Equal(t, 4.5, total.Get(grand))

	v, ok := Resolve(mustSnapshot(t, r, ""), "grand", "bytes")
	require.True(t, ok)
	assert.Equal(t, 4.5, v)
}

func TestSumAggregationSkipsIntermediateOwners(t *testing.T) {
	r, _ := newTestRegistry(t)
	total := NewSumAggregationStat("count").In(r)
	count := NewIntStat("count").In(r)

	root := &owner{"root"}
	r.MustRegister(root, "root", total)
	mid := &owner{"mid"}
	r.MustRegisterChild(mid, root, "mid")
	leaf := &owner{"leaf"}
	r.MustRegisterChild(leaf, mid, "leaf", count)

	count.Add(leaf, 3)
	assert.Equal(t, 3.0, total.Get(root))
}

func TestAggregatorKindMismatchIsIgnored(t *testing.T) {
	r, _ := newTestRegistry(t)
	parentCount := NewIntStat("count").In(r)
	count := NewIntStat("count").In(r)

	root := &owner{"root"}
	r.MustRegister(root, "root", parentCount)
	c := &owner{"c"}
	r.MustRegisterChild(c, root, "c", count)

	count.Add(c, 3)
	assert.Equal(t, int64(3), count.Get(c))
	assert.Zero(t, parentCount.Get(root))
}

func TestDeclareInvalidatesCachedAggregators(t *testing.T) {
	r, _ := newTestRegistry(t)
	total := NewSumAggregationStat("count").In(r)
	count := NewIntStat("count").In(r)

	root := &owner{"root"}
	r.MustRegister(root, "root")
	c := &owner{"c"}
	r.MustRegisterChild(c, root, "c", count)

	count.Set(c, 5)
	require.NoError(t, r.Declare(root, total))
	count.Inc(c)

	// Only changes made after the declaration are folded in.
	assert.Equal(t, 1.0, total.Get(root))
}

func TestHistogramAggregation(t *testing.T) {
	r, _ := newTestRegistry(t)
	hist := NewHistogramAggregationStat("state", false).In(r)
	state := NewStat("state", "").In(r)

	root := &owner{"root"}
	r.MustRegister(root, "Root", hist)
	c, d := &owner{"c"}, &owner{"d"}
	r.MustRegisterChild(c, root, "C", state)
	r.MustRegisterChild(d, root, "D", state)

	for range 2 {
		state.Set(c, "good")
		state.Set(d, "bad")
		assert.Equal(t, map[string]int64{"good": 1, "bad": 1}, hist.Get(root))
	}

	state.Set(c, "great")
	state.Set(d, "great")
	assert.Equal(t, map[string]int64{"good": 0, "bad": 0, "great": 2}, hist.Get(root))

	assert.Equal(t, map[string]any{
		"state": map[string]any{"good": int64(0), "bad": int64(0), "great": int64(2)},
		"C":     map[string]any{"state": "great"},
		"D":     map[string]any{"state": "great"},
	}, snapshotMap(t, r, "Root"))
}

func TestHistogramAggregationCountsFractionalStates(t *testing.T) {
	r, _ := newTestRegistry(t)
	hist := NewHistogramAggregationStat("state", true).In(r)
	state := NewStat("state", nil).In(r)

	root := &owner{"root"}
	r.MustRegister(root, "Root", hist)
	c, d := &owner{"c"}, &owner{"d"}
	r.MustRegisterChild(c, root, "C", state)
	r.MustRegisterChild(d, root, "D", state)

	state.Set(c, float32(0.5))
	state.Set(d, 0.25)
	assert.Equal(t, map[string]int64{"0.5": 1, "0.25": 1}, hist.Get(root))

	state.Set(c, float32(0))
	assert.Equal(t, map[string]int64{"0.25": 1}, hist.Get(root))
}

func TestHistogramAggregationAutoDelete(t *testing.T) {
	r, _ := newTestRegistry(t)
	hist := NewHistogramAggregationStat("state", true).In(r)
	state := NewStat("state", "").In(r)

	root := &owner{"root"}
	r.MustRegister(root, "Root", hist)
	children := make([]*owner, 4)
	for i := range children {
		children[i] = &owner{}
		_, err := r.RegisterNumberedChild(children[i], root, "worker", state)
		require.NoError(t, err)
	}

	state.Set(children[0], "busy")
	state.Set(children[1], "busy")
	state.Set(children[2], "idle")
	assert.Equal(t, map[string]int64{"busy": 2, "idle": 1}, hist.Get(root))

	state.Set(children[2], "busy")
	state.Set(children[0], "")
	assert.Equal(t, map[string]int64{"busy": 2}, hist.Get(root))

	var sum int64
	for _, n := range hist.Get(root) {
		sum += n
	}
	nonDefault := 0
	for _, c := range children {
		if state.Get(c) != "" {
			nonDefault++
		}
	}
	assert.EqualValues(t, nonDefault, sum)
}

func TestIntDictStats(t *testing.T) {
	r, _ := newTestRegistry(t)
	errs := NewIntDictStat("errors", false).In(r)
	active := NewIntDictStat("activeUrls", true).In(r)

	a := &owner{"a"}
	r.MustRegister(a, "path/to/A", errs, active)

	errs.Add(a, "400", 1)
	errs.Add(a, "400", 2)
	errs.Add(a, "404", 100)
	errs.Add(a, "400", -3)

	active.Add(a, "http://www.greplin.com", 1)
	active.Add(a, "http://www.google.com", 2)
	active.Add(a, "http://www.greplin.com", -1)

	assert.Equal(t, map[string]any{
		"errors":     map[string]any{"400": int64(0), "404": int64(100)},
		"activeUrls": map[string]any{"http://www.google.com": int64(2)},
	}, snapshotMap(t, r, "path/to/A"))
	assert.Equal(t, int64(100), errs.Get(a, "404"))
	assert.Zero(t, active.Get(a, "http://www.greplin.com"))
}

func TestIntDictSumAggregation(t *testing.T) {
	r, _ := newTestRegistry(t)
	totals := NewIntDictSumAggregationStat("errors").In(r)
	errs := NewIntDictStat("errors", false).In(r)

	root := &owner{"root"}
	r.MustRegister(root, "Root", totals)
	holder := &owner{"holder"}
	r.MustRegisterChild(holder, root, "C", errs)

	errs.Add(holder, "400", 1)
	errs.Add(holder, "400", 2)
	errs.Add(holder, "404", 100)
	errs.Add(holder, "400", 1)

	assert.Equal(t, map[string]any{
		"errors": map[string]any{"400": int64(4), "404": int64(100)},
		"C": map[string]any{
			"errors": map[string]any{"400": int64(4), "404": int64(100)},
		},
	}, snapshotMap(t, r, "Root"))

	other := &owner{"other"}
	r.MustRegisterChild(other, root, "D", errs)
	errs.Set(other, "404", 5)
	assert.Equal(t, map[string]int64{"400": 4, "404": 105}, totals.Map(root))
	assert.Equal(t, int64(105), totals.Get(root, "404"))
}

func TestStringDictStat(t *testing.T) {
	r, _ := newTestRegistry(t)
	versions := NewStringDictStat("versions").In(r)

	a := &owner{"a"}
	r.MustRegister(a, "a", versions)
	versions.Set(a, "api", "v1")
	versions.Set(a, "api", "v2")
	versions.Set(a, "db", "15")

	assert.Equal(t, "v2", versions.Get(a, "api"))
	assert.Equal(t, "", versions.Get(a, "cache"))
	assert.Equal(t, map[string]string{"api": "v2", "db": "15"}, versions.Map(a))
}

var dynamicValue = 100

func TestDynamicStat(t *testing.T) {
	r, _ := newTestRegistry(t)
	dynamic := NewStat("dynamic", nil).In(r)

	root := &owner{"root"}
	r.MustRegister(root, "", dynamic)
	dynamic.SetFunc(root, func() any { return dynamicValue })

	tree := mustSnapshot(t, r, "")
	v, ok := tree.Get("dynamic")
	require.True(t, ok)
	assert.Equal(t, 100, Evaluate(v))

	dynamicValue = 200
	t.Cleanup(func() { dynamicValue = 100 })
	assert.Equal(t, 200, Evaluate(v))
	assert.Equal(t, 200, dynamic.Get(root))
}

func TestProducersDoNotFeedAggregators(t *testing.T) {
	r, _ := newTestRegistry(t)
	total := NewSumAggregationStat("count").In(r)
	count := NewIntStat("count").In(r)

	root := &owner{"root"}
	r.MustRegister(root, "root", total)
	c := &owner{"c"}
	r.MustRegisterChild(c, root, "c", count)

	count.SetFunc(c, func() int64 { return 40 })
	assert.Equal(t, int64(40), count.Get(c))
	assert.Zero(t, total.Get(root))

	count.Set(c, 2)
	assert.Equal(t, 2.0, total.Get(root))
}

func TestCollection(t *testing.T) {
	r, _ := newTestRegistry(t)
	count := NewIntStat("count").In(r)
	histo := NewIntDictStat("histo", false).In(r)

	c, err := r.Collection("/thePath", count, histo)
	require.NoError(t, err)
	assert.Equal(t, "/thePath", c.Path())

	count.Add(c, 100)
	histo.Add(c, "cheese", 12300)
	histo.Add(c, "cheese", 45)

	assert.Equal(t, map[string]any{
		"thePath": map[string]any{
			"count": int64(100),
			"histo": map[string]any{"cheese": int64(12345)},
		},
	}, snapshotMap(t, r, ""))
}

func TestCollapsedPaths(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.SetCollapsed("noisy/details"))

	tree := mustSnapshot(t, r, "")
	noisy, ok := Resolve(tree, "noisy")
	require.True(t, ok)
	assert.False(t, noisy.(*Tree).Collapsed())
	details, ok := Resolve(tree, "noisy", "details")
	require.True(t, ok)
	assert.True(t, details.(*Tree).Collapsed())
}

func TestReset(t *testing.T) {
	r, _ := newTestRegistry(t)
	count := NewIntStat("count").In(r)
	a := &owner{"a"}
	r.MustRegister(a, "a", count)
	count.Inc(a)

	r.Reset()

	_, ok := r.Container(a)
	assert.False(t, ok)
	_, ok = r.Snapshot("a")
	assert.False(t, ok)
	assert.Zero(t, count.Get(a))

	b := &owner{"b"}
	c := &owner{"c"}
	r.MustRegister(b, "b")
	_, err := r.RegisterNumberedChild(c, b, "n")
	require.NoError(t, err)
	_, ok = r.Snapshot("b/n/1")
	assert.True(t, ok)
}

func TestConcurrentIncrementsKeepTotals(t *testing.T) {
	r, _ := newTestRegistry(t)
	total := NewSumAggregationStat("count").In(r)
	count := NewIntStat("count").In(r)
	hist := NewHistogramAggregationStat("state", true).In(r)
	state := NewIntStat("state").In(r)

	root := &owner{"root"}
	r.MustRegister(root, "root", total, hist)

	const workers, increments = 16, 500
	children := make([]*owner, workers)
	for i := range children {
		children[i] = &owner{}
		_, err := r.RegisterNumberedChild(children[i], root, "worker", count, state)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range increments {
				count.Inc(c)
			}
		}()
		go func() {
			defer wg.Done()
			for j := range increments {
				state.Set(c, int64(j%3))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(workers*increments), total.Get(root))

	var buckets int64
	for _, n := range hist.Get(root) {
		buckets += n
	}
	var nonZero int64
	for _, c := range children {
		if state.Get(c) != 0 {
			nonZero++
		}
	}
	assert.Equal(t, nonZero, buckets)
}

func TestConcurrentWritersOnOneSlot(t *testing.T) {
	r, _ := newTestRegistry(t)
	total := NewSumAggregationStat("count").In(r)
	count := NewIntStat("count").In(r)

	root := &owner{"root"}
	r.MustRegister(root, "root", total)
	c := &owner{"c"}
	r.MustRegisterChild(c, root, "c", count)

	const workers, increments = 32, 1000
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range increments {
				count.Inc(c)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*increments), count.Get(c))
	assert.Equal(t, float64(workers*increments), total.Get(root))
}

func mustSnapshot(t *testing.T, r *Registry, path string) *Tree {
	t.Helper()
	tree, ok := r.Snapshot(path)
	require.True(t, ok)
	return tree
}
