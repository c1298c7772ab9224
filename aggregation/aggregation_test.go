package aggregation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nikiz24/stattree"
)

func TestWildcardOverEmptyData(t *testing.T) {
	agg := New(Node(
		Key("a", Node(Wildcard(Leaf(Sum(nil))))),
	))
	agg.AddSource("source1", map[string]any{"a": map[string]any{}})
	assert.Zero(t, agg.Result().Len())
}

func TestRegexGroups(t *testing.T) {
	agg := New(Node(
		Key("a", Node(
			Group("success", `[1-3][0-9][0-9]`, Leaf(Sum(Direct))),
			Group("error", `[4-5][0-9][0-9]`, Leaf(Sum(Direct))),
		)),
	))
	agg.AddSource("source1", map[string]any{
		"a": map[string]any{"200": 10, "302": 10, "404": 1, "500": 3},
	})

	assert.Equal(t, map[string]any{
		"a": map[string]any{
			"success": map[string]any{"sum": int64(20)},
			"error":   map[string]any{"sum": int64(4)},
		},
	}, agg.Result().Map())
}

func TestGroupPatternIsAnchored(t *testing.T) {
	agg := New(Node(Group("two", `2`, Leaf(Sum(Direct)))))
	agg.AddSource("s", map[string]any{"200": 1, "120": 5})
	v, ok := stattree.Resolve(agg.Result(), "two", "sum")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
}

func TestWildcardAcrossSources(t *testing.T) {
	agg := New(Node(
		Key("latency", Node(Wildcard(Leaf(Average(nil), Highlight("slowest", nil, Max))))),
	))
	agg.AddSource("web1", map[string]any{
		"latency": map[string]any{
			"get":  map[string]any{"count": 10, "average": 1.5},
			"post": map[string]any{"count": 2, "average": 4.0},
		},
	})
	agg.AddSource("web2", map[string]any{
		"latency": map[string]any{
			"get": map[string]any{"count": 30, "average": 0.5},
		},
	})
	agg.AddSource("web3", map[string]any{"unrelated": 1})

	assert.Equal(t, map[string]any{
		"latency": map[string]any{
			"get": map[string]any{
				"average": map[string]any{"count": int64(40), "total": 30.0, "average": 0.75},
				"slowest": map[string]any{"source": "web1", "value": 1.5},
			},
			"post": map[string]any{
				"average": map[string]any{"count": int64(2), "total": 8.0, "average": 4.0},
				"slowest": map[string]any{"source": "web1", "value": 4.0},
			},
		},
	}, agg.Result().Map())
}

func TestAverageFallsBackToPlainNumbers(t *testing.T) {
	avg := Average(nil)
	avg.Add("a", 3)
	avg.Add("b", int64(5))
	avg.Add("c", "not a number")
	avg.Add("d", nil)

	assert.Equal(t, map[string]any{"count": int64(2), "total": int64(8), "average": 4.0},
		avg.Result().(*stattree.Tree).Map())

	empty := Average(nil).Result().(*stattree.Tree).Map()
	assert.Equal(t, 0.0, empty["average"])
}

func TestKeyedInverse(t *testing.T) {
	agg := New(Node(Key("version", Leaf(KeyedInverse(Direct)))))
	for _, src := range []struct{ name, version string }{
		{"host10", "1.2"},
		{"host9", "1.2"},
		{"host1", "1.3"},
		{"host2", "1.2"},
	} {
		agg.AddSource(src.name, map[string]any{"version": src.version})
	}

	inverse, ok := stattree.Resolve(agg.Result(), "version", "inverse")
	require.True(t, ok)
	assert.Equal(t, []string{"1.2", "1.3"}, inverse.(*stattree.Tree).Keys())
	assert.Equal(t, map[string]any{
		"1.2": []any{"host2", "host9", "host10"},
		"1.3": []any{"host1"},
	}, inverse.(*stattree.Tree).Map())
}

func TestSorted(t *testing.T) {
	values := map[string]any{"b": 3, "a10": 1, "a9": 2}
	feed := func(s *SortedAggregator) *SortedAggregator {
		for _, name := range []string{"b", "a10", "a9"} {
			s.Add(name, values[name])
		}
		return s
	}

	assert.Equal(t, []any{
		[]any{"a9", 2}, []any{"a10", 1}, []any{"b", 3},
	}, feed(Sorted(Direct)).Result())

	assert.Equal(t, []any{
		[]any{"b", 3}, []any{"a9", 2}, []any{"a10", 1},
	}, feed(Sorted(Direct, ByValue(), Reverse())).Result())

	byNameLength := KeyBy(func(p Pair) any { return len(p.Source) })
	assert.Equal(t, []Pair{
		{"b", 3}, {"a9", 2}, {"a10", 1},
	}, feed(Sorted(Direct, byNameLength)).Pairs())

	clone := feed(Sorted(Direct, Reverse())).Clone().(*SortedAggregator)
	assert.Empty(t, clone.Result())
	assert.Equal(t, []any{
		[]any{"b", 3}, []any{"a10", 1}, []any{"a9", 2},
	}, feed(clone).Result())
}

func TestHighlight(t *testing.T) {
	h := Highlight("fastest", Direct, Min)
	assert.Equal(t, map[string]any{"source": nil, "value": nil}, h.Result().(*stattree.Tree).Map())

	h.Add("a", 5)
	h.Add("b", 2)
	h.Add("c", 2)
	h.Add("d", 9)
	assert.Equal(t, map[string]any{"source": "b", "value": 2}, h.Result().(*stattree.Tree).Map())
	assert.Equal(t, "fastest", h.Clone().Name())
}

func TestFormats(t *testing.T) {
	timer := map[string]any{
		"type":     "timer",
		"rate":     map[string]any{"count": int64(4)},
		"duration": map[string]any{"median": 0.2, "mean": 0.3},
	}
	avg := Average(Timer)
	avg.Add("a", timer)
	assert.Equal(t, int64(4), avg.Result().(*stattree.Tree).Map()["count"])

	v, ok := TimerMean.Value(timer)
	require.True(t, ok)
	assert.Equal(t, 0.3, v)

	_, ok = Counter.Value(timer)
	assert.False(t, ok)

	_, ok = Gauge.Count(map[string]any{"type": "gauge", "value": 1})
	assert.False(t, ok)
	v, ok = Gauge.Value(map[string]any{"type": "gauge", "value": 1})
	require.True(t, ok)
	assert.Equal(t, 1, v)

	meter := stattree.NewTree()
	meter.Set("type", "meter")
	meter.Set("count", int64(7))
	meter.Set("mean", 1.25)
	sum := Sum(Meter)
	sum.Add("a", meter)
	sum.Add("b", meter)
	assert.Equal(t, 2.5, sum.Result())

	for _, name := range []string{"default", "direct", "timer", "timer_mean", "counter", "meter", "gauge"} {
		_, ok := FormatByName(name)
		assert.True(t, ok, name)
	}
	_, ok = FormatByName("yammer")
	assert.False(t, ok)
}

func TestRenamedAggregatorsKeepTheirName(t *testing.T) {
	agg := New(Node(Key("x", Leaf(Rename(Sum(Direct), "total"), Sum(Direct)))))
	agg.AddSource("a", map[string]any{"x": 2})
	agg.AddSource("b", map[string]any{"x": 3})

	assert.Equal(t, map[string]any{
		"x": map[string]any{"total": int64(5), "sum": int64(5)},
	}, agg.Result().Map())
}

func TestAddTreeFromSnapshot(t *testing.T) {
	r := stattree.NewRegistry(stattree.Config{Logger: zaptest.NewLogger(t), Clock: quartz.NewMock(t)})
	requests := stattree.NewIntStat("requests").In(r)
	c, err := r.Collection("server", requests)
	require.NoError(t, err)
	requests.Add(c, 12)

	snapshot, ok := r.Snapshot("")
	require.True(t, ok)

	agg := New(Node(Key("server", Node(Key("requests", Leaf(Sum(Direct)))))))
	agg.AddTree("proc1", snapshot)
	agg.AddTree("proc2", snapshot)

	v, ok := stattree.Resolve(agg.Result(), "server", "requests", "sum")
	require.True(t, ok)
	assert.Equal(t, int64(24), v)
}

func writeSnapshot(t *testing.T, fs afero.Fs, name, body string, mtime time.Time) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, "/stats/"+name, []byte(body), 0o644))
	require.NoError(t, fs.Chtimes("/stats/"+name, mtime, mtime))
}

func TestAddJSONDirectory(t *testing.T) {
	clock := quartz.NewMock(t)
	now := clock.Now()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/stats/archive", 0o755))

	writeSnapshot(t, fs, "web1.json", `{"hits": 3}`, now)
	writeSnapshot(t, fs, "web2.json", `{"hits": 4}`, now.Add(-time.Minute))
	writeSnapshot(t, fs, "stale.json", `{"hits": 100}`, now.Add(-2*time.Hour))
	writeSnapshot(t, fs, "web3.json.tmp", `{"hits": 50}`, now)
	writeSnapshot(t, fs, "broken.json", `{"hits": `, now)

	agg := New(Node(Key("hits", Leaf(Sum(Direct), KeyedInverse(Direct)))),
		WithClock(clock), WithLogger(zaptest.NewLogger(t)))
	err := agg.AddJSONDirectory(fs, "/stats", InclusionTest{
		IgnorePattern: "*.tmp",
		MaxAge:        time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"hits": map[string]any{
			"sum":     int64(7),
			"inverse": map[string]any{"3": []any{"web1"}, "4": []any{"web2"}},
		},
	}, agg.Result().Map())
}

func TestAddJSONDirectoryErrors(t *testing.T) {
	agg := New(Node())
	fs := afero.NewMemMapFs()

	err := agg.AddJSONDirectory(fs, "/missing", InclusionTest{})
	assert.Error(t, err)

	require.NoError(t, fs.MkdirAll("/stats", 0o755))
	err = agg.AddJSONDirectory(fs, "/stats", InclusionTest{IgnorePattern: "[unclosed"})
	assert.Error(t, err)
}

func TestConcurrentSources(t *testing.T) {
	agg := New(Node(Wildcard(Leaf(Sum(Direct)))))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	for i := range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for range 100 {
				agg.AddSource(strings.Repeat("s", i+1), map[string]any{"n": 1})
			}
		}()
	}
	for range 8 {
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("timed out")
		}
	}

	v, ok := stattree.Resolve(agg.Result(), "n", "sum")
	require.True(t, ok)
	assert.Equal(t, int64(800), v)
}
