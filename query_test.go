package stattree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const queryFixture = `{
  "server": {
    "requests": {"count": 10, "errors": 2},
    "name": "alpha",
    "up": true,
    "latency": {"mean": 0.25}
  },
  "worker": {"count": 3, "name": "beta"}
}`

func TestFilter(t *testing.T) {
	tree, err := ParseJSON(strings.NewReader(queryFixture))
	require.NoError(t, err)

	tests := []struct {
		query string
		want  map[string]any
	}{
		{
			query: "count",
			want: map[string]any{
				"server": map[string]any{"requests": map[string]any{"count": int64(10)}},
				"worker": map[string]any{"count": int64(3)},
			},
		},
		{
			query: "count>5",
			want: map[string]any{
				"server": map[string]any{"requests": map[string]any{"count": int64(10)}},
			},
		},
		{
			query: "count <= 3",
			want: map[string]any{
				"worker": map[string]any{"count": int64(3)},
			},
		},
		{
			query: "name=beta",
			want: map[string]any{
				"worker": map[string]any{"name": "beta"},
			},
		},
		{
			query: "name!=beta",
			want: map[string]any{
				"server": map[string]any{"name": "alpha"},
			},
		},
		{
			query: "up==true",
			want: map[string]any{
				"server": map[string]any{"up": true},
			},
		},
		{
			query: "up>true",
			want:  map[string]any{},
		},
		{
			query: "mean<0.5",
			want: map[string]any{
				"server": map[string]any{"latency": map[string]any{"mean": 0.25}},
			},
		},
		{
			query: "count>abc",
			want:  map[string]any{},
		},
		{
			query: "requests",
			want: map[string]any{
				"server": map[string]any{
					"requests": map[string]any{"count": int64(10), "errors": int64(2)},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := Filter(tree, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Map())
		})
	}
}

func TestFilterNestedMaps(t *testing.T) {
	tree := NewTree()
	tree.Set("plain", map[string]any{
		"inner": map[string]any{"hits": int64(4)},
	})
	got, err := Filter(tree, "hits>=4")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"plain": map[string]any{"inner": map[string]any{"hits": int64(4)}},
	}, got.Map())
}

func TestFilterInvalidQueries(t *testing.T) {
	for _, query := range []string{"", "   ", "=5", "a>b>c", "a==b=c"} {
		_, err := Filter(NewTree(), query)
		assert.ErrorIs(t, err, ErrInvalidQuery, "query %q", query)
	}
}
