package export

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	src := staticSource{tree(
		"server", tree("requests", int64(12), "up", true, "name", "web1"),
		"debug", tree("allocs", 5),
	)}
	c := NewCollector(src, "", "stats")

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, c.Allow("**"))
	require.NoError(t, c.Forbid("debug/**"))

	expected := `
# HELP stats_server_requests Stat at /server/requests.
# TYPE stats_server_requests gauge
stats_server_requests 12
# HELP stats_server_up Stat at /server/up.
# TYPE stats_server_up gauge
stats_server_up 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))
}

func TestCollectorRoot(t *testing.T) {
	src := staticSource{tree("server", tree("requests", 3))}
	c := NewCollector(src, "server", "")
	require.NoError(t, c.Allow("**"))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP requests Stat at /requests.
# TYPE requests gauge
requests 3
`)))

	missing := NewCollector(src, "client", "")
	require.NoError(t, missing.Allow("**"))
	reg = prometheus.NewRegistry()
	require.NoError(t, reg.Register(missing))
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Zero(t, count)
}
