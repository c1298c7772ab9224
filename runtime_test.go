package stattree

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeStats(t *testing.T) {
	r, _ := newTestRegistry(t)
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/proc/self/fd", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/proc/self/status",
		[]byte("Name:\tstattree\nVmPeak:\t  9000 kB\nVmRSS:\t  1024 kB\n"), 0o444))
	for _, fd := range []string{"0", "1", "2"} {
		require.NoError(t, afero.WriteFile(fs, "/proc/self/fd/"+fd, nil, 0o444))
	}

	require.NoError(t, r.RegisterRuntimeStats("/process", fs))
	stats := snapshotMap(t, r, "process")

	assert.Equal(t, int64(3), stats["file_descriptors"])
	assert.Positive(t, stats["goroutines"])

	memory, ok := stats["memory"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, uint64(1024*1024), memory["rss_bytes"])
	assert.Contains(t, memory, "heap_alloc_bytes")

	gc, ok := stats["gc"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, gc, "runs")
}

func TestRuntimeStatsWithoutProc(t *testing.T) {
	r, _ := newTestRegistry(t)
	require.NoError(t, r.RegisterRuntimeStats("process", afero.NewMemMapFs()))
	stats := snapshotMap(t, r, "process")

	assert.Equal(t, int64(0), stats["file_descriptors"])
	memory := stats["memory"].(map[string]any)
	assert.NotContains(t, memory, "rss_bytes")
}
