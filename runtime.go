package stattree

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

var (
	goroutinesStat      = NewIntStat("goroutines")
	fileDescriptorsStat = NewIntStat("file_descriptors")
	memoryStat          = NewStat("memory", nil)
	gcStat              = NewStat("gc", nil)
)

// processStats is the owner of the runtime stats. Process files are read
// through fs so tests can supply their own /proc.
type processStats struct {
	fs afero.Fs
}

// RegisterRuntimeStats exposes goroutine, memory, GC and file descriptor
// figures for the current process at path. They are computed on render.
// A nil fs reads the real /proc.
func (r *Registry) RegisterRuntimeStats(path string, fs afero.Fs) error {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	p := &processStats{fs: fs}
	goroutines := goroutinesStat.In(r)
	fds := fileDescriptorsStat.In(r)
	memory := memoryStat.In(r)
	gc := gcStat.In(r)
	if _, err := r.Register(p, path, goroutines, memory, gc, fds); err != nil {
		return err
	}

	goroutines.SetFunc(p, func() int64 { return int64(runtime.NumGoroutine()) })
	memory.SetFunc(p, func() any { return p.memory() })
	gc.SetFunc(p, func() any { return p.gc() })
	fds.SetFunc(p, func() int64 { return int64(p.openFileDescriptors()) })
	return nil
}

func (p *processStats) memory() *Tree {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	t := NewTree()
	t.Set("alloc_bytes", ms.Alloc)
	t.Set("sys_bytes", ms.Sys)
	t.Set("heap_alloc_bytes", ms.HeapAlloc)
	t.Set("heap_inuse_bytes", ms.HeapInuse)
	t.Set("heap_sys_bytes", ms.HeapSys)
	t.Set("stack_inuse_bytes", ms.StackInuse)
	t.Set("stack_sys_bytes", ms.StackSys)
	if rss := p.residentSetSize(); rss > 0 {
		t.Set("rss_bytes", rss)
	}
	return t
}

func (p *processStats) gc() *Tree {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	t := NewTree()
	t.Set("runs", int64(ms.NumGC))
	t.Set("pause_total_ns", ms.PauseTotalNs)
	t.Set("last_gc_unix_ns", ms.LastGC)
	return t
}

// residentSetSize returns VmRSS from /proc/self/status in bytes, or zero
// where that file does not exist.
func (p *processStats) residentSetSize() uint64 {
	data, err := afero.ReadFile(p.fs, "/proc/self/status")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

func (p *processStats) openFileDescriptors() int {
	entries, err := afero.ReadDir(p.fs, "/proc/self/fd")
	if err != nil {
		return 0
	}
	return len(entries)
}
