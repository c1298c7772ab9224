package aggregation

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nikiz24/stattree"
)

// InclusionTest decides which files of a directory are aggregated.
type InclusionTest struct {
	// IgnorePattern is a doublestar glob matched against both the full
	// path and the base name of each file. Matching files are skipped.
	IgnorePattern string

	// MaxAge skips files last modified longer ago than this. Zero keeps
	// every file.
	MaxAge time.Duration
}

func (t InclusionTest) includes(fullPath string, info os.FileInfo, now time.Time) bool {
	if t.IgnorePattern != "" {
		if ok, _ := doublestar.Match(t.IgnorePattern, fullPath); ok {
			return false
		}
		if ok, _ := doublestar.Match(t.IgnorePattern, info.Name()); ok {
			return false
		}
	}
	if t.MaxAge > 0 && now.Sub(info.ModTime()) > t.MaxAge {
		return false
	}
	return true
}

type parsedSource struct {
	name string
	tree *stattree.Tree
}

// AddJSONDirectory adds every JSON snapshot in dir that passes test. Each
// file is a source named after the file without its extension. Files are
// parsed in parallel and added in directory order; files that do not
// parse are skipped. Read failures are returned together once every other
// file has been added.
func (a *Aggregation) AddJSONDirectory(fs afero.Fs, dir string, test InclusionTest) error {
	if test.IgnorePattern != "" && !doublestar.ValidatePattern(test.IgnorePattern) {
		return fmt.Errorf("ignore pattern %q: %w", test.IgnorePattern, doublestar.ErrBadPattern)
	}
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", dir, err)
	}

	now := a.clock.Now()
	var files []os.FileInfo
	for _, info := range entries {
		if info.IsDir() {
			continue
		}
		if !test.includes(path.Join(dir, info.Name()), info, now) {
			a.logger.Debug("skipping excluded file", zap.String("file", info.Name()))
			continue
		}
		files = append(files, info)
	}

	parsed := make([]parsedSource, len(files))
	readErrs := make([]error, len(files))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, info := range files {
		g.Go(func() error {
			fullPath := path.Join(dir, info.Name())
			f, err := fs.Open(fullPath)
			if err != nil {
				readErrs[i] = fmt.Errorf("open %s: %w", fullPath, err)
				return nil
			}
			defer f.Close()
			t, err := stattree.ParseJSON(f)
			if err != nil {
				a.logger.Debug("skipping unparsable file", zap.String("file", fullPath), zap.Error(err))
				return nil
			}
			name := strings.TrimSuffix(info.Name(), path.Ext(info.Name()))
			parsed[i] = parsedSource{name: name, tree: t}
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range parsed {
		if p.tree != nil {
			a.AddTree(p.name, p.tree)
		}
	}
	return multierr.Combine(readErrs...)
}
