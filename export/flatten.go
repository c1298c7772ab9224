// Package export publishes stat trees to Prometheus, either by pushing
// them to a remote-write endpoint or by serving them through a
// prometheus.Collector.
package export

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/grafana/regexp"

	"github.com/nikiz24/stattree"
)

// Source provides the trees to export. *stattree.Registry implements it.
type Source interface {
	Snapshot(path string) (*stattree.Tree, bool)
}

// Sample is one numeric leaf of a tree.
type Sample struct {
	// Path is the slash separated location of the leaf, without a leading
	// slash, e.g. "server/latency/median".
	Path string

	// Name is the path as a metric name, e.g. "server_latency_median".
	Name string

	Value float64
}

const maxNameLength = 500

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_:]+`)

// MetricName turns a stat path into a valid Prometheus metric name.
func MetricName(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(invalidNameChars.ReplaceAllString(strings.TrimSpace(s), "_"), "_")
		if s != "" {
			parts = append(parts, s)
		}
	}
	name := strings.Join(parts, "_")
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// Flatten returns the numeric leaves of t that rules permit, in tree
// order. A nil rules permits everything. Collapsed subtrees are skipped,
// and of several leaves mapping to one metric name only the first is kept.
func Flatten(t *stattree.Tree, rules *Rules) []Sample {
	var out []Sample
	seen := make(map[string]bool)
	var walk func(t *stattree.Tree, segments []string)
	walk = func(t *stattree.Tree, segments []string) {
		t.Range(func(key string, v any) bool {
			v = stattree.Evaluate(v)
			path := append(segments[:len(segments):len(segments)], key)
			if sub, ok := v.(*stattree.Tree); ok {
				if !sub.Collapsed() {
					walk(sub, path)
				}
				return true
			}
			f, ok := numeric(v)
			if !ok {
				return true
			}
			s := Sample{Path: strings.Join(path, "/"), Name: MetricName(path...), Value: f}
			if s.Name == "" || len(s.Name) >= maxNameLength || seen[s.Name] {
				return true
			}
			if rules != nil && !rules.Permits(s.Path, v) {
				return true
			}
			seen[s.Name] = true
			out = append(out, s)
			return true
		})
	}
	walk(t, nil)
	return out
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), !math.IsNaN(float64(x))
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

// ErrInvalidRule is returned for rule patterns that do not compile.
var ErrInvalidRule = errors.New("invalid export rule")

type rule struct {
	allow   bool
	pattern string
	match   func(path string, value any) bool
}

// Rules decide which stats are exported. The newest rule matching a path
// decides; a path no rule matches is forbidden. Patterns are doublestar
// globs over the slash separated path without its leading slash, so "*"
// stays within one segment and "**" spans several.
type Rules struct {
	mu    sync.RWMutex
	rules []rule
}

// Allow exports the stats matching pattern.
func (r *Rules) Allow(pattern string) error {
	return r.addPattern(true, pattern)
}

// Forbid stops exporting the stats matching pattern.
func (r *Rules) Forbid(pattern string) error {
	return r.addPattern(false, pattern)
}

// AllowFunc exports the stats for which match returns true.
func (r *Rules) AllowFunc(match func(path string, value any) bool) {
	r.add(rule{allow: true, match: match})
}

// ForbidFunc stops exporting the stats for which match returns true.
func (r *Rules) ForbidFunc(match func(path string, value any) bool) {
	r.add(rule{match: match})
}

func (r *Rules) addPattern(allow bool, pattern string) error {
	pattern = strings.TrimPrefix(pattern, "/")
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("%w: %q", ErrInvalidRule, pattern)
	}
	r.add(rule{allow: allow, pattern: pattern})
	return nil
}

func (r *Rules) add(ru rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, ru)
}

// Permits reports whether the stat at path with value v is exported.
func (r *Rules) Permits(path string, v any) bool {
	path = strings.TrimPrefix(path, "/")
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.rules) - 1; i >= 0; i-- {
		ru := r.rules[i]
		if ru.match != nil {
			if ru.match(path, v) {
				return ru.allow
			}
			continue
		}
		if ok, _ := doublestar.Match(ru.pattern, path); ok {
			return ru.allow
		}
	}
	return false
}
