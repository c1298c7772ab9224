package aggregation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/grafana/regexp"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSpec is returned for spec documents that cannot be loaded.
var ErrInvalidSpec = errors.New("invalid aggregation spec")

// leafConfig is the mapping form of a leaf aggregator entry.
type leafConfig struct {
	Type    string `yaml:"type"`
	Name    string `yaml:"name"`
	Format  string `yaml:"format"`
	Reverse bool   `yaml:"reverse"`
	By      string `yaml:"by"`
	Pick    string `yaml:"pick"`
}

// ParseSpec loads a spec from YAML. Mappings become nodes and sequences
// become leaves. A mapping key is a literal data key, "*" for every key,
// or "label =~ pattern" to group the keys matching pattern under label.
// Leaf entries are aggregator types (average, sum, inverse, sorted,
// highlight) or mappings with type, name, format, reverse, by (source or
// value, for sorted) and pick (max or min, for highlight):
//
//	http_hits:
//	  "ok =~ [1-3]\\d\\d": [{type: sum, format: direct}]
//	  "err =~ [4-5]\\d\\d": [{type: sum, format: direct}]
//	latency:
//	  "*": [average, {type: highlight, name: slowest, pick: max}]
func ParseSpec(data []byte) (Spec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidSpec)
	}
	return parseSpecNode(doc.Content[0])
}

func parseSpecNode(n *yaml.Node) (Spec, error) {
	switch n.Kind {
	case yaml.MappingNode:
		node := Node()
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			next, err := parseSpecNode(value)
			if err != nil {
				return nil, err
			}
			b, err := parseBranch(key.Value, next)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", key.Line, err)
			}
			node.Branches = append(node.Branches, b)
		}
		return node, nil
	case yaml.SequenceNode:
		leaf := Leaf()
		for _, item := range n.Content {
			agg, err := parseAggregator(item)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", item.Line, err)
			}
			leaf.Aggregators = append(leaf.Aggregators, agg)
		}
		return leaf, nil
	case yaml.AliasNode:
		return parseSpecNode(n.Alias)
	}
	return nil, fmt.Errorf("%w: line %d: expected a mapping or a list", ErrInvalidSpec, n.Line)
}

func parseBranch(key string, next Spec) (Branch, error) {
	if key == "*" {
		return Wildcard(next), nil
	}
	label, pattern, grouped := strings.Cut(key, "=~")
	if !grouped {
		return Key(key, next), nil
	}
	label, pattern = strings.TrimSpace(label), strings.TrimSpace(pattern)
	if label == "" {
		return Branch{}, fmt.Errorf("%w: group %q has no label", ErrInvalidSpec, key)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return Branch{}, fmt.Errorf("%w: group %q: %w", ErrInvalidSpec, label, err)
	}
	return Group(label, pattern, next), nil
}

func parseAggregator(n *yaml.Node) (Aggregator, error) {
	var cfg leafConfig
	switch n.Kind {
	case yaml.ScalarNode:
		cfg.Type = n.Value
	case yaml.MappingNode:
		if err := n.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
		}
	default:
		return nil, fmt.Errorf("%w: expected an aggregator", ErrInvalidSpec)
	}

	format, ok := FormatByName(cfg.Format)
	if !ok {
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidSpec, cfg.Format)
	}

	var agg Aggregator
	switch cfg.Type {
	case "average":
		agg = Average(format)
	case "sum":
		agg = Sum(format)
	case "inverse":
		agg = KeyedInverse(format)
	case "sorted":
		var opts []SortOption
		switch cfg.By {
		case "", "source":
		case "value":
			opts = append(opts, ByValue())
		default:
			return nil, fmt.Errorf("%w: unknown sort order %q", ErrInvalidSpec, cfg.By)
		}
		if cfg.Reverse {
			opts = append(opts, Reverse())
		}
		agg = Sorted(format, opts...)
	case "highlight":
		better := Max
		switch cfg.Pick {
		case "", "max":
		case "min":
			better = Min
		default:
			return nil, fmt.Errorf("%w: unknown pick %q", ErrInvalidSpec, cfg.Pick)
		}
		name := cfg.Name
		if name == "" {
			name = "highlight"
		}
		return Highlight(name, format, better), nil
	default:
		return nil, fmt.Errorf("%w: unknown aggregator %q", ErrInvalidSpec, cfg.Type)
	}
	if cfg.Name != "" {
		agg = Rename(agg, cfg.Name)
	}
	return agg, nil
}
