package export

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector serves the numeric stats of a source as gauges on scrape. It
// is an unchecked collector: the metric set follows the tree, so Describe
// sends nothing.
type Collector struct {
	Rules

	source    Source
	root      string
	namespace string
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for the subtree of source at root. Metric
// names are prefixed with namespace when it is set. Nothing is collected
// until a rule allows it.
func NewCollector(source Source, root, namespace string) *Collector {
	return &Collector{source: source, root: root, namespace: MetricName(namespace)}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(m chan<- prometheus.Metric) {
	t, ok := c.source.Snapshot(c.root)
	if !ok {
		return
	}
	for _, s := range Flatten(t, &c.Rules) {
		name := s.Name
		if c.namespace != "" {
			name = c.namespace + "_" + name
		}
		desc := prometheus.NewDesc(name, "Stat at /"+s.Path+".", nil, nil)
		m <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, s.Value)
	}
}
