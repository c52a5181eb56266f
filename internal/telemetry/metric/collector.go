package metric

import "github.com/prometheus/client_golang/prometheus"

// StateFunc reports the current lifecycle state name and restore generation.
type StateFunc func() (state string, generation int)

// StateCollector exports the current lifecycle state as a gauge set.
// Exactly one state label carries the value 1 at a time.
type StateCollector struct {
	states []string
	fn     StateFunc

	stateDesc      *prometheus.Desc
	generationDesc *prometheus.Desc
}

// NewStateCollector creates a collector over the given state names.
func NewStateCollector(states []string, fn StateFunc) *StateCollector {
	return &StateCollector{
		states: states,
		fn:     fn,
		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lifecycle", "state"),
			"Current checkpoint/restore lifecycle state.",
			[]string{"state"}, nil,
		),
		generationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "lifecycle", "restore_generation"),
			"Number of restores of this process image.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.generationDesc
}

// Collect implements prometheus.Collector.
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	current, generation := c.fn()
	for _, s := range c.states {
		v := 0.0
		if s == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, v, s)
	}
	ch <- prometheus.MustNewConstMetric(c.generationDesc, prometheus.GaugeValue, float64(generation))
}
