package metrics

import (
	vm "github.com/VictoriaMetrics/metrics"
)

// Counter counts monotonically increasing events.
type Counter struct {
	*metricBase
	*vm.Counter
}

// NewCounter creates and registers a counter with the given ID and labels.
func NewCounter(id string, labels map[string]string, opts *Options) (*Counter, error) {
	base, err := newMetricBase(id, labels, opts)
	if err != nil {
		return nil, err
	}

	m := &Counter{metricBase: base}
	m.Counter = m.set.NewCounter(m.LabeledID())
	if err := register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CurrentValue returns the current count.
func (c *Counter) CurrentValue() uint64 {
	return c.Get()
}
